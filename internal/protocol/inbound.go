// Package protocol 定義 WebSocket 上的 JSON 訊息。
//
// 每個訊框是一個帶 type 欄位的 JSON 物件。用戶端訊息解碼成封閉的
// ClientMessage 集合（Create、Join、PaddleInput），欄位型別錯誤或缺漏
// 一律在這裡以 PROTOCOL_ERROR 拒絕，不會進入對局。
package protocol

import (
	"encoding/json"
	"regexp"
	"strings"

	apperrors "github.com/koopa0/system-design/14-realtime-pong/pkg/errors"
)

// 用戶端訊息類型
const (
	TypeCreate      = "create"
	TypeJoin        = "join"
	TypePaddleInput = "paddle_input"
)

// 房間碼：大寫字母與數字，固定 6 碼
const (
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	CodeLength   = 6
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// ClientMessage 用戶端訊息
type ClientMessage interface {
	clientMessage()
}

// Create 建立房間
type Create struct{}

// Join 加入房間
type Join struct {
	Room string
}

// PaddleInput 球拍操作
type PaddleInput struct {
	Up   bool
	Down bool
}

func (Create) clientMessage()      {}
func (Join) clientMessage()        {}
func (PaddleInput) clientMessage() {}

type envelope struct {
	Type *string `json:"type"`
}

type joinFields struct {
	Room *string `json:"room"`
}

type paddleFields struct {
	Up   *bool `json:"up"`
	Down *bool `json:"down"`
}

// DecodeClient 解碼一個用戶端訊框
func DecodeClient(data []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, apperrors.Protocol("malformed message")
	}
	if env.Type == nil {
		return nil, apperrors.Protocol("missing message type")
	}

	switch *env.Type {
	case TypeCreate:
		return Create{}, nil

	case TypeJoin:
		var f joinFields
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, apperrors.Protocol("join: room must be a string")
		}
		if f.Room == nil {
			return nil, apperrors.Protocol("join: missing room")
		}
		return Join{Room: *f.Room}, nil

	case TypePaddleInput:
		var f paddleFields
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, apperrors.Protocol("paddle_input: up and down must be booleans")
		}
		if f.Up == nil || f.Down == nil {
			return nil, apperrors.Protocol("paddle_input: missing up or down")
		}
		return PaddleInput{Up: *f.Up, Down: *f.Down}, nil

	default:
		return nil, apperrors.Protocol("unknown message type %q", *env.Type)
	}
}

// NormalizeRoomCode 去除空白並轉大寫
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidRoomCode 檢查房間碼格式
func ValidRoomCode(code string) bool {
	return codePattern.MatchString(code)
}
