package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/koopa0/system-design/14-realtime-pong/internal/game"
	apperrors "github.com/koopa0/system-design/14-realtime-pong/pkg/errors"
)

// 伺服器訊息類型
const (
	TypeRoomCreated  = "room_created"
	TypePlayerJoined = "player_joined"
	TypeStartGame    = "start_game"
	TypeGameUpdate   = "game_update"
	TypeGameEnd      = "game_end"
	TypePlayerLeft   = "player_left"
	TypeRoomClosed   = "room_closed"
	TypeError        = "error"
)

// ServerMessage 伺服器訊息
type ServerMessage interface {
	MessageType() string
}

type RoomCreated struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

type PlayerJoined struct {
	Type    string   `json:"type"`
	Players []string `json:"players"`
}

type StartGame struct {
	Type string `json:"type"`
}

// GameState game_update 中的狀態
type GameState struct {
	Ball    game.Ball  `json:"ball"`
	Paddles [2]float64 `json:"paddles"`
	Scores  [2]int     `json:"scores"`
}

type GameUpdate struct {
	Type       string    `json:"type"`
	GameState  GameState `json:"gameState"`
	ScoreEvent bool      `json:"scoreEvent"`
}

type GameEnd struct {
	Type   string `json:"type"`
	Winner int    `json:"winner"`
	Scores [2]int `json:"scores"`
}

type PlayerLeft struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type RoomClosed struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Error 錯誤回覆；Code 為機器可讀的錯誤碼
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (RoomCreated) MessageType() string  { return TypeRoomCreated }
func (PlayerJoined) MessageType() string { return TypePlayerJoined }
func (StartGame) MessageType() string    { return TypeStartGame }
func (GameUpdate) MessageType() string   { return TypeGameUpdate }
func (GameEnd) MessageType() string      { return TypeGameEnd }
func (PlayerLeft) MessageType() string   { return TypePlayerLeft }
func (RoomClosed) MessageType() string   { return TypeRoomClosed }
func (Error) MessageType() string        { return TypeError }

func NewRoomCreated(roomID, username string) RoomCreated {
	return RoomCreated{Type: TypeRoomCreated, RoomID: roomID, Username: username}
}

func NewPlayerJoined(players []string) PlayerJoined {
	return PlayerJoined{Type: TypePlayerJoined, Players: players}
}

func NewStartGame() StartGame {
	return StartGame{Type: TypeStartGame}
}

// NewGameUpdate 由快照建立 game_update
func NewGameUpdate(s game.Snapshot) GameUpdate {
	return GameUpdate{
		Type: TypeGameUpdate,
		GameState: GameState{
			Ball:    s.Ball,
			Paddles: s.Paddles,
			Scores:  s.Scores,
		},
		ScoreEvent: s.ScoreEvent,
	}
}

func NewGameEnd(r game.Result) GameEnd {
	return GameEnd{Type: TypeGameEnd, Winner: r.Winner, Scores: r.Scores}
}

func NewPlayerLeft(message string) PlayerLeft {
	return PlayerLeft{Type: TypePlayerLeft, Message: message}
}

func NewRoomClosed(message string) RoomClosed {
	return RoomClosed{Type: TypeRoomClosed, Message: message}
}

// NewError 由錯誤建立回覆；非 AppError 只回覆通用訊息
func NewError(err error) Error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return Error{Type: TypeError, Message: appErr.Message, Code: appErr.Code}
	}
	return Error{Type: TypeError, Message: apperrors.ErrInternal.Message, Code: apperrors.ErrCodeInternal}
}

// Snapshot 轉回遊戲快照，用戶端使用
func (u GameUpdate) Snapshot() game.Snapshot {
	return game.Snapshot{
		Ball:       u.GameState.Ball,
		Paddles:    u.GameState.Paddles,
		Scores:     u.GameState.Scores,
		ScoreEvent: u.ScoreEvent,
	}
}

// DecodeServer 解碼伺服器訊框
func DecodeServer(data []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode server message: %w", err)
	}
	if env.Type == nil {
		return nil, fmt.Errorf("decode server message: missing type")
	}

	var msg ServerMessage
	switch *env.Type {
	case TypeRoomCreated:
		msg = &RoomCreated{}
	case TypePlayerJoined:
		msg = &PlayerJoined{}
	case TypeStartGame:
		msg = &StartGame{}
	case TypeGameUpdate:
		msg = &GameUpdate{}
	case TypeGameEnd:
		msg = &GameEnd{}
	case TypePlayerLeft:
		msg = &PlayerLeft{}
	case TypeRoomClosed:
		msg = &RoomClosed{}
	case TypeError:
		msg = &Error{}
	default:
		return nil, fmt.Errorf("decode server message: unknown type %q", *env.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", *env.Type, err)
	}
	return msg, nil
}
