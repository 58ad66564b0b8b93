package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gdamore/tcell"
	"github.com/mattn/go-runewidth"

	"github.com/koopa0/system-design/14-realtime-pong/internal/client"
	"github.com/koopa0/system-design/14-realtime-pong/internal/game"
	"github.com/koopa0/system-design/14-realtime-pong/internal/protocol"
)

const (
	BallSymbol   = 0x25CF // 球符號
	PaddleSymbol = 0x2588 // 球拍符號

	frameInterval = 33 * time.Millisecond
	// 終端機沒有放開按鍵的事件：最後一次按下後這段時間內視為按住
	holdWindow = 150 * time.Millisecond
	dialWait   = 5 * time.Second
)

type mode int

const (
	modeMenu mode = iota
	modeEnterCode
	modeWaiting
	modePlaying
)

// heldKeys 以最後按下時間推算按住狀態
type heldKeys struct {
	up, down time.Time
}

func (h *heldKeys) press(up bool, now time.Time) {
	if up {
		h.up, h.down = now, time.Time{}
		return
	}
	h.down, h.up = now, time.Time{}
}

func (h *heldKeys) input(now time.Time) game.Input {
	return game.Input{
		Up:   !h.up.IsZero() && now.Sub(h.up) < holdWindow,
		Down: !h.down.IsZero() && now.Sub(h.down) < holdWindow,
	}
}

type ui struct {
	screen tcell.Screen
	url    string
	opts   client.Options
	logger *slog.Logger
	params game.Params

	client *client.Client
	msgs   chan protocol.ServerMessage
	lost   chan error

	mode    mode
	code    strings.Builder
	status  string
	players []string
	keys    heldKeys
	quit    bool
}

func newUI(screen tcell.Screen, url string, opts client.Options, logger *slog.Logger) *ui {
	u := &ui{
		screen: screen,
		url:    url,
		logger: logger,
		params: game.DefaultParams(),
		msgs:   make(chan protocol.ServerMessage, 64),
		lost:   make(chan error, 1),
		status: "c 建立房間　j 加入房間　q 離開",
	}
	opts.OnMessage = func(m protocol.ServerMessage) {
		// game_update 以內插器為準，不需要進 UI 佇列
		if _, ok := m.(*protocol.GameUpdate); ok {
			return
		}
		u.msgs <- m
	}
	opts.OnLost = func(err error) {
		select {
		case u.lost <- err:
		default:
		}
	}
	u.opts = opts
	return u
}

// ensureClient 沒有可用連線時重新撥號
func (u *ui) ensureClient() bool {
	if u.client != nil {
		switch u.client.State() {
		case client.StateConnected, client.StateReconnecting:
			return true
		}
		_ = u.client.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialWait)
	defer cancel()

	c := client.New(u.url, u.opts, u.logger)
	if err := c.Connect(ctx); err != nil {
		u.logger.Warn("connect failed", "url", u.url, "error", err)
		u.status = "無法連線到伺服器"
		return false
	}
	u.client = c
	return true
}

func (u *ui) create() {
	if !u.ensureClient() {
		return
	}
	if err := u.client.Create(); err != nil {
		u.status = fmt.Sprintf("建立房間失敗：%v", err)
		return
	}
	u.mode = modeWaiting
	u.status = "建立房間中..."
}

func (u *ui) join(code string) {
	if !u.ensureClient() {
		return
	}
	if err := u.client.Join(code); err != nil {
		u.status = fmt.Sprintf("加入房間失敗：%v", err)
		return
	}
	u.mode = modeWaiting
	u.status = "加入房間 " + protocol.NormalizeRoomCode(code) + "..."
}

func (u *ui) toMenu(status string) {
	u.mode = modeMenu
	u.players = nil
	u.status = status
}

func (u *ui) run() {
	// 建立一個 goroutine 去監聽鍵盤的事件
	events := make(chan tcell.Event, 16)
	go func() {
		for {
			ev := u.screen.PollEvent()
			if ev == nil {
				return
			}
			events <- ev
		}
	}()

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for !u.quit {
		select {
		case ev := <-events:
			u.handleEvent(ev, time.Now())
		case m := <-u.msgs:
			u.handleMessage(m)
		case err := <-u.lost:
			u.logger.Warn("connection lost", "error", err)
			u.toMenu("連線中斷，按 c 或 j 重新開始")
		case now := <-ticker.C:
			if u.mode == modePlaying && u.client != nil {
				if err := u.client.SetInput(u.keys.input(now), now); err != nil {
					u.logger.Debug("send input", "error", err)
				}
			}
			u.draw(now)
		}
	}

	if u.client != nil {
		_ = u.client.Close()
	}
}

func (u *ui) handleEvent(ev tcell.Event, now time.Time) {
	switch ev := ev.(type) {
	case *tcell.EventResize:
		u.screen.Sync()
	case *tcell.EventKey:
		if ev.Key() == tcell.KeyCtrlC {
			u.quit = true
			return
		}
		switch u.mode {
		case modeMenu:
			switch ev.Rune() {
			case 'c':
				u.create()
			case 'j':
				u.mode = modeEnterCode
				u.code.Reset()
				u.status = "輸入房間碼後按 Enter（Esc 取消）"
			case 'q':
				u.quit = true
			}
		case modeEnterCode:
			u.handleCodeKey(ev)
		case modeWaiting, modePlaying:
			switch {
			case ev.Key() == tcell.KeyUp || ev.Rune() == 'w':
				u.keys.press(true, now)
			case ev.Key() == tcell.KeyDown || ev.Rune() == 's':
				u.keys.press(false, now)
			case ev.Key() == tcell.KeyEscape || ev.Rune() == 'q':
				if u.client != nil {
					_ = u.client.Close()
					u.client = nil
				}
				u.toMenu("已離開房間")
			}
		}
	}
}

func (u *ui) handleCodeKey(ev *tcell.EventKey) {
	switch ev.Key() {
	case tcell.KeyEscape:
		u.toMenu("c 建立房間　j 加入房間　q 離開")
	case tcell.KeyEnter:
		code := u.code.String()
		if !protocol.ValidRoomCode(protocol.NormalizeRoomCode(code)) {
			u.status = "房間碼必須是 6 個英數字元"
			return
		}
		u.join(code)
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		s := u.code.String()
		if s != "" {
			u.code.Reset()
			u.code.WriteString(s[:len(s)-1])
		}
	case tcell.KeyRune:
		if u.code.Len() < 6 {
			u.code.WriteRune(ev.Rune())
		}
	}
}

func (u *ui) handleMessage(m protocol.ServerMessage) {
	switch m := m.(type) {
	case *protocol.RoomCreated:
		u.status = fmt.Sprintf("房間碼 %s，等待對手加入（你是 %s）", m.RoomID, m.Username)
	case *protocol.PlayerJoined:
		u.players = m.Players
		u.status = "玩家：" + strings.Join(m.Players, " vs ")
	case *protocol.StartGame:
		u.mode = modePlaying
		u.keys = heldKeys{}
		u.status = "開始！w/s 或上下鍵移動，q 離開"
	case *protocol.GameEnd:
		u.toMenu(fmt.Sprintf("遊戲結束：%s 獲勝（%d : %d）", u.playerName(m.Winner), m.Scores[0], m.Scores[1]))
	case *protocol.PlayerLeft:
		u.mode = modeWaiting
		u.status = m.Message + "，等待重新加入..."
	case *protocol.RoomClosed:
		u.toMenu(m.Message)
	case *protocol.Error:
		if u.mode == modeWaiting && u.client != nil && u.client.Room() == "" {
			u.mode = modeMenu
		}
		u.status = "錯誤：" + m.Message
	}
}

func (u *ui) playerName(seat int) string {
	if seat >= 0 && seat < len(u.players) {
		return u.players[seat]
	}
	return fmt.Sprintf("玩家 %d", seat+1)
}

func (u *ui) draw(now time.Time) {
	u.screen.Clear()
	width, height := u.screen.Size()
	drawText(u.screen, 0, 0, u.status)

	switch u.mode {
	case modeEnterCode:
		drawText(u.screen, 0, 2, "房間碼："+u.code.String())
	case modePlaying, modeWaiting:
		if u.client == nil {
			break
		}
		if frame, ok := u.client.Frame(now); ok {
			u.drawFrame(frame, width, height)
		}
	}
	u.screen.Show()
}

// drawFrame 把畫布座標縮放到狀態列以下的區域
func (u *ui) drawFrame(s game.Snapshot, width, height int) {
	v := newViewport(u.params, width, height-1, 1)

	for row := v.top; row < v.top+v.rows; row++ {
		u.screen.SetContent(width/2, row, '┊', nil, tcell.StyleDefault.Foreground(tcell.ColorGray))
	}

	cols := [2]int{0, width - 1}
	for seat, y := range s.Paddles {
		from, to := v.row(y), v.row(y+u.params.PaddleHeight)
		for row := from; row <= to && row < v.top+v.rows; row++ {
			u.screen.SetContent(cols[seat], row, PaddleSymbol, nil, tcell.StyleDefault)
		}
	}

	u.screen.SetContent(v.col(s.Ball.X), v.row(s.Ball.Y), BallSymbol, nil, tcell.StyleDefault)

	score := fmt.Sprintf("%d : %d", s.Scores[0], s.Scores[1])
	drawText(u.screen, width/2-runewidth.StringWidth(score)/2, v.top, score)
}

// viewport 畫布到終端機格子的對應
type viewport struct {
	params     game.Params
	cols, rows int
	top        int
}

func newViewport(p game.Params, cols, rows, top int) viewport {
	return viewport{params: p, cols: max(cols, 1), rows: max(rows, 1), top: top}
}

func (v viewport) col(x float64) int {
	c := int(x / v.params.CanvasWidth * float64(v.cols))
	return min(max(c, 0), v.cols-1)
}

func (v viewport) row(y float64) int {
	r := int(y / v.params.CanvasHeight * float64(v.rows))
	return v.top + min(max(r, 0), v.rows-1)
}

func drawText(s tcell.Screen, x, y int, text string) {
	for _, r := range text {
		s.SetContent(x, y, r, nil, tcell.StyleDefault)
		x += runewidth.RuneWidth(r)
	}
}
