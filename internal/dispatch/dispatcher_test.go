package dispatch_test

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-realtime-pong/internal/dispatch"
	"github.com/koopa0/system-design/14-realtime-pong/internal/protocol"
	"github.com/koopa0/system-design/14-realtime-pong/internal/room"
	apperrors "github.com/koopa0/system-design/14-realtime-pong/pkg/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeMember struct {
	id          string
	open        bool
	closeCode   int
	closeReason string
}

func newMember(id string) *fakeMember {
	return &fakeMember{id: id, open: true}
}

func (m *fakeMember) ID() string        { return m.id }
func (m *fakeMember) Name() string      { return "Guest-" + m.id }
func (m *fakeMember) Open() bool        { return m.open }
func (m *fakeMember) Send([]byte) error { return nil }

func (m *fakeMember) Close(code int, reason string) {
	m.open = false
	m.closeCode = code
	m.closeReason = reason
}

// fakeRooms 記錄呼叫，回傳預設結果
type fakeRooms struct {
	calls    []string
	joined   []string
	inputs   [][2]bool
	removed  []string
	code     string
	err      error
	inputErr error
}

func (r *fakeRooms) Create(room.Member) (string, error) {
	r.calls = append(r.calls, "create")
	return r.code, r.err
}

func (r *fakeRooms) Join(code string, _ room.Member) error {
	r.calls = append(r.calls, "join")
	r.joined = append(r.joined, code)
	return r.err
}

func (r *fakeRooms) Input(_ room.Member, up, down bool) error {
	r.calls = append(r.calls, "input")
	r.inputs = append(r.inputs, [2]bool{up, down})
	return r.inputErr
}

func (r *fakeRooms) Remove(m room.Member) {
	r.calls = append(r.calls, "remove")
	r.removed = append(r.removed, m.ID())
}

type sent struct {
	to  string
	msg any
}

type fakeNotifier struct {
	sent []sent
}

func (n *fakeNotifier) Broadcast(members []room.Member, msg any) {
	for _, m := range members {
		n.Send(m, msg)
	}
}

func (n *fakeNotifier) Send(m room.Member, msg any) {
	n.sent = append(n.sent, sent{to: m.ID(), msg: msg})
}

func (n *fakeNotifier) lastError(t *testing.T) protocol.Error {
	t.Helper()
	require.NotEmpty(t, n.sent)
	e, ok := n.sent[len(n.sent)-1].msg.(protocol.Error)
	require.True(t, ok, "last message is %T", n.sent[len(n.sent)-1].msg)
	return e
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newDispatcher(rooms *fakeRooms, limits dispatch.Limits) (*dispatch.Dispatcher, *fakeNotifier, *fakeClock) {
	n := &fakeNotifier{}
	c := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	d := dispatch.New(rooms, n, limits, testLogger(), dispatch.WithClock(c.Now))
	return d, n, c
}

func TestDispatcher_Create(t *testing.T) {
	rooms := &fakeRooms{code: "ABC123"}
	d, n, _ := newDispatcher(rooms, dispatch.DefaultLimits())
	m := newMember("a")
	d.Connect(m)

	d.Handle(m, []byte(`{"type":"create"}`))

	assert.Equal(t, []string{"create"}, rooms.calls)
	require.Len(t, n.sent, 1)
	assert.Equal(t, protocol.NewRoomCreated("ABC123", "Guest-a"), n.sent[0].msg)
}

func TestDispatcher_CreateError(t *testing.T) {
	rooms := &fakeRooms{err: apperrors.ErrAlreadyInRoom}
	d, n, _ := newDispatcher(rooms, dispatch.DefaultLimits())
	m := newMember("a")
	d.Connect(m)

	d.Handle(m, []byte(`{"type":"create"}`))

	assert.Equal(t, apperrors.ErrCodeAlreadyInRoom, n.lastError(t).Code)
}

func TestDispatcher_Join(t *testing.T) {
	tests := []struct {
		name       string
		frame      string
		roomsErr   error
		wantLookup bool
		wantCode   string
		wantErr    string
	}{
		{
			name:       "valid code",
			frame:      `{"type":"join","room":"ABC123"}`,
			wantLookup: true,
			wantCode:   "ABC123",
		},
		{
			name:       "lowercase and padded code is normalized",
			frame:      `{"type":"join","room":"  abc123 "}`,
			wantLookup: true,
			wantCode:   "ABC123",
		},
		{
			name:    "five characters rejected without lookup",
			frame:   `{"type":"join","room":"ABC12"}`,
			wantErr: apperrors.ErrCodeInvalidFormat,
		},
		{
			name:    "punctuation rejected without lookup",
			frame:   `{"type":"join","room":"ABC-12"}`,
			wantErr: apperrors.ErrCodeInvalidFormat,
		},
		{
			name:       "unknown room",
			frame:      `{"type":"join","room":"ZZZZZZ"}`,
			roomsErr:   apperrors.ErrNotFound,
			wantLookup: true,
			wantCode:   "ZZZZZZ",
			wantErr:    apperrors.ErrCodeNotFound,
		},
		{
			name:       "full room",
			frame:      `{"type":"join","room":"ABC123"}`,
			roomsErr:   apperrors.ErrRoomFull,
			wantLookup: true,
			wantCode:   "ABC123",
			wantErr:    apperrors.ErrCodeRoomFull,
		},
		{
			name:    "room not a string",
			frame:   `{"type":"join","room":123}`,
			wantErr: apperrors.ErrCodeProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rooms := &fakeRooms{err: tt.roomsErr}
			d, n, _ := newDispatcher(rooms, dispatch.DefaultLimits())
			m := newMember("a")
			d.Connect(m)

			d.Handle(m, []byte(tt.frame))

			if tt.wantLookup {
				assert.Equal(t, []string{tt.wantCode}, rooms.joined)
			} else {
				assert.Empty(t, rooms.calls)
			}
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, n.lastError(t).Code)
			} else {
				assert.Empty(t, n.sent)
			}
			assert.True(t, m.Open())
		})
	}
}

func TestDispatcher_PaddleInput(t *testing.T) {
	rooms := &fakeRooms{}
	d, n, _ := newDispatcher(rooms, dispatch.DefaultLimits())
	m := newMember("a")
	d.Connect(m)

	d.Handle(m, []byte(`{"type":"paddle_input","up":true,"down":false}`))

	assert.Equal(t, [][2]bool{{true, false}}, rooms.inputs)
	assert.Empty(t, n.sent)

	rooms.inputErr = apperrors.ErrNotInRoom
	d.Handle(m, []byte(`{"type":"paddle_input","up":false,"down":true}`))
	assert.Equal(t, apperrors.ErrCodeNotInRoom, n.lastError(t).Code)
}

func TestDispatcher_ProtocolErrors(t *testing.T) {
	frames := []string{
		`not json`,
		`{}`,
		`{"type":"teleport"}`,
		`{"type":"paddle_input","up":"yes","down":false}`,
		`{"type":"paddle_input","up":true}`,
		`[1,2,3]`,
	}

	for _, frame := range frames {
		t.Run(frame, func(t *testing.T) {
			rooms := &fakeRooms{}
			d, n, _ := newDispatcher(rooms, dispatch.DefaultLimits())
			m := newMember("a")
			d.Connect(m)

			d.Handle(m, []byte(frame))

			assert.Empty(t, rooms.calls)
			assert.Equal(t, apperrors.ErrCodeProtocol, n.lastError(t).Code)
			assert.True(t, m.Open(), "malformed frame must not close the connection")
		})
	}
}

func TestDispatcher_OversizedFrame(t *testing.T) {
	rooms := &fakeRooms{}
	d, n, _ := newDispatcher(rooms, dispatch.Limits{MaxFrameBytes: 64, MaxMessagesPerSecond: 30})
	m := newMember("a")
	d.Connect(m)

	frame := `{"type":"join","room":"` + strings.Repeat("A", 100) + `"}`
	d.Handle(m, []byte(frame))

	assert.False(t, m.Open())
	assert.Equal(t, websocket.CloseMessageTooBig, m.closeCode)
	assert.Empty(t, rooms.calls)
	assert.Empty(t, n.sent)
}

func TestDispatcher_RateLimit(t *testing.T) {
	rooms := &fakeRooms{}
	d, _, clock := newDispatcher(rooms, dispatch.Limits{MaxFrameBytes: 1024, MaxMessagesPerSecond: 5})
	m := newMember("a")
	d.Connect(m)

	input := []byte(`{"type":"paddle_input","up":true,"down":false}`)
	for range 5 {
		d.Handle(m, input)
	}
	require.True(t, m.Open())
	assert.Len(t, rooms.inputs, 5)

	d.Handle(m, input)

	assert.False(t, m.Open())
	assert.Equal(t, websocket.ClosePolicyViolation, m.closeCode)
	assert.Len(t, rooms.inputs, 5)

	// 已關閉的連線不再處理
	clock.t = clock.t.Add(time.Second)
	d.Handle(m, input)
	assert.Len(t, rooms.inputs, 5)
}

func TestDispatcher_RateLimitRefills(t *testing.T) {
	rooms := &fakeRooms{}
	d, _, clock := newDispatcher(rooms, dispatch.Limits{MaxFrameBytes: 1024, MaxMessagesPerSecond: 2})
	m := newMember("a")
	d.Connect(m)

	input := []byte(`{"type":"paddle_input","up":true,"down":false}`)
	for range 6 {
		d.Handle(m, input)
		clock.t = clock.t.Add(500 * time.Millisecond)
	}

	assert.True(t, m.Open())
	assert.Len(t, rooms.inputs, 6)
}

func TestDispatcher_Disconnect(t *testing.T) {
	rooms := &fakeRooms{}
	d, _, _ := newDispatcher(rooms, dispatch.DefaultLimits())
	a, b := newMember("a"), newMember("b")
	d.Connect(a)
	d.Connect(b)
	require.Equal(t, 2, d.Connections())

	d.Disconnect(a)

	assert.Equal(t, []string{"a"}, rooms.removed)
	assert.Equal(t, 1, d.Connections())
}

func TestDispatcher_PerConnectionBuckets(t *testing.T) {
	rooms := &fakeRooms{}
	d, _, _ := newDispatcher(rooms, dispatch.Limits{MaxFrameBytes: 1024, MaxMessagesPerSecond: 1})
	a, b := newMember("a"), newMember("b")
	d.Connect(a)
	d.Connect(b)

	input := []byte(`{"type":"paddle_input","up":true,"down":false}`)
	d.Handle(a, input)
	d.Handle(a, input)
	d.Handle(b, input)

	assert.False(t, a.Open())
	assert.True(t, b.Open())
}
