package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuestName(t *testing.T) {
	assert.Equal(t, "Guest-9F3A", guestName("9f3a2c1e-0000-4000-8000-000000000000"))
	assert.Equal(t, "Guest-AB", guestName("ab"))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"remote addr", "10.0.0.1:5555", "", "10.0.0.1"},
		{"forwarded first hop", "10.0.0.1:5555", "203.0.113.7, 10.0.0.1", "203.0.113.7"},
		{"no port", "10.0.0.2", "", "10.0.0.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, clientIP(r))
		})
	}
}

func TestConn_SendAfterClose(t *testing.T) {
	c := &Conn{send: make(chan []byte, 1), ctrl: make(chan closeFrame, 1), done: make(chan struct{})}

	assert.NoError(t, c.Send([]byte("a")))
	assert.ErrorIs(t, c.Send([]byte("b")), ErrSendBufferFull)

	c.Close(1000, "bye")
	c.Close(1001, "again")

	assert.False(t, c.Open())
	assert.ErrorIs(t, c.Send([]byte("c")), ErrConnClosed)
	f := <-c.ctrl
	assert.Equal(t, 1000, f.code)
}
