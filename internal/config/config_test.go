package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-realtime-pong/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Second/60, cfg.Game.TickInterval())
	assert.Equal(t, int64(1024), cfg.Limits.MaxFrameBytes)
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		env      map[string]string
		wantErr  bool
		validate func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "yaml overlays defaults",
			body: "server:\n  port: 9000\nrooms:\n  countdown: 1500ms\ngame:\n  win_score: 7\n",
			validate: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, 9000, cfg.Server.Port)
				assert.Equal(t, 1500*time.Millisecond, cfg.Rooms.Countdown)
				assert.Equal(t, 7, cfg.Game.WinScore)
				// 未指定的欄位保留預設值
				assert.Equal(t, 800.0, cfg.Game.CanvasWidth)
				assert.Equal(t, 30*time.Minute, cfg.Rooms.IdleTimeout)
			},
		},
		{
			name: "env overrides yaml",
			body: "server:\n  port: 9000\n",
			env:  map[string]string{"PORT": "9100", "LOG_LEVEL": "debug", "REDIS_ADDR": "redis:6379", "NATS_URL": "nats://n:4222"},
			validate: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, 9100, cfg.Server.Port)
				assert.Equal(t, "debug", cfg.Log.Level)
				assert.Equal(t, "redis", cfg.Store.Driver)
				assert.Equal(t, "redis:6379", cfg.Store.RedisAddr)
				assert.Equal(t, "nats://n:4222", cfg.Events.NATSURL)
			},
		},
		{
			name:    "invalid port env",
			env:     map[string]string{"PORT": "eighty"},
			wantErr: true,
		},
		{
			name:    "impossible paddle",
			body:    "game:\n  paddle_height: 900\n",
			wantErr: true,
		},
		{
			name:    "speed_up of one never accelerates",
			body:    "game:\n  speed_up: 1\n",
			wantErr: true,
		},
		{
			name: "speed_up above one",
			body: "game:\n  speed_up: 1.1\n",
			validate: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, 1.1, cfg.Game.SpeedUp)
			},
		},
		{
			name:    "unknown store driver",
			body:    "store:\n  driver: etcd\n",
			wantErr: true,
		},
		{
			name:    "malformed yaml",
			body:    "server: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// 空字串視同未設定
			for _, k := range []string{"PORT", "LOG_LEVEL", "LOG_FORMAT", "REDIS_ADDR", "REDIS_PASSWORD", "NATS_URL", "PUBLIC_URL"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := ""
			if tt.body != "" {
				path = writeConfig(t, tt.body)
			}

			cfg, err := config.Load(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("PORT", "")
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
