// Package logger 提供結構化日誌功能
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options 日誌設定
type Options struct {
	Level     string
	Format    string // text 或 json
	Output    string // stdout、stderr 或檔案路徑
	AddSource bool

	// 檔案輸出時的輪替設定
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New 依設定建立日誌記錄器
//
// 回傳的 io.Closer 在輸出為檔案時關閉輪替檔；標準輸出時為 no-op
func New(opts Options) (*slog.Logger, io.Closer, error) {
	output, closer, err := openOutput(opts)
	if err != nil {
		return nil, nil, err
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     ParseLevel(opts.Level),
		AddSource: opts.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// 自定義時間格式
			if a.Key == slog.TimeKey && len(groups) == 0 {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format("2006-01-02 15:04:05.000"))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(output, handlerOpts)
	default:
		handler = slog.NewTextHandler(output, handlerOpts)
	}

	return slog.New(handler), closer, nil
}

func openOutput(opts Options) (io.Writer, io.Closer, error) {
	switch opts.Output {
	case "", "stdout":
		return os.Stdout, nopCloser{}, nil
	case "stderr":
		return os.Stderr, nopCloser{}, nil
	}

	if opts.MaxSizeMB < 0 || opts.MaxBackups < 0 || opts.MaxAgeDays < 0 {
		return nil, nil, fmt.Errorf("invalid log rotation settings for %s", opts.Output)
	}

	// 檔案輸出交給 lumberjack 負責輪替
	file := &lumberjack.Logger{
		Filename:   opts.Output,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	return file, file, nil
}

// ParseLevel 解析日誌級別
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard 返回丟棄所有輸出的日誌記錄器，測試使用
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
