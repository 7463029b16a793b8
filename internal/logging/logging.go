// Package logging 提供基于 log/slog 的日志初始化与上下文传递。
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config 日志配置。
type Config struct {
	// Level 日志级别：debug、info、warn、error，默认 info
	Level string
	// Format 输出格式：text 或 json，默认 text
	Format string
	// Output 输出目标，nil 时为 os.Stderr
	Output io.Writer
}

var (
	mu     sync.RWMutex
	global = slog.Default()
)

// Setup 按配置创建全局 logger，同时替换 slog 默认 logger。
func Setup(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}

	l := slog.New(h)
	mu.Lock()
	global = l
	mu.Unlock()
	slog.SetDefault(l)
	return l
}

// ParseLevel 将字符串解析为 slog.Level，无法识别时返回 info。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L 返回全局 logger。
func L() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// contextKey 用于在 context.Context 中查找 *slog.Logger。
type contextKey struct{}

// NewContext 返回携带 logger 的新 context。
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext 从 ctx 中取出 logger，不存在时返回全局 logger。
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if v, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && v != nil {
			return v
		}
	}
	return L()
}
