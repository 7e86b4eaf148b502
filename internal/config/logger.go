package config

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger builds the process logger. Output goes to w, which is stderr in
// practice: stdout carries MCP frames and rendered documents.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
