// ABOUTME: slog setup for the CLI: JSON for machines, colorized text for terminals
// ABOUTME: colorHandler renders one line per record with handler and record attrs

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/config"
)

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := parseLevel(cfg.Level)
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(newColorHandler(os.Stdout, level))
}

// colorHandler provides colorized log output with thread-safe writes.
// Derived handlers share the parent's mutex and writer.
type colorHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func newColorHandler(out io.Writer, level slog.Level) *colorHandler {
	return &colorHandler{mu: &sync.Mutex{}, out: out, level: level}
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch {
	case r.Level >= slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	case r.Level >= slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case r.Level >= slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	default:
		buf.WriteString(color.MagentaString("DBG "))
	}

	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}

	// Handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		writeAttr(&buf, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, prefix, a)
		return true
	})

	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprint(h.out, buf.String())
	return err
}

func writeAttr(buf *strings.Builder, prefix string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
	buf.WriteString(a.Value.Resolve().String())
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	for _, a := range attrs {
		a.Key = prefix + a.Key
		newAttrs = append(newAttrs, a)
	}
	return &colorHandler{mu: h.mu, out: h.out, level: h.level, attrs: newAttrs, groups: h.groups}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{mu: h.mu, out: h.out, level: h.level, attrs: h.attrs, groups: newGroups}
}
