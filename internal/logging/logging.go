// Package logging sets up the process-wide slog logger: colored console
// output plus an optional rotating log file.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	debugColor = color.New(color.FgHiBlack)
	infoColor  = color.New(color.FgWhite)
	warnColor  = color.New(color.FgHiYellow)
	errorColor = color.New(color.FgHiRed)

	componentColors = map[string]*color.Color{
		"STORAGE":   color.New(color.FgHiBlue),
		"DATASTORE": color.New(color.FgHiBlack),
		"RESUME":    color.New(color.FgHiMagenta),
		"LIFECYCLE": color.New(color.FgHiCyan),
		"ENGINE":    color.New(color.FgHiGreen),
		"JOBMGR":    color.New(color.FgHiBlack),
		"STATS":     color.New(color.FgBlue),
		"DISCORD":   color.New(color.FgHiBlue),
	}
)

// Options configures Init.
type Options struct {
	Level string // debug, info, warn, error
	File  string // empty disables the log file
	// Writer overrides stdout, mostly for tests.
	Writer io.Writer
}

// Init builds the logger, installs it as slog's default and returns it.
// The returned closer flushes and closes the log file, if any.
func Init(opts Options) (*slog.Logger, io.Closer) {
	var w io.Writer = os.Stdout
	if opts.Writer != nil {
		w = opts.Writer
	}

	var closer io.Closer = nopCloser{}
	var file io.Writer
	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		file = lj
		closer = lj
	}

	level := ParseLevel(opts.Level)
	var h slog.Handler = NewConsoleHandler(w, level)
	if file != nil {
		h = fanout{h, slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})}
	}

	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger, closer
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
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

// Component returns the default logger tagged with a component name.
func Component(name string) *slog.Logger {
	return slog.Default().With(slog.String("component", name))
}

// ConsoleHandler prints "15:04:05 [LEVEL] [COMPONENT] message key=value".
type ConsoleHandler struct {
	w     io.Writer
	level slog.Leveler
	mu    *sync.Mutex
	attrs []slog.Attr
	group string
}

func NewConsoleHandler(w io.Writer, level slog.Leveler) *ConsoleHandler {
	return &ConsoleHandler{w: w, level: level, mu: &sync.Mutex{}}
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	levelStr, levelColor := levelLabel(r.Level)

	component := ""
	var b strings.Builder
	appendAttr := func(a slog.Attr) {
		if a.Key == "component" {
			component = strings.ToUpper(a.Value.String())
			return
		}
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		fmt.Fprintf(&b, " %s=%v", key, a.Value.Resolve().Any())
	}
	for _, a := range h.attrs {
		appendAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(a)
		return true
	})

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	line := ts.Format("15:04:05") + " " + levelColor.Sprintf("[%s]", levelStr)
	if component != "" {
		c, ok := componentColors[component]
		if !ok {
			c = color.New(color.FgCyan)
		}
		line += " " + c.Sprintf("[%s]", component)
	}
	line += " " + r.Message + debugColor.Sprint(b.String()) + "\n"

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line)
	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	next := *h
	if next.group != "" {
		name = next.group + "." + name
	}
	next.group = name
	return &next
}

func levelLabel(l slog.Level) (string, *color.Color) {
	switch {
	case l >= slog.LevelError:
		return "ERROR", errorColor
	case l >= slog.LevelWarn:
		return "WARN", warnColor
	case l >= slog.LevelInfo:
		return "INFO", infoColor
	default:
		return "DEBUG", debugColor
	}
}

// fanout sends every record to several handlers.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
