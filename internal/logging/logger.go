package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"pathfinder/internal/config"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBlue    = "\x1b[34m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiMagenta = "\x1b[35m"
	ansiRed     = "\x1b[31m"
	ansiGray    = "\x1b[90m"
)

// LevelTrace sits below debug and is used for per-line scan tracing.
const LevelTrace = slog.Level(-8)

var (
	quotedPattern     = regexp.MustCompile(`"[^"\n]*"`)
	identifierPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9]*(?:[._][A-Z0-9]+){2,}\b`)
	numberPattern     = regexp.MustCompile(`\b-?\d+(?:\.\d+)?\b`)
)

// New builds the process logger from console and file sinks.
// Params: sink settings; console writer (stderr when nil) keeps stdout free for records.
// Returns: logger, cleanup callback closing file sinks, setup error.
func New(cfg config.LogConfig, console io.Writer) (*slog.Logger, func(), error) {
	if console == nil {
		console = os.Stderr
	}

	var (
		handlers []slog.Handler
		closers  []io.Closer
	)
	if cfg.Console.Enabled {
		handler, err := consoleHandler(cfg.Console, console)
		if err != nil {
			return nil, nil, fmt.Errorf("log.console: %w", err)
		}
		handlers = append(handlers, handler)
	}
	if cfg.File.Enabled {
		handler, file, err := fileHandler(cfg.File)
		if err != nil {
			return nil, nil, fmt.Errorf("log.file: %w", err)
		}
		handlers = append(handlers, handler)
		closers = append(closers, file)
	}

	cleanup := func() {
		for _, closer := range closers {
			_ = closer.Close()
		}
	}
	switch len(handlers) {
	case 0:
		return Discard(), cleanup, nil
	case 1:
		return slog.New(handlers[0]), cleanup, nil
	default:
		return slog.New(fanout(handlers)), cleanup, nil
	}
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func consoleHandler(sink config.LogSinkConfig, dst io.Writer) (slog.Handler, error) {
	level, err := ParseLevel(sink.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{}
			case slog.LevelKey:
				if lvl, ok := attr.Value.Any().(slog.Level); ok && lvl <= LevelTrace {
					return slog.String(slog.LevelKey, "TRACE")
				}
			}
			return attr
		},
	}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "", "line":
		return slog.NewTextHandler(&highlightWriter{dst: dst}, opts), nil
	case "plain":
		return slog.NewTextHandler(dst, opts), nil
	case "json":
		return slog.NewJSONHandler(dst, opts), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", sink.Format)
	}
}

func fileHandler(sink config.LogSinkConfig) (slog.Handler, io.Closer, error) {
	level, err := ParseLevel(sink.Level)
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(sink.Path) == "" {
		return nil, nil, errors.New("path is required")
	}
	if dir := filepath.Dir(sink.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir %q: %w", dir, err)
		}
	}
	file, err := os.OpenFile(sink.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open %q: %w", sink.Path, err)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "", "json":
		return slog.NewJSONHandler(file, opts), file, nil
	case "line", "plain":
		return slog.NewTextHandler(file, opts), file, nil
	default:
		_ = file.Close()
		return nil, nil, fmt.Errorf("unsupported format %q", sink.Format)
	}
}

// ParseLevel converts a configured level name into slog.Level.
// Params: level name; empty means info.
// Returns: slog level or error for unknown names.
func ParseLevel(value string) (slog.Level, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported level %q", value)
	}
}

// fanout sends one record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range f {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range f {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanout, 0, len(f))
	for _, handler := range f {
		next = append(next, handler.WithAttrs(attrs))
	}
	return next
}

func (f fanout) WithGroup(name string) slog.Handler {
	next := make(fanout, 0, len(f))
	for _, handler := range f {
		next = append(next, handler.WithGroup(name))
	}
	return next
}

// highlightWriter colors console lines by level and highlights quoted text,
// test-item identifiers and numbers.
type highlightWriter struct {
	dst io.Writer
}

func (w *highlightWriter) Write(payload []byte) (int, error) {
	line := string(payload)
	base := levelColor(line)
	if base == "" {
		return w.dst.Write(payload)
	}
	rendered := base + highlight(line, base) + ansiReset
	if _, err := io.WriteString(w.dst, rendered); err != nil {
		return 0, err
	}
	return len(payload), nil
}

func levelColor(line string) string {
	switch {
	case strings.Contains(line, "level=TRACE"), strings.Contains(line, "level=DEBUG"):
		return ansiGray
	case strings.Contains(line, "level=INFO"):
		return ansiBlue
	case strings.Contains(line, "level=WARN"):
		return ansiYellow
	case strings.Contains(line, "level=ERROR"):
		return ansiRed
	default:
		return ""
	}
}

type span struct {
	start, end int
	color      string
	rank       int
}

// highlight wraps token spans with their color and restores base after each.
func highlight(line, base string) string {
	spans := tokenSpans(line)
	if len(spans) == 0 {
		return line
	}
	var b strings.Builder
	b.Grow(len(line) + len(spans)*12)
	cursor := 0
	for _, s := range spans {
		b.WriteString(line[cursor:s.start])
		b.WriteString(s.color)
		b.WriteString(line[s.start:s.end])
		b.WriteString(ansiReset)
		b.WriteString(base)
		cursor = s.end
	}
	b.WriteString(line[cursor:])
	return b.String()
}

// tokenSpans returns non-overlapping spans sorted by start; quoted text wins over
// identifiers, identifiers win over numbers.
func tokenSpans(line string) []span {
	var all []span
	collect := func(re *regexp.Regexp, color string, rank int) {
		for _, idx := range re.FindAllStringIndex(line, -1) {
			all = append(all, span{start: idx[0], end: idx[1], color: color, rank: rank})
		}
	}
	collect(quotedPattern, ansiGreen, 0)
	collect(identifierPattern, ansiMagenta, 1)
	collect(numberPattern, ansiYellow, 2)

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].start != all[j].start {
			return all[i].start < all[j].start
		}
		if all[i].rank != all[j].rank {
			return all[i].rank < all[j].rank
		}
		return all[i].end > all[j].end
	})

	out := all[:0]
	cursor := 0
	for _, s := range all {
		if s.start < cursor || s.start >= s.end {
			continue
		}
		out = append(out, s)
		cursor = s.end
	}
	return out
}
