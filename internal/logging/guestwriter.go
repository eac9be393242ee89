package logging

import (
	"bufio"
	"bytes"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// guestLevels is the set of leading tokens recognised in a guest's WASI
// stdout/stderr stream. The convention is deliberately loose (see
// SPEC_FULL.md §4, design note on structured side channels): any other text,
// or no recognised token at all, is logged at INFO.
var guestLevels = map[string]func(*zap.Logger, string){
	"TRACE": func(l *zap.Logger, msg string) { l.Debug(msg, zap.String("guest_level", "TRACE")) },
	"DEBUG": func(l *zap.Logger, msg string) { l.Debug(msg) },
	"INFO":  func(l *zap.Logger, msg string) { l.Info(msg) },
	"WARN":  func(l *zap.Logger, msg string) { l.Warn(msg) },
	"ERROR": func(l *zap.Logger, msg string) { l.Error(msg) },
}

// GuestWriter is an io.Writer that buffers a guest module's WASI
// stdout/stderr output to newlines, strips a leading level token from each
// line, and forwards it to logger as a structured field, tagged with the
// plugin name and stream ("stdout"/"stderr").
type GuestWriter struct {
	mu     sync.Mutex
	logger *zap.Logger
	plugin string
	stream string
	buf    bytes.Buffer
}

// NewGuestWriter returns a writer that logs through logger, tagging every
// line with plugin and stream.
func NewGuestWriter(logger *zap.Logger, plugin, stream string) *GuestWriter {
	return &GuestWriter{logger: logger, plugin: plugin, stream: stream}
}

func (w *GuestWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	data := w.buf.Bytes()
	consumed := bytes.LastIndexByte(data, '\n') + 1
	scanner := bufio.NewScanner(bytes.NewReader(data[:consumed]))
	for scanner.Scan() {
		w.emit(scanner.Text())
	}
	// Keep whatever wasn't terminated by a newline for the next Write.
	rest := append([]byte(nil), data[consumed:]...)
	w.buf.Reset()
	w.buf.Write(rest)

	return len(p), nil
}

func (w *GuestWriter) emit(line string) {
	if w.logger == nil || line == "" {
		return
	}

	level, msg := "INFO", line
	matched := false
	if fields := strings.SplitN(line, ":", 2); len(fields) == 2 {
		token := strings.TrimSpace(fields[0])
		if _, ok := guestLevels[token]; ok {
			level = token
			msg = strings.TrimSpace(fields[1])
			matched = true
		}
	}
	if !matched {
		if fields := strings.SplitN(line, " ", 2); len(fields) == 2 {
			if _, ok := guestLevels[fields[0]]; ok {
				level = fields[0]
				msg = fields[1]
			}
		}
	}

	tagged := w.logger.With(zap.String("plugin", w.plugin), zap.String("stream", w.stream))
	guestLevels[level](tagged, msg)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
