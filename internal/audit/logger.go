// Package audit writes an NDJSON log of every conversation turn for
// offline review. Writes are asynchronous so transports never block on
// disk I/O.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Event is one logged conversation turn.
type Event struct {
	Timestamp  string         `json:"timestamp"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Logger accepts conversation events. Implementations must be safe for
// concurrent use.
type Logger interface {
	Log(event Event)
	Close() error
}

// Config controls NDJSON conversation logging.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// NopLogger discards all events.
type NopLogger struct{}

// Log implements Logger.
func (NopLogger) Log(Event) {}

// Close implements Logger.
func (NopLogger) Close() error { return nil }

// fileLogger appends events to per-session NDJSON files plus an optional
// global file, fed through a bounded queue.
type fileLogger struct {
	cfg    Config
	queue  chan Event
	done   chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger

	closeOnce sync.Once
}

// NewLogger creates a conversation logger. When cfg.Enabled is false a
// NopLogger is returned.
func NewLogger(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return NopLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create conversation log directory: %w", err)
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0755); err != nil {
			return nil, fmt.Errorf("create global log directory: %w", err)
		}
	}

	l := &fileLogger{
		cfg:    cfg,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	l.wg.Add(1)
	go l.drain()
	return l, nil
}

// Log enqueues an event. Events are dropped when the queue is full;
// conversation logging must never stall a turn.
func (l *fileLogger) Log(event Event) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" {
		event.Content = CleanForReadability(event.ContentRaw)
	}

	select {
	case l.queue <- event:
	default:
		l.logger.Warn("Conversation log queue full, dropping event",
			"user_id", event.UserID, "event_type", event.EventType)
	}
}

// Close flushes queued events and stops the writer goroutine.
func (l *fileLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	return nil
}

func (l *fileLogger) drain() {
	defer l.wg.Done()
	for {
		select {
		case event := <-l.queue:
			l.write(event)
		case <-l.done:
			// Flush whatever is still queued.
			for {
				select {
				case event := <-l.queue:
					l.write(event)
				default:
					return
				}
			}
		}
	}
}

func (l *fileLogger) write(event Event) {
	line, err := json.Marshal(event)
	if err != nil {
		l.logger.Warn("Failed to marshal conversation event", "error", err)
		return
	}
	line = append(line, '\n')

	sessionPath := filepath.Join(l.cfg.Dir, sanitizePathPart(event.UserID), sanitizePathPart(event.SessionID)+".ndjson")
	l.appendFile(sessionPath, line)

	if l.cfg.GlobalEnabled {
		l.appendFile(l.cfg.GlobalPath, line)
	}
}

func (l *fileLogger) appendFile(path string, line []byte) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		l.logger.Warn("Failed to create conversation log directory", "error", err, "path", path)
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.logger.Warn("Failed to open conversation log", "error", err, "path", path)
		return
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			l.logger.Warn("Failed to close conversation log", "error", closeErr, "path", path)
		}
	}()
	if _, err := f.Write(line); err != nil {
		l.logger.Warn("Failed to write conversation log", "error", err, "path", path)
	}
}

var (
	ansiPattern     = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)
	pathPartPattern = regexp.MustCompile(`[^A-Za-z0-9._:-]`)
)

// CleanForReadability strips ANSI escapes and control characters so the
// logged content reads cleanly in a pager.
func CleanForReadability(raw string) string {
	clean := ansiPattern.ReplaceAllString(raw, "")
	clean = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, clean)
	return strings.TrimSpace(clean)
}

func sanitizePathPart(s string) string {
	s = pathPartPattern.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return "unknown"
	}
	return s
}
