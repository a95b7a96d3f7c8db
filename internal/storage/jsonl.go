package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// JSONLWriter appends records as JSON lines to a size-rotated file from a
// background goroutine, so callers on a hot path never block on disk.
type JSONLWriter struct {
	path    string
	writeCh chan any
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *lumberjack.Logger
	mu      sync.Mutex
	once    sync.Once
	dropped int
}

// NewJSONLWriter opens path (creating its directory) and starts the writer.
func NewJSONLWriter(path string, bufferSize int, maxSizeMB int) (*JSONLWriter, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	if bufferSize <= 0 {
		bufferSize = 1024
	}

	w := &JSONLWriter{
		path:    path,
		writeCh: make(chan any, bufferSize),
		done:    make(chan struct{}),
		logger: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: 10,
			MaxAge:     14,
		},
	}

	w.wg.Add(1)
	go w.writeLoop()

	slog.Info("raw message log opened", "file", path)
	return w, nil
}

// Write queues a record for async writing. A full buffer drops the record.
func (w *JSONLWriter) Write(record any) error {
	select {
	case <-w.done:
		return fmt.Errorf("writer is closed")
	default:
	}
	select {
	case w.writeCh <- record:
		return nil
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
		return fmt.Errorf("buffer full")
	}
}

// Dropped reports how many records were discarded because the buffer was full.
func (w *JSONLWriter) Dropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Close stops the writer, flushing what is still queued.
func (w *JSONLWriter) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.wg.Wait()

		timeout := time.After(5 * time.Second)
	drain:
		for {
			select {
			case record := <-w.writeCh:
				w.writeRecord(record)
			case <-timeout:
				slog.Warn("JSONL writer close timeout, some records may be lost", "file", w.path)
				break drain
			default:
				break drain
			}
		}

		if n := w.Dropped(); n > 0 {
			slog.Warn("JSONL writer dropped records", "file", w.path, "dropped", n)
		}
		err = w.logger.Close()
	})
	return err
}

func (w *JSONLWriter) writeLoop() {
	defer w.wg.Done()

	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-w.done:
			return
		}
	}
}

func (w *JSONLWriter) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("Failed to marshal record", "error", err, "file", w.path)
		return
	}
	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("Failed to write record", "error", err, "file", w.path)
	}
}
