// Package log provides compressed JSONL append sinks for the analytics
// record stream. Files rotate hourly so a long-running dashboard session
// never grows one unbounded file.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"fluxgrid/internal/persistence"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// RecordLogger writes analytics records as compressed JSONL, one file family
// per record kind under dataDir.
type RecordLogger struct {
	mu      sync.Mutex
	dataDir string
	writers map[string]*JSONLZstdWriter
}

func NewRecordLogger(dataDir string) *RecordLogger {
	return &RecordLogger{
		dataDir: dataDir,
		writers: map[string]*JSONLZstdWriter{},
	}
}

// Append implements persistence.Sink.
func (l *RecordLogger) Append(rec persistence.Record) error {
	l.mu.Lock()
	w, ok := l.writers[rec.Kind]
	if !ok {
		w = NewJSONLZstdWriter(filepath.Join(l.dataDir, rec.Kind), rec.Kind)
		l.writers[rec.Kind] = w
	}
	l.mu.Unlock()
	return w.Write(rec)
}

func (l *RecordLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var first error
	for _, w := range l.writers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
