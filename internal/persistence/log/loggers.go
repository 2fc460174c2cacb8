package log

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelprism.ai/internal/activity"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

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
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	return w.WriteAll([]any{v})
}

// WriteAll appends every value and flushes once.
func (w *JSONLZstdWriter) WriteAll(vs []any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	for _, v := range vs {
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
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	// Flush the encoder too so a crash loses at most the current frame.
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
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
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// ArchiveLog mirrors every persisted activity into compressed JSONL.
type ArchiveLog struct{ w *JSONLZstdWriter }

func NewArchiveLog(dataDir string) *ArchiveLog {
	return &ArchiveLog{w: NewJSONLZstdWriter(filepath.Join(dataDir, "archive"), "activities")}
}

func (l *ArchiveLog) Persist(ctx context.Context, batch []activity.Activity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	vs := make([]any, len(batch))
	for i := range batch {
		vs[i] = batch[i]
	}
	return l.w.WriteAll(vs)
}

func (l *ArchiveLog) Dir() string  { return l.w.baseDir }
func (l *ArchiveLog) Close() error { return l.w.Close() }

// ParkedEntry is one dead-lettered activity.
type ParkedEntry struct {
	ParkedAt time.Time         `json:"parked_at"`
	Reason   string            `json:"reason"`
	Activity activity.Activity `json:"activity"`
}

// DeadLetterLog keeps batches the recording queue could not persist.
type DeadLetterLog struct{ w *JSONLZstdWriter }

func NewDeadLetterLog(dataDir string) *DeadLetterLog {
	return &DeadLetterLog{w: NewJSONLZstdWriter(filepath.Join(dataDir, "deadletter"), "parked")}
}

func (l *DeadLetterLog) Park(batch []activity.Activity, reason string) error {
	now := l.w.now().UTC()
	vs := make([]any, len(batch))
	for i := range batch {
		vs[i] = ParkedEntry{ParkedAt: now, Reason: reason, Activity: batch[i]}
	}
	return l.w.WriteAll(vs)
}

func (l *DeadLetterLog) Dir() string  { return l.w.baseDir }
func (l *DeadLetterLog) Close() error { return l.w.Close() }

// Files lists the compressed logs in dir, oldest first.
func Files(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl.zst") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// ReadJSONLZstd calls fn with every line of a compressed log.
func ReadJSONLZstd(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	r := bufio.NewReaderSize(dec, 128*1024)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			line = line[:len(line)-1]
		}
		if len(line) > 0 {
			if ferr := fn(line); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
}
