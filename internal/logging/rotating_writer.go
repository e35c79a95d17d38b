package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RotatingWriter writes to log files that roll over per UTC day and when a
// single file would exceed maxBytes.
//
// Given base "logs/chatbot.log", output files are named
// logs/chatbot-YYYY-MM-DD.log, with a -N suffix for same-day size rollovers.
type RotatingWriter struct {
	base     string
	maxBytes int64

	mu    sync.Mutex
	day   string // YYYY-MM-DD of the open file
	index int    // 1-based same-day rollover counter
	file  *os.File
	size  int64
}

// NewRotatingWriter creates a rotating writer using base as the logical log
// file path. A base of "-" disables file output entirely.
func NewRotatingWriter(base string, maxBytes int64) (io.WriteCloser, error) {
	if strings.TrimSpace(base) == "-" {
		return nopWriteCloser{w: io.Discard}, nil
	}
	rw := &RotatingWriter{base: base, maxBytes: maxBytes}
	if err := rw.rotateIfNeeded(0); err != nil {
		return nil, err
	}
	return rw, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotateIfNeeded(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := w.file.Write(p)
	if err == nil {
		w.size += int64(n)
	}
	return n, err
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

func (w *RotatingWriter) rotateIfNeeded(incoming int64) error {
	// UTC day boundaries avoid timezone surprises.
	today := time.Now().UTC().Format("2006-01-02")
	if w.file == nil || w.day != today {
		w.day = today
		w.index = 1
		return w.open()
	}
	if w.maxBytes > 0 && w.size+incoming > w.maxBytes {
		w.index++
		return w.open()
	}
	return nil
}

func (w *RotatingWriter) open() error {
	if w.file != nil {
		_ = w.file.Close()
	}
	dir, name := filepath.Split(w.base)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = ".log"
	}
	filename := fmt.Sprintf("%s-%s%s", stem, w.day, ext)
	if w.index > 1 {
		filename = fmt.Sprintf("%s-%s-%d%s", stem, w.day, w.index, ext)
	}
	f, err := os.OpenFile(filepath.Join(dir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	w.file = f
	w.size = size
	return nil
}

type nopWriteCloser struct {
	w io.Writer
}

func (n nopWriteCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nopWriteCloser) Close() error                { return nil }
