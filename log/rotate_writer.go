// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	defaultMaxFileSize = 64 << 20
	defaultMaxFiles    = 8
)

// RotateWriter writes into size bounded files in a directory, keeping the
// newest few.
type RotateWriter struct {
	dir      string
	base     string
	maxSize  int64
	maxFiles int

	mu   sync.Mutex
	file *os.File
	size int64
	seq  int
}

// RotateOption configures a RotateWriter.
type RotateOption func(*RotateWriter)

// WithMaxFileSize sets the size after which a new file is started.
func WithMaxFileSize(size int64) RotateOption {
	return func(w *RotateWriter) { w.maxSize = size }
}

// WithMaxFiles sets how many files are kept. Zero keeps all.
func WithMaxFiles(n int) RotateOption {
	return func(w *RotateWriter) { w.maxFiles = n }
}

// NewRotateWriter creates dir if needed and opens the first file.
func NewRotateWriter(dir, base string, opts ...RotateOption) (*RotateWriter, error) {
	w := &RotateWriter{dir: dir, base: base, maxSize: defaultMaxFileSize, maxFiles: defaultMaxFiles}
	for _, o := range opts {
		o(w)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if err := w.rotate(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write implements io.Writer. A record is never split across files.
func (w *RotateWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, io.ErrClosedPipe
	}
	if w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current file.
func (w *RotateWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Name returns the path of the file being written.
func (w *RotateWriter) Name() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ""
	}
	return w.file.Name()
}

func (w *RotateWriter) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return err
		}
		w.file = nil
	}

	w.seq++
	name := fmt.Sprintf("%s-%s-%04d.log", w.base, time.Now().UTC().Format("20060102T150405"), w.seq)
	file, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	w.file, w.size = file, 0
	return w.prune()
}

// prune removes the oldest files beyond maxFiles.
func (w *RotateWriter) prune() error {
	if w.maxFiles <= 0 {
		return nil
	}
	files, err := filepath.Glob(filepath.Join(w.dir, w.base+"-*.log"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for i := 0; i < len(files)-w.maxFiles; i++ {
		if err := os.Remove(files[i]); err != nil {
			return err
		}
	}
	return nil
}
