package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// rotatingFile is the zerolog sink for file output. It rotates by size and age
// and keeps at most MaxBackups numbered copies next to the log file.
type rotatingFile struct {
	mu       sync.Mutex
	config   Config
	file     *os.File
	size     int64
	openedAt time.Time
}

func openRotatingFile(config Config) (*rotatingFile, error) {
	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	r := &rotatingFile{config: config}
	if err := r.open(); err != nil {
		return nil, err
	}
	if r.needsRotation(0) {
		if err := r.rotate(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *rotatingFile) open() error {
	file, err := os.OpenFile(r.config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	r.file = file
	r.size = info.Size()
	r.openedAt = info.ModTime()
	if r.size == 0 {
		r.openedAt = time.Now()
	}
	return nil
}

func (r *rotatingFile) needsRotation(incoming int) bool {
	if r.config.MaxSize > 0 && r.size > 0 && r.size+int64(incoming) > r.config.MaxSize {
		return true
	}
	if r.config.MaxAge > 0 && r.size > 0 && time.Since(r.openedAt) > time.Duration(r.config.MaxAge)*24*time.Hour {
		return true
	}
	return false
}

func (r *rotatingFile) rotate() error {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}

	if r.config.MaxBackups > 0 {
		// Drop the oldest backup, then shift the rest up by one
		os.Remove(fmt.Sprintf("%s.%d", r.config.FilePath, r.config.MaxBackups))
		for i := r.config.MaxBackups - 1; i >= 1; i-- {
			os.Rename(fmt.Sprintf("%s.%d", r.config.FilePath, i), fmt.Sprintf("%s.%d", r.config.FilePath, i+1))
		}
		if err := os.Rename(r.config.FilePath, r.config.FilePath+".1"); err != nil && !os.IsNotExist(err) {
			return err
		}
	} else if err := os.Remove(r.config.FilePath); err != nil && !os.IsNotExist(err) {
		return err
	}

	return r.open()
}

// Write implements io.Writer
func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return 0, os.ErrClosed
	}
	if r.needsRotation(len(p)) {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// Close closes the current file
func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
