package logger

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultMaxLines is the line count after which a RotatingFile is rotated.
const DefaultMaxLines = 50000

// RotatingFile is an io.Writer appending to a per-component log file. Once
// maxLines lines have been written the file is renamed with a timestamp suffix
// and a fresh file is opened in its place.
type RotatingFile struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	count    int
	maxLines int
}

// OpenRotatingFile makes sure dir exists and opens dir/name for appending.
func OpenRotatingFile(dir, name string, maxLines int) (*RotatingFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}

	path := filepath.Join(dir, name)
	// O_CREATE so that a missing file is created.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}

	return &RotatingFile{file: file, path: path, maxLines: maxLines}, nil
}

// Path returns the path of the active log file.
func (rf *RotatingFile) Path() string {
	return rf.path
}

func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return 0, os.ErrClosed
	}

	n, err := rf.file.Write(p)
	rf.count += bytes.Count(p[:n], []byte{'\n'})
	if rf.count >= rf.maxLines {
		if rerr := rf.rotate(); rerr != nil && err == nil {
			err = rerr
		}
	}

	return n, err
}

func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return nil
	}
	err := rf.file.Close()
	rf.file = nil

	return err
}

// rotate closes the current file, renames it with a timestamp and opens a new one.
func (rf *RotatingFile) rotate() error {
	if err := rf.file.Close(); err != nil {
		return fmt.Errorf("close log file %s: %w", rf.path, err)
	}
	rf.file = nil

	newName := fmt.Sprintf("%s_%s", rf.path, time.Now().Format("20060102_150405.000"))
	renameErr := os.Rename(rf.path, newName)

	// reopen even when the rename failed, the current file keeps growing then
	file, err := os.OpenFile(rf.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return fmt.Errorf("reopen log file %s: %w", rf.path, err)
	}
	rf.file = file
	rf.count = 0

	if renameErr != nil {
		return fmt.Errorf("rename log file %s to %s: %w", rf.path, newName, renameErr)
	}

	return nil
}
