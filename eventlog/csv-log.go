package eventlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

type codec[T any] struct {
	header []string
	encode func(T) []string
	decode func([]string) (T, error)
}

var (
	plantCodec      = codec[PlantRecord]{header: PlantHeader, encode: encodePlant, decode: decodePlant}
	controllerCodec = codec[ControllerRecord]{header: ControllerHeader, encode: encodeController, decode: decodeController}
)

// Log is an append-only CSV log with a fixed header. Every Append opens the
// file, writes one row, syncs and closes it again, so a crash loses at most the
// record in flight and readers may tail the file at any time.
//
// A Log has a single writer; Append is serialized but not meant to be shared
// between loops.
type Log[T any] struct {
	mu     sync.Mutex
	path   string
	codec  codec[T]
	closed bool
}

// OpenPlantLog opens (or creates) the plant history log at path.
func OpenPlantLog(path string) (*Log[PlantRecord], error) {
	return openLog(path, plantCodec)
}

// OpenControllerLog opens (or creates) the controller history log at path.
func OpenControllerLog(path string) (*Log[ControllerRecord], error) {
	return openLog(path, controllerCodec)
}

// openLog writes the header into a missing or empty file and verifies it on an
// existing one. Existing rows are never touched.
func openLog[T any](path string, c codec[T]) (*Log[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat log %s: %w", path, err)
	}

	if info.Size() == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(c.header); err != nil {
			return nil, fmt.Errorf("write header %s: %w", path, err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, fmt.Errorf("write header %s: %w", path, err)
		}
	} else {
		header, err := csv.NewReader(f).Read()
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read header %s: %w", path, err)
		}
		if !slices.Equal(header, c.header) {
			return nil, fmt.Errorf("%w: %s", ErrHeaderMismatch, path)
		}
		if err := terminateLastRow(f, info.Size()); err != nil {
			return nil, fmt.Errorf("repair log %s: %w", path, err)
		}
	}

	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("sync log %s: %w", path, err)
	}

	return &Log[T]{path: path, codec: c}, nil
}

// terminateLastRow appends a newline when a previous writer died mid-row, so
// the next record starts on its own line.
func terminateLastRow(f *os.File, size int64) error {
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err := f.WriteAt([]byte{'\n'}, size)

	return err
}

// Path returns the file path of the log.
func (l *Log[T]) Path() string {
	return l.path
}

// Append writes exactly one row for rec.
func (l *Log[T]) Append(rec T) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLogClosed
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("open log %s: %w", l.path, err)
	}

	w := csv.NewWriter(f)
	werr := w.Write(l.codec.encode(rec))
	w.Flush()
	if werr == nil {
		werr = w.Error()
	}
	if werr == nil {
		werr = f.Sync()
	}
	cerr := f.Close()

	if werr != nil {
		return fmt.Errorf("append to %s: %w", l.path, werr)
	}
	if cerr != nil {
		return fmt.Errorf("close %s: %w", l.path, cerr)
	}

	return nil
}

// Close marks the log closed; later appends fail with ErrLogClosed.
func (l *Log[T]) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true

	return nil
}
