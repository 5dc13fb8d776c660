package eventlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
)

// Reader iterates the rows of a log in file order. It can be used on a file
// that is still being appended to; it simply stops at the current end.
type Reader[T any] struct {
	r     *csv.Reader
	codec codec[T]
	line  int
}

// NewPlantReader reads a plant history log, validating its header.
func NewPlantReader(r io.Reader) (*Reader[PlantRecord], error) {
	return newReader(r, plantCodec)
}

// NewControllerReader reads a controller history log, validating its header.
func NewControllerReader(r io.Reader) (*Reader[ControllerRecord], error) {
	return newReader(r, controllerCodec)
}

func newReader[T any](r io.Reader, c codec[T]) (*Reader[T], error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty log", ErrHeaderMismatch)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !slices.Equal(header, c.header) {
		return nil, ErrHeaderMismatch
	}

	return &Reader[T]{r: cr, codec: c, line: 1}, nil
}

// Next returns the next record, or io.EOF at the end of the log. A row that
// cannot be decoded yields an error wrapping ErrMalformedRow; reading may
// continue after it.
func (r *Reader[T]) Next() (T, error) {
	var zero T

	row, err := r.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return zero, io.EOF
		}
		r.line++
		return zero, fmt.Errorf("line %d: %w: %w", r.line, ErrMalformedRow, err)
	}
	r.line++

	rec, err := r.codec.decode(row)
	if err != nil {
		return zero, fmt.Errorf("line %d: %w", r.line, err)
	}

	return rec, nil
}

// ReadAll reads the remaining records, stopping at the first malformed row.
func (r *Reader[T]) ReadAll() ([]T, error) {
	var out []T
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// ReadPlantFile reads every record of the plant history log at path.
func ReadPlantFile(path string) ([]PlantRecord, error) {
	return readFile(path, plantCodec)
}

// ReadControllerFile reads every record of the controller history log at path.
func ReadControllerFile(path string) ([]ControllerRecord, error) {
	return readFile(path, controllerCodec)
}

func readFile[T any](path string, c codec[T]) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	r, err := newReader(f, c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return r.ReadAll()
}
