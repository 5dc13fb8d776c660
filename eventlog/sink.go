package eventlog

import (
	"errors"
	"fmt"
)

// Sink receives records of one kind.
type Sink[T any] interface {
	Append(rec T) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc[T any] func(rec T) error

func (f SinkFunc[T]) Append(rec T) error { return f(rec) }

// Fanout forwards each record to a primary sink and then to every secondary sink.
// A secondary sink failing never prevents the others from receiving the record.
type Fanout[T any] struct {
	primary     Sink[T]
	secondaries []namedSink[T]
}

type namedSink[T any] struct {
	name string
	sink Sink[T]
}

// NewFanout creates a fanout writing first to primary.
func NewFanout[T any](primary Sink[T]) *Fanout[T] {
	return &Fanout[T]{primary: primary}
}

// Attach adds a secondary sink, name is used in error messages.
func (f *Fanout[T]) Attach(name string, sink Sink[T]) *Fanout[T] {
	f.secondaries = append(f.secondaries, namedSink[T]{name: name, sink: sink})
	return f
}

// Append writes rec everywhere and joins the failures.
func (f *Fanout[T]) Append(rec T) error {
	var errs []error
	if err := f.primary.Append(rec); err != nil {
		errs = append(errs, err)
	}
	for _, s := range f.secondaries {
		if err := s.sink.Append(rec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}

	return errors.Join(errs...)
}
