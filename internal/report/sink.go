package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Sink publishes diagnosis records.
// Params: context and record.
// Returns: publish error.
type Sink interface {
	Publish(ctx context.Context, record Record) error
	Close() error
}

// permanentError marks publish failures that retrying cannot fix.
type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }

func (e permanentError) Unwrap() error { return e.err }

// markPermanent wraps err as non-retryable.
func markPermanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether a publish error must not be retried.
func IsPermanent(err error) bool {
	var tagged permanentError
	return errors.As(err, &tagged)
}

// WriterSink writes records as JSON lines.
// Params: destination writer shared by concurrent publishers.
// Returns: sink serializing writes with a mutex.
type WriterSink struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

// NewWriterSink creates JSON-lines sink.
// Params: destination writer; closed on Close when it implements io.Closer.
// Returns: writer sink.
func NewWriterSink(w io.Writer) *WriterSink {
	sink := &WriterSink{enc: json.NewEncoder(w)}
	sink.enc.SetEscapeHTML(false)
	if closer, ok := w.(io.Closer); ok {
		sink.closer = closer
	}
	return sink
}

// Publish writes one record line.
func (s *WriterSink) Publish(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(record); err != nil {
		return markPermanent(fmt.Errorf("encode report record: %w", err))
	}
	return nil
}

// Close closes the underlying writer when it is closable.
func (s *WriterSink) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// MultiSink fans one record out to several sinks.
type MultiSink []Sink

// Publish sends record to every sink and joins errors.
func (m MultiSink) Publish(ctx context.Context, record Record) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Publish(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink and joins errors.
func (m MultiSink) Close() error {
	var errs []error
	for _, sink := range m {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
