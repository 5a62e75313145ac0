package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pathfinder/internal/config"

	"github.com/nats-io/nats.go"
)

const reportStreamMaxAge = 30 * 24 * time.Hour

const publishAttempts = 3

// NATSSink publishes records into a JetStream stream.
// Params: NATS connection, JetStream context, subject, and publish timeout.
// Returns: report sink implementation.
type NATSSink struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject string
	timeout time.Duration
}

// NewNATSSink connects to NATS and ensures the report stream exists.
// Params: report NATS config.
// Returns: initialized sink or setup error.
func NewNATSSink(cfg config.ReportNATSConfig) (*NATSSink, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect report nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for report: %w", err)
	}
	if err := ensureStream(js, cfg.Stream, cfg.Subject); err != nil {
		nc.Close()
		return nil, err
	}
	return &NATSSink{
		nc:      nc,
		js:      js,
		subject: cfg.Subject,
		timeout: time.Duration(cfg.TimeoutSec) * time.Second,
	}, nil
}

// Publish sends one record; the record id is the JetStream de-duplication key.
// Params: context and record.
// Returns: publish error after bounded retries; encoding errors are not retried.
func (s *NATSSink) Publish(ctx context.Context, record Record) error {
	body, err := json.Marshal(record)
	if err != nil {
		return markPermanent(fmt.Errorf("marshal report record: %w", err))
	}
	msg := nats.NewMsg(s.subject)
	msg.Data = body
	if id := strings.TrimSpace(record.ID); id != "" {
		msg.Header.Set(nats.MsgIdHdr, id)
	}

	var lastErr error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		publishCtx, cancel := s.publishContext(ctx)
		_, err := s.js.PublishMsg(msg, nats.Context(publishCtx))
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, nats.ErrConnectionClosed) {
			break
		}
	}
	return fmt.Errorf("publish report record %s: %w", record.ID, lastErr)
}

func (s *NATSSink) publishContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Close closes sink NATS connection.
func (s *NATSSink) Close() error {
	if s == nil || s.nc == nil {
		return nil
	}
	s.nc.Close()
	return nil
}

// ensureStream ensures the report stream exists.
// Params: JetStream context, stream name, subject.
// Returns: stream create/lookup error.
func ensureStream(js nats.JetStreamContext, streamName, subject string) error {
	if _, err := js.StreamInfo(streamName); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) && !strings.Contains(strings.ToLower(err.Error()), "stream not found") {
		return fmt.Errorf("stream info %q: %w", streamName, err)
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    reportStreamMaxAge,
	})
	if err != nil {
		return fmt.Errorf("create stream %q: %w", streamName, err)
	}
	return nil
}
