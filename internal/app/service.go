package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"pathfinder/internal/clock"
	"pathfinder/internal/config"
	"pathfinder/internal/diagnose"
	"pathfinder/internal/domain"
	"pathfinder/internal/engine"
	"pathfinder/internal/ingest"
	"pathfinder/internal/logging"
	"pathfinder/internal/report"
)

// ErrNothingToDiagnose is returned when a job names no identifier and its log holds no failure.
var ErrNothingToDiagnose = errors.New("nothing to diagnose")

// Job is one diagnosis run.
// Params: identifiers (empty means every failure found in the log), log path, zero-based failure line
// (diagnose.LocateTarget finds it per identifier), family hint, language.
// Returns: unit of work for Service.Run.
type Job struct {
	Identifiers []string
	LogPath     string
	Target      int
	Family      string
	Language    string
}

// Service composes config, logging, the diagnosis engine and report sinks.
// Params: config source, clock and record output.
// Returns: runnable one-shot diagnosis service.
type Service struct {
	cfg      config.Config
	logger   *slog.Logger
	closeLog func()
	engine   *diagnose.Engine
	sink     report.Sink
	clock    clock.Clock
}

// Options carries the process-facing writers of a service.
type Options struct {
	Records io.Writer
	Console io.Writer
}

// NewService builds a service from one config source.
// Params: config source, clock, writers for records and console logs.
// Returns: initialized service or setup error; partially built resources are released on error.
func NewService(source config.ConfigSource, clk clock.Clock, opts Options) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}
	return NewServiceFromConfig(cfg, clk, opts)
}

// NewServiceFromConfig builds a service from an already validated config snapshot.
// Params: config, clock, writers.
// Returns: initialized service or setup error.
func NewServiceFromConfig(cfg config.Config, clk clock.Clock, opts Options) (*Service, error) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	logger, closeLog, err := logging.New(cfg.Log, opts.Console)
	if err != nil {
		return nil, err
	}
	service := &Service{cfg: cfg, logger: logger, closeLog: closeLog, clock: clk}

	service.engine, err = diagnose.New(cfg, logger)
	if err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildSinks(opts.Records); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	return service, nil
}

// buildSinks wires record outputs: the writer first, then JetStream when enabled.
func (s *Service) buildSinks(records io.Writer) error {
	var sinks report.MultiSink
	if records != nil {
		sinks = append(sinks, report.NewWriterSink(records))
	}
	if s.cfg.Report.NATS.Enabled {
		natsSink, err := report.NewNATSSink(s.cfg.Report.NATS)
		if err != nil {
			return fmt.Errorf("report.nats: %w", err)
		}
		sinks = append(sinks, natsSink)
	}
	s.sink = sinks
	return nil
}

// cleanupInitResources closes partially initialized resources on startup failures.
func (s *Service) cleanupInitResources() {
	if s.sink != nil {
		_ = s.sink.Close()
		s.sink = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// Logger exposes the service logger.
func (s *Service) Logger() *slog.Logger {
	return s.logger
}

// Run diagnoses every request of a job and publishes one record per result.
// Params: context for cancellation and publishing, job.
// Returns: records in request order; publish errors are joined after every record was attempted.
func (s *Service) Run(ctx context.Context, job Job) ([]report.Record, error) {
	lang := domain.Language("")
	if strings.TrimSpace(job.Language) != "" {
		parsed, err := domain.ParseLanguage(job.Language)
		if err != nil {
			return nil, err
		}
		lang = parsed
	}

	var lines []domain.LogLine
	if job.LogPath != "" {
		read, err := ingest.ReadFile(job.LogPath, s.cfg.Service.LogEncoding)
		if err != nil {
			return nil, err
		}
		lines = read
		s.logger.Debug("log loaded", "path", job.LogPath, "lines", len(lines))
	}

	requests := buildRequests(job, lines, lang)
	if len(requests) == 0 {
		return nil, ErrNothingToDiagnose
	}

	results, err := s.engine.DiagnoseBatch(ctx, requests)
	if err != nil {
		return nil, err
	}

	runID := report.NewRunID()
	records := make([]report.Record, 0, len(results))
	var publishErrs []error
	for _, result := range results {
		record := report.NewRecord(runID, s.clock, result)
		records = append(records, record)
		if err := s.sink.Publish(ctx, record); err != nil {
			s.logger.Error("publish diagnosis failed",
				"record_id", record.ID,
				"identifier", result.Identifier.Raw,
				"permanent", report.IsPermanent(err),
				"error", err.Error(),
			)
			publishErrs = append(publishErrs, err)
		}
	}
	s.logger.Info("run finished", "run_id", runID, "records", len(records), "publish_errors", len(publishErrs))
	return records, errors.Join(publishErrs...)
}

// buildRequests expands a job into engine requests.
// Params: job, decoded log lines, language override.
// Returns: one request per identifier, or one per failure line when no identifier is given.
func buildRequests(job Job, lines []domain.LogLine, lang domain.Language) []diagnose.Request {
	var requests []diagnose.Request
	for _, raw := range job.Identifiers {
		for _, id := range strings.Split(raw, ",") {
			if strings.TrimSpace(id) == "" {
				continue
			}
			requests = append(requests, diagnose.Request{
				Identifier: id,
				Family:     job.Family,
				Lines:      lines,
				Target:     job.Target,
				Language:   lang,
			})
		}
	}
	if len(requests) > 0 {
		return requests
	}
	for _, failure := range ingest.FindFailures(lines) {
		requests = append(requests, diagnose.Request{
			Identifier: failure.TestName,
			Family:     job.Family,
			Lines:      lines,
			Target:     failure.Index,
			Language:   lang,
		})
	}
	return requests
}

// Lint reports rule overlaps found in the loaded rule pack.
// Params: none.
// Returns: overlap findings; shadowed findings mean a rule can never win for its own example.
func (s *Service) Lint() []engine.Overlap {
	return s.engine.Registry().Overlaps()
}

// Close flushes sinks and closes log files.
// Params: none.
// Returns: sink close error.
func (s *Service) Close() error {
	var err error
	if s.sink != nil {
		err = s.sink.Close()
		s.sink = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
	return err
}
