package stats

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// GenerationSummary is one progress report, emitted after each evaluated
// generation.
type GenerationSummary struct {
	RunID              string    `json:"run_id"`
	Generation         int       `json:"generation"`
	BestFitness        float64   `json:"best_fitness"`
	MeanFitness        float64   `json:"mean_fitness"`
	WorstFitness       float64   `json:"worst_fitness"`
	UniqueFingerprints int       `json:"unique_fingerprints"`
	UniqueTopologies   int       `json:"unique_topologies"`
	CacheHits          int       `json:"cache_hits"`
	CacheMisses        int       `json:"cache_misses"`
	EvaluationFailures int       `json:"evaluation_failures"`
	DurationMillis     int64     `json:"duration_millis"`
	ReportedAtUTC      time.Time `json:"reported_at_utc"`
}

// Sink receives progress reports. Reports are append-only; a report that
// fails to deliver must never abort the run that produced it, so callers log
// Report errors and keep going.
type Sink interface {
	Report(ctx context.Context, summary GenerationSummary) error
	Close() error
}

var ErrSinkClosed = errors.New("sink is closed")

// ZapSink writes each report as one structured log line.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger}
}

func (s *ZapSink) Report(_ context.Context, summary GenerationSummary) error {
	s.logger.Info("generation progress",
		zap.String("run", summary.RunID),
		zap.Int("generation", summary.Generation),
		zap.Float64("best_fitness", summary.BestFitness),
		zap.Float64("mean_fitness", summary.MeanFitness),
		zap.Int("unique_fingerprints", summary.UniqueFingerprints),
		zap.Int("cache_hits", summary.CacheHits),
		zap.Int("cache_misses", summary.CacheMisses),
		zap.Int("evaluation_failures", summary.EvaluationFailures),
		zap.Int64("duration_ms", summary.DurationMillis),
	)
	return nil
}

func (s *ZapSink) Close() error { return nil }

// JSONLSink appends one JSON line per report to a file.
type JSONLSink struct {
	mu     sync.Mutex
	file   *os.File
	closed bool
}

func NewJSONLSink(path string) (*JSONLSink, error) {
	if path == "" {
		return nil, errors.New("jsonl sink path is required")
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLSink{file: file}, nil
}

func (s *JSONLSink) Report(_ context.Context, summary GenerationSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	_, err = s.file.Write(data)
	return err
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

// messageWriter is the part of kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaSinkConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// KafkaSink publishes reports to a topic, keyed by run id so one run's
// reports stay on one partition in order.
type KafkaSink struct {
	writer messageWriter
	closed atomic.Bool
}

func NewKafkaSink(cfg KafkaSinkConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka sink requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka sink topic is required")
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = time.Second
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{writer: writer}, nil
}

func (s *KafkaSink) Report(ctx context.Context, summary GenerationSummary) error {
	if s.closed.Load() {
		return ErrSinkClosed
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(summary.RunID),
		Value: payload,
		Time:  summary.ReportedAtUTC,
	})
}

func (s *KafkaSink) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.writer.Close()
}

// MultiSink fans each report out to every child sink.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	out := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	return &MultiSink{sinks: out}
}

func (s *MultiSink) Report(ctx context.Context, summary GenerationSummary) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Report(ctx, summary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *MultiSink) Close() error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
