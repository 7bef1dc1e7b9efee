// Package results fans completed race records out over NATS so scoreboards
// and archives outside the node can follow along.
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"

	"github.com/sprintgate/sprintgate-go/pkg/model"
	"github.com/sprintgate/sprintgate-go/pkg/race"
)

// DefaultSubject is the subject records are published on.
const DefaultSubject = "sprintgate.results"

// Config configures a Publisher.
type Config struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
	Logger        *slog.Logger
	Clock         clockwork.Clock
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Subject:       DefaultSubject,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// Gate is one gate crossing in a published result.
type Gate struct {
	Timestamp float64 `json:"timestamp"`
	Mode      string  `json:"timing_mode"`
	Sequence  uint64  `json:"sequence"`
}

// Message is the published JSON body.
type Message struct {
	RecordID  string  `json:"record_id"`
	RunnerID  int64   `json:"runner_id"`
	Runner    string  `json:"runner"`
	Duration  float64 `json:"duration"`
	Start     Gate    `json:"start"`
	Finish    Gate    `json:"finish"`
	Published float64 `json:"published"`
}

// Publisher is a race.RecordSink that publishes each record to NATS.
type Publisher struct {
	conn    Conn
	subject string
	clock   clockwork.Clock
	logger  *slog.Logger
}

// Connect dials NATS and returns a Publisher.
func Connect(cfg Config) (*Publisher, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "results")

	opts := []nats.Option{
		nats.Name("sprintgate"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS error", "error", err)
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	cfg.Logger = logger
	return NewPublisher(nc, cfg), nil
}

// NewPublisher wraps an established connection.
func NewPublisher(conn Conn, cfg Config) *Publisher {
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Publisher{conn: conn, subject: cfg.Subject, clock: cfg.Clock, logger: cfg.Logger}
}

// NewMessage builds the published body for rec.
func NewMessage(rec race.Record, published time.Time) Message {
	return Message{
		RecordID:  rec.ID.String(),
		RunnerID:  rec.RunnerID,
		Runner:    rec.RunnerName,
		Duration:  rec.Seconds(),
		Start:     gate(rec.Start),
		Finish:    gate(rec.Finish),
		Published: model.UnixSeconds(published),
	}
}

func gate(evt model.TriggerEvent) Gate {
	return Gate{
		Timestamp: model.UnixSeconds(evt.Timestamp),
		Mode:      evt.Mode.String(),
		Sequence:  evt.Sequence,
	}
}

// SaveRecord publishes rec and waits for the server to accept it.
func (p *Publisher) SaveRecord(ctx context.Context, rec race.Record) error {
	data, err := json.Marshal(NewMessage(rec, p.clock.Now()))
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	msg := &nats.Msg{
		Subject: p.subject,
		Data:    data,
		Header: nats.Header{
			nats.MsgIdHdr: []string{rec.ID.String()},
			"Runner":      []string{rec.RunnerName},
		},
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush result: %w", err)
	}

	p.logger.Debug("result published", "subject", p.subject, "record_id", rec.ID, "runner", rec.RunnerName)
	return nil
}

// Close closes the connection.
func (p *Publisher) Close() error {
	p.conn.Close()
	return nil
}

var _ race.RecordSink = (*Publisher)(nil)
