// Package nats publishes crawl lifecycle events to NATS subjects.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// Config controls the NATS connection.
type Config struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	Name          string `mapstructure:"name"`
}

type conn interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// Publisher sends JSON events as NATS messages.
type Publisher struct {
	nc     conn
	prefix string
}

// Connect dials NATS with reconnects enabled.
func Connect(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.Name
	if name == "" {
		name = "newscrawler"
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	logger.Info("connected to nats", zap.String("url", nc.ConnectedUrl()))
	return newPublisher(nc, cfg.SubjectPrefix), nil
}

func newPublisher(nc conn, prefix string) *Publisher {
	return &Publisher{nc: nc, prefix: strings.Trim(prefix, ".")}
}

// Subject returns the subject a topic is published on.
func (p *Publisher) Subject(topic string) string {
	if p.prefix == "" {
		return topic
	}
	return p.prefix + "." + topic
}

// Publish sends payload as JSON and flushes so delivery errors surface here.
// The returned id is the Nats-Msg-Id header.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", errors.New("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	id := uuid.NewString()
	msg := nats.NewMsg(p.Subject(topic))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, id)
	msg.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	if err := p.nc.PublishMsg(msg); err != nil {
		return "", fmt.Errorf("publish to %s: %w", msg.Subject, err)
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return "", fmt.Errorf("flush nats: %w", err)
	}
	return id, nil
}

// Close drains in-flight messages and closes the connection.
func (p *Publisher) Close() error {
	return p.nc.Drain()
}
