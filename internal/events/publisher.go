// Package events delivers post-commit expiry notifications to interested
// consumers. The vault service stays unaware of transports; everything here
// adapts vault.ExpiryNotifier to a concrete sink.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/tokenvault/pkg/vault"
)

const (
	subjectPrefix        = "vault.expired"
	defaultMaxReconnects = 10
	defaultReconnectWait = 2 * time.Second
)

// Config holds NATS connection settings for the expiry publisher.
type Config struct {
	URL            string
	ConnectionName string
	MaxReconnects  int
	ReconnectWait  time.Duration
}

// Publisher emits one core NATS message per expired batch. Publish failures
// are logged and swallowed; the journal already carries the burn accounting,
// so losing a notification never loses value.
type Publisher struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// NewPublisher connects to NATS with reconnect and disconnect handlers wired
// into the supplied logger.
func NewPublisher(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = defaultMaxReconnects
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = defaultReconnectWait
	}
	options := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", conn.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("nats connection closed")
		}),
	}
	conn, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Publisher{conn: conn, logger: logger}, nil
}

// NotifyExpired publishes the event on vault.expired.<token_type>.
func (publisher *Publisher) NotifyExpired(_ context.Context, event vault.ExpiryEvent) {
	payload, err := encodeExpiryEvent(event)
	if err != nil {
		publisher.logger.Error("encode expiry event", zap.Error(err))
		return
	}
	subject := subjectFor(event.TokenType)
	if err := publisher.conn.Publish(subject, payload); err != nil {
		publisher.logger.Error("publish expiry event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

// Close drains the connection so buffered messages flush before shutdown.
func (publisher *Publisher) Close() {
	if publisher.conn == nil {
		return
	}
	if err := publisher.conn.Drain(); err != nil {
		publisher.logger.Warn("drain nats connection", zap.Error(err))
		publisher.conn.Close()
	}
}

func subjectFor(tokenType string) string {
	return fmt.Sprintf("%s.%s", subjectPrefix, tokenType)
}

func encodeExpiryEvent(event vault.ExpiryEvent) ([]byte, error) {
	return json.Marshal(expiryMessage{
		Account:      event.Account,
		TokenType:    event.TokenType,
		Amount:       event.Amount.Int64(),
		PrunedAtUnix: event.PrunedAtUnix,
	})
}

type expiryMessage struct {
	Account      string `json:"account"`
	TokenType    string `json:"token_type"`
	Amount       int64  `json:"amount"`
	PrunedAtUnix int64  `json:"pruned_at_unix"`
}
