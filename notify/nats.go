package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"zone-contest-system/logger"
)

// NATSConfig holds the connection settings of the notification publisher
type NATSConfig struct {
	URL            string
	SubjectPrefix  string
	ConnectionName string
	MaxReconnects  int
	ReconnectWait  time.Duration
}

// NATSSender publishes notifications to <prefix>.<kind> for the push gateway to deliver
type NATSSender struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSSender connects to NATS
func NewNATSSender(cfg NATSConfig) (*NATSSender, error) {
	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSSender{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

// Subject returns the subject a notification kind is published on
func (s *NATSSender) Subject(kind Kind) string {
	return fmt.Sprintf("%s.%s", s.prefix, kind)
}

func (s *NATSSender) Send(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := s.nc.Publish(s.Subject(n.Kind), data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Close drains pending publishes and closes the connection
func (s *NATSSender) Close() {
	if s.nc == nil {
		return
	}
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
	}
}

// LogSender only logs notifications. Used when no broker is configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, n Notification) error {
	logger.InfoCtx(ctx, "Notification",
		zap.String("user_id", n.UserID),
		zap.String("type", string(n.Kind)),
		zap.String("title", n.Title),
		zap.String("body", n.Body),
	)
	return nil
}
