package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

// LogChannel writes notifications to a structured logger
type LogChannel struct {
	Logger *slog.Logger
}

func (c LogChannel) Deliver(ctx context.Context, n Notification) error {
	l := c.Logger
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "notification",
		"title", n.Title,
		"body", n.Body,
		"action", n.Action,
		"urgency", n.Urgency,
		"vibrate", n.Vibrate,
		"stop_id", n.StopID,
	)
	return nil
}

// PublisherMetrics is satisfied by metrics.Collector
type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	NATSSetConnected(connected bool)
}

// Publisher is the part of *nats.Conn a NATSChannel uses
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSChannel publishes notifications as JSON on <prefix>.<stop id>
type NATSChannel struct {
	pub     Publisher
	prefix  string
	metrics PublisherMetrics
}

func NewNATSChannel(pub Publisher, prefix string, m PublisherMetrics) *NATSChannel {
	if prefix == "" {
		prefix = "timeright.decisions"
	}
	return &NATSChannel{pub: pub, prefix: prefix, metrics: m}
}

// Subject returns the subject notifications for stopID go to
func (c *NATSChannel) Subject(stopID string) string {
	return fmt.Sprintf("%s.%s", c.prefix, subjectToken(stopID))
}

func (c *NATSChannel) Deliver(_ context.Context, n Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	err = c.pub.Publish(c.Subject(n.StopID), b)
	if c.metrics != nil {
		if err != nil {
			c.metrics.NATSPublishErrInc()
		} else {
			c.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Connect dials NATS and keeps the connected gauge current
func Connect(url string, logger *slog.Logger, m PublisherMetrics) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	setConnected := func(v bool) {
		if m != nil {
			m.NATSSetConnected(v)
		}
	}
	nc, err := nats.Connect(url,
		nats.Name("timeright"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			setConnected(false)
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			setConnected(true)
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			setConnected(false)
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	setConnected(true)
	return nc, nil
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS tokens cannot contain spaces, wildcards or dots
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
