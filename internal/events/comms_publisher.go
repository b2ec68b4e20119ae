package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/park285/chat-dispatch-bot/internal/obslog"
)

// DefaultSubjectPrefix is followed by the outcome, e.g. chatbot.dispatch.handled.
const DefaultSubjectPrefix = "chatbot.dispatch"

// Connect dials NATS with reconnect handling logged through obslog.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			obslog.L().Warn("comms_disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			obslog.L().Info("comms_reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect comms: %w", err)
	}
	obslog.L().Info("comms_connected", zap.String("url", nc.ConnectedUrl()), zap.String("name", name))
	return nc, nil
}

// CommsPublisher publishes JSON events to <prefix>.<outcome>.
type CommsPublisher struct {
	nc     *nats.Conn
	prefix string
}

func NewCommsPublisher(nc *nats.Conn, subjectPrefix string) *CommsPublisher {
	if strings.TrimSpace(subjectPrefix) == "" {
		subjectPrefix = DefaultSubjectPrefix
	}
	return &CommsPublisher{nc: nc, prefix: strings.TrimSuffix(subjectPrefix, ".")}
}

// Subject returns the subject an outcome is published on.
func (p *CommsPublisher) Subject(outcome string) string {
	outcome = strings.ToLower(strings.TrimSpace(outcome))
	if outcome == "" {
		outcome = "unknown"
	}
	return p.prefix + "." + outcome
}

func (p *CommsPublisher) PublishDispatch(_ context.Context, event *DispatchEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode dispatch event: %w", err)
	}
	subject := p.Subject(event.Outcome)
	if err := p.nc.Publish(subject, data); err != nil {
		obslog.L().Error("comms_publish_error", zap.String("subject", subject), zap.Error(err))
		return err
	}
	return nil
}
