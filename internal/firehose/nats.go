// Package firehose mirrors broadcast events onto NATS subjects so downstream
// consumers (analytics, archival) can tap the live stream without holding a
// websocket connection.
package firehose

import (
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

type Publisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

func NewPublisher(url string, logger *slog.Logger) (*Publisher, error) {
	logger = logger.With(slog.String("component", "firehose"))
	nc, err := nats.Connect(url,
		nats.Name("routewatch"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			logger.Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, logger: logger}, nil
}

// Publish mirrors one broadcast. The subject is routewatch.<event>.<scope>;
// errors are logged, never surfaced, because the firehose is best-effort.
func (p *Publisher) Publish(event, scope string, payload []byte) {
	subject := "routewatch." + subjectToken(event) + "." + subjectToken(scope)
	if err := p.nc.Publish(subject, payload); err != nil {
		p.logger.Warn("Firehose publish failed", slog.String("subject", subject), slog.Any("error", err))
	}
}

func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
