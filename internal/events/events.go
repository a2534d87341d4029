// Package events publishes QR code lifecycle notifications on NATS.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	SubjectQrCreated = "qr.qrcode.created"
	SubjectQrUpdated = "qr.qrcode.updated"
	SubjectQrDeleted = "qr.qrcode.deleted"
)

// QrEvent is the msgpack payload published for every QR code mutation.
type QrEvent struct {
	QrCodeID string    `msgpack:"qr_code_id"`
	UserID   string    `msgpack:"user_id"`
	Name     string    `msgpack:"name,omitempty"`
	Type     string    `msgpack:"type,omitempty"`
	Source   string    `msgpack:"source,omitempty"`
	At       time.Time `msgpack:"at"`
}

func Encode(ev QrEvent) ([]byte, error) {
	return msgpack.Marshal(ev)
}

func Decode(data []byte) (QrEvent, error) {
	var ev QrEvent
	err := msgpack.Unmarshal(data, &ev)
	return ev, err
}

type Publisher interface {
	Publish(ctx context.Context, subject string, ev QrEvent) error
	Close() error
}

type NATSPublisher struct {
	nc *nats.Conn
}

// Connect dials NATS with unbounded reconnects. Publishes during an outage are buffered by the client.
func Connect(url string, log zerolog.Logger) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("qr_backend"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(1 * time.Second),
		nats.ReconnectJitter(500*time.Millisecond, 2*time.Second),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info().Msg("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	log.Info().Str("url", nc.ConnectedUrl()).Msg("connected to NATS")
	return &NATSPublisher{nc: nc}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, ev QrEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := Encode(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", subject, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.nc.Publish(subject, data)
}

func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

// Noop discards events; used when NATS_URL is unset.
type Noop struct{}

func (Noop) Publish(context.Context, string, QrEvent) error { return nil }

func (Noop) Close() error { return nil }

// Emit publishes without failing the caller; errors are only logged.
func Emit(ctx context.Context, p Publisher, subject string, ev QrEvent, log zerolog.Logger) {
	if p == nil {
		return
	}
	if err := p.Publish(context.WithoutCancel(ctx), subject, ev); err != nil {
		log.Warn().Err(err).Str("subject", subject).Str("qr_code_id", ev.QrCodeID).Msg("publish event failed")
	}
}
