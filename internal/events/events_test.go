package events

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	data, err := Encode(QrEvent{QrCodeID: "q1", UserID: "u1", Name: "Menu", Type: "url", At: at})
	require.NoError(t, err)

	ev, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "q1", ev.QrCodeID)
	assert.Equal(t, "Menu", ev.Name)
	assert.True(t, at.Equal(ev.At))
}

type failingPublisher struct{ Noop }

func (failingPublisher) Publish(context.Context, string, QrEvent) error {
	return errors.New("nats: connection closed")
}

func TestEmitLogsFailures(t *testing.T) {
	var out bytes.Buffer
	Emit(context.Background(), failingPublisher{}, SubjectQrDeleted, QrEvent{QrCodeID: "q9"}, zerolog.New(&out))
	assert.Contains(t, out.String(), "publish event failed")
	assert.Contains(t, out.String(), "q9")

	out.Reset()
	Emit(context.Background(), Noop{}, SubjectQrCreated, QrEvent{}, zerolog.New(&out))
	Emit(context.Background(), nil, SubjectQrCreated, QrEvent{}, zerolog.New(&out))
	assert.Empty(t, out.String())
}
