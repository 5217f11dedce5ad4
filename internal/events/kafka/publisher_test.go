package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models/events"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublisher_Publish(t *testing.T) {
	w := &recordingWriter{}
	p := &Publisher{writer: w}

	err := p.Publish(context.Background(), events.TopicTransactionRecorded, "be-1", events.TransactionRecorded{
		TransactionID:    "tx-1",
		BudgetEstimateID: "be-1",
		TransactionType:  "COMMITMENT",
		Amount:           decimal.NewFromInt(25),
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, events.TopicTransactionRecorded, msg.Topic)
	assert.Equal(t, []byte("be-1"), msg.Key)

	var got events.TransactionRecorded
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, "tx-1", got.TransactionID)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(25)))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublisher_WriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := &Publisher{writer: &recordingWriter{err: boom}}

	err := p.Publish(context.Background(), events.TopicAlertRaised, "a-1", events.AlertRaised{AlertID: "a-1"})
	assert.ErrorIs(t, err, boom)
}

func TestPublisher_UnencodableEvent(t *testing.T) {
	p := &Publisher{writer: &recordingWriter{}}

	err := p.Publish(context.Background(), events.TopicAlertRaised, "a-1", func() {})
	assert.Error(t, err)
}
