package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogogo1024/custody-ledger/biz/engine"
	"github.com/gogogo1024/custody-ledger/biz/model"
)

type captureWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

type captureSource struct {
	mu      sync.Mutex
	writers map[string]*captureWriter
}

func (s *captureSource) Get(topic string) MessageWriter {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.writers[topic]
	if !ok {
		w = &captureWriter{}
		s.writers[topic] = w
	}
	return w
}

func TestPublisherRoutesEventsByTopic(t *testing.T) {
	src := &captureSource{writers: map[string]*captureWriter{}}
	p := NewPublisher(src, "entries", "transfers")
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	p.AfterCommit(context.Background(), &engine.Commit{
		UserID:  "u1",
		Balance: model.Balance{UserID: "u1", TokenAvailable: decimal.NewFromInt(7), TokenLocked: decimal.NewFromInt(3)},
		Entries: []*model.LedgerEntry{{
			ID: 9, UserID: "u1", Currency: model.CurrencyToken, Amount: decimal.NewFromInt(-3),
			CauseType: model.CauseExternalTransferDebit, Metadata: json.RawMessage(`{"code":"x"}`), CreatedAt: now,
		}},
	})
	p.PublishTransfer(&model.ExternalTransfer{
		ID: "t1", UserID: "u1", Code: "SGT-SECRET", Status: model.TransferClaimed,
		AmountToken: decimal.NewFromInt(3), AmountFiat: decimal.RequireFromString("1.5"),
	}, now)
	p.Close()

	require.Len(t, src.writers["entries"].msgs, 1)
	entry := src.writers["entries"].msgs[0]
	assert.Equal(t, "u1", string(entry.Key))
	assert.Empty(t, entry.Topic)
	var ev EntryEvent
	require.NoError(t, json.Unmarshal(entry.Value, &ev))
	assert.Equal(t, uint64(9), ev.EntryID)
	assert.True(t, ev.Available.Equal(decimal.NewFromInt(7)))
	assert.True(t, ev.TokenLocked.Equal(decimal.NewFromInt(3)))

	require.Len(t, src.writers["transfers"].msgs, 1)
	raw := src.writers["transfers"].msgs[0].Value
	assert.NotContains(t, string(raw), "SGT-SECRET")
	var tev TransferEvent
	require.NoError(t, json.Unmarshal(raw, &tev))
	assert.Equal(t, model.TransferClaimed, tev.Status)
}

func TestPublisherSkipsUnconfiguredTopic(t *testing.T) {
	src := &captureSource{writers: map[string]*captureWriter{}}
	p := NewPublisher(src, "entries", "")
	p.PublishTransfer(&model.ExternalTransfer{ID: "t1", UserID: "u1"}, time.Now())
	p.Close()
	assert.Empty(t, src.writers)
}
