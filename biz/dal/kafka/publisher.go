package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/gogogo1024/custody-ledger/biz/engine"
	"github.com/gogogo1024/custody-ledger/biz/model"
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type WriterSource interface {
	Get(topic string) MessageWriter
}

// EntryEvent 已提交流水的事件
type EntryEvent struct {
	EntryID     uint64          `json:"entry_id,string"`
	UserID      string          `json:"user_id"`
	Currency    model.Currency  `json:"currency"`
	Amount      decimal.Decimal `json:"amount"`
	CauseType   model.CauseType `json:"cause_type"`
	Metadata    json.RawMessage `json:"metadata"`
	Available   decimal.Decimal `json:"available_after"`
	TokenLocked decimal.Decimal `json:"token_locked_after"`
	CommittedAt time.Time       `json:"committed_at"`
}

// TransferEvent 软锁状态变化事件，不包含兑换码
type TransferEvent struct {
	TransferID  string               `json:"transfer_id"`
	UserID      string               `json:"user_id"`
	Status      model.TransferStatus `json:"status"`
	AmountToken decimal.Decimal      `json:"amount_token"`
	AmountFiat  decimal.Decimal      `json:"amount_fiat"`
	ExternalRef string               `json:"external_ref,omitempty"`
	At          time.Time            `json:"at"`
}

const (
	defaultBatchSize = 100
	flushInterval    = 10 * time.Millisecond
	queueSize        = 10000
)

// Publisher 事件批量写入 Kafka：单个协程攒批，满批或定时刷出
// 事件只是通知，账本本身才是事实来源，队列满时丢弃并告警
type Publisher struct {
	writers       WriterSource
	entryTopic    string
	transferTopic string
	queue         chan kafka.Message
	closeCh       chan struct{}
	done          chan struct{}
}

var _ engine.CommitHook = (*Publisher)(nil)

func NewPublisher(writers WriterSource, entryTopic, transferTopic string) *Publisher {
	p := &Publisher{
		writers:       writers,
		entryTopic:    entryTopic,
		transferTopic: transferTopic,
		queue:         make(chan kafka.Message, queueSize),
		closeCh:       make(chan struct{}),
		done:          make(chan struct{}),
	}
	go p.batchWriter()
	return p
}

// AfterCommit 投递本次事务的全部流水
func (p *Publisher) AfterCommit(ctx context.Context, c *engine.Commit) {
	for _, e := range c.Entries {
		p.enqueue(p.entryTopic, c.UserID, EntryEvent{
			EntryID:     e.ID,
			UserID:      e.UserID,
			Currency:    e.Currency,
			Amount:      e.Amount,
			CauseType:   e.CauseType,
			Metadata:    e.Metadata,
			Available:   c.Balance.Available(e.Currency),
			TokenLocked: c.Balance.TokenLocked,
			CommittedAt: e.CreatedAt,
		})
	}
}

func (p *Publisher) PublishTransfer(t *model.ExternalTransfer, at time.Time) {
	p.enqueue(p.transferTopic, t.UserID, TransferEvent{
		TransferID:  t.ID,
		UserID:      t.UserID,
		Status:      t.Status,
		AmountToken: t.AmountToken,
		AmountFiat:  t.AmountFiat,
		ExternalRef: t.ExternalRef,
		At:          at,
	})
}

func (p *Publisher) enqueue(topic, key string, v any) {
	if topic == "" {
		return
	}
	body, err := json.Marshal(v)
	if err != nil {
		hlog.Errorf("[EventKafkaBatch] 序列化事件失败, topic=%s, err=%v", topic, err)
		return
	}
	msg := kafka.Message{Topic: topic, Key: []byte(key), Value: body}
	select {
	case p.queue <- msg:
	default:
		hlog.Warnf("[EventKafkaBatch] 队列已满, 丢弃事件, topic=%s, key=%s", topic, key)
	}
}

// Close 写完剩余数据再退出
func (p *Publisher) Close() {
	close(p.closeCh)
	<-p.done
}

func (p *Publisher) batchWriter() {
	defer close(p.done)
	batches := make(map[string][]kafka.Message)
	pending := 0
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	flushAll := func() {
		for topic, batch := range batches {
			p.flush(topic, batch)
			delete(batches, topic)
		}
		pending = 0
	}
	for {
		select {
		case msg := <-p.queue:
			batches[msg.Topic] = append(batches[msg.Topic], msg)
			pending++
			if pending >= defaultBatchSize {
				flushAll()
			}
		case <-ticker.C:
			if pending > 0 {
				flushAll()
			}
		case <-p.closeCh:
			for {
				select {
				case msg := <-p.queue:
					batches[msg.Topic] = append(batches[msg.Topic], msg)
				default:
					flushAll()
					return
				}
			}
		}
	}
}

func (p *Publisher) flush(topic string, batch []kafka.Message) {
	if len(batch) == 0 {
		return
	}
	writer := p.writers.Get(topic)
	if writer == nil {
		hlog.Errorf("[EventKafkaBatch] Kafka writer未初始化，topic=%v，无法写入Kafka", topic)
		return
	}
	// writer 已绑定 topic，消息上不能再带 topic
	msgs := make([]kafka.Message, len(batch))
	for i, m := range batch {
		m.Topic = ""
		msgs[i] = m
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := writer.WriteMessages(ctx, msgs...); err != nil {
		hlog.Errorf("[EventKafkaBatch] 写入Kafka失败，topic=%v，err=%v", topic, err)
		return
	}
	hlog.Debugf("[EventKafkaBatch] 写入Kafka成功，topic=%v，消息数量=%d", topic, len(msgs))
}
