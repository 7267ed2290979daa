package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/gogogo1024/custody-ledger/conf"
)

// Writers 按 topic 复用 kafka.Writer
type Writers struct {
	brokers []string
	writers sync.Map // map[string]*kafka.Writer
}

func NewWriters(c conf.Kafka) (*Writers, error) {
	if len(c.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	w := &Writers{brokers: c.Brokers}
	for _, topic := range c.Topics {
		w.Get(topic)
	}
	return w, nil
}

// Get 获取指定 topic 的 writer，按 key 哈希分区保证同一用户的事件有序
func (w *Writers) Get(topic string) MessageWriter {
	if val, ok := w.writers.Load(topic); ok {
		return val.(*kafka.Writer)
	}
	writer := &kafka.Writer{
		Addr:     kafka.TCP(w.brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
		Async:    true,
	}
	actual, _ := w.writers.LoadOrStore(topic, writer)
	return actual.(*kafka.Writer)
}

// Ping 测试 Kafka 连接
func (w *Writers) Ping(ctx context.Context) error {
	conn, err := kafka.DialContext(ctx, "tcp", w.brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to kafka: %w", err)
	}
	return conn.Close()
}

func (w *Writers) Close() {
	w.writers.Range(func(key, value interface{}) bool {
		if writer, ok := value.(*kafka.Writer); ok {
			_ = writer.Close()
		}
		return true
	})
}
