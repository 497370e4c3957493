package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"trades-cli/internal/config"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink 将监控事件推送到 Kafka，以订单编号为消息键保证同一订单有序。
type KafkaSink struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

var _ Sink = (*KafkaSink)(nil)

// NewKafkaSink 根据配置创建 Kafka 推送。
func NewKafkaSink(cfg config.KafkaConfig, logger *zap.Logger) (*KafkaSink, error) {
	if !cfg.Enabled() {
		return nil, errors.New("monitor: 未配置 kafka brokers")
	}
	if cfg.Topic == "" {
		return nil, errors.New("monitor: kafka topic 不能为空")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            3,
		WriteBackoffMin:        100 * time.Millisecond,
		WriteBackoffMax:        time.Second,
		BatchTimeout:           50 * time.Millisecond,
	}
	return newKafkaSink(writer, cfg.Topic, logger), nil
}

func newKafkaSink(writer messageWriter, topic string, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{writer: writer, topic: topic, logger: logger}
}

// Publish 发送单条事件。
func (k *KafkaSink) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("monitor: 序列化 kafka 消息失败: %w", err)
	}

	key := event.OrderID
	if key == "" {
		key = string(event.Type)
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("monitor: 发送 kafka 消息失败: %w", err)
	}

	k.logger.Debug("kafka 消息已发送", zap.String("topic", k.topic), zap.String("key", key))
	return nil
}

// Close 关闭生产者。
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
