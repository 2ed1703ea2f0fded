package kafka

import (
	"Atrium/internal/api/config"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
)

// 消息事件类型，供平台侧分析消费者订阅
const (
	EventMessageCreated = "message.created"
	EventMessageRead    = "message.read"
	EventMessageDeleted = "message.deleted"
)

// MessageEvent 出站消息事件
type MessageEvent struct {
	Type           string    `json:"type"`
	MessageID      uint64    `json:"messageId"`
	ConversationID uint64    `json:"conversationId"`
	SenderID       uint64    `json:"senderId"`
	ReceiverID     uint64    `json:"receiverId"`
	OccurredAt     time.Time `json:"occurredAt"`
}

type EventProducer interface {
	PublishMessageEvent(evt *MessageEvent) error
	Close() error
}

type syncProducerImpl struct {
	producer sarama.SyncProducer
	topic    string
}

// newSaramaConfig 统一初始化 sarama.Config，避免代码重复
func newSaramaConfig(kafkaCfg config.KafkaConfig) *sarama.Config {
	c := sarama.NewConfig()

	if kafkaCfg.Sasl.Enable {
		c.Net.SASL.Enable = true
		c.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		c.Net.SASL.User = kafkaCfg.Sasl.Username
		c.Net.SASL.Password = kafkaCfg.Sasl.Password
	}

	c.Producer.RequiredAcks = sarama.WaitForAll
	c.Producer.Retry.Max = 3
	c.Producer.Return.Successes = true

	return c
}

// NewEventProducer 创建同步生产者；brokers 为空时返回 nil，事件静默关闭
func NewEventProducer(kafkaCfg config.KafkaConfig) (EventProducer, error) {
	if len(kafkaCfg.Brokers) == 0 {
		return nil, nil
	}

	p, err := sarama.NewSyncProducer(kafkaCfg.Brokers, newSaramaConfig(kafkaCfg))
	if err != nil {
		return nil, err
	}
	return &syncProducerImpl{producer: p, topic: kafkaCfg.MessageTopic}, nil
}

// PublishMessageEvent 以会话 ID 为 Key，同一会话的事件保序
func (s *syncProducerImpl) PublishMessageEvent(evt *MessageEvent) error {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(evt.ConversationID, 10)),
		Value: sarama.ByteEncoder(data),
	}
	_, _, err = s.producer.SendMessage(msg)
	return err
}

func (s *syncProducerImpl) Close() error {
	return s.producer.Close()
}
