package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Message - запись для отправки в Kafka. Пустой Key оставляет выбор партиции
// sarama.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// ProducerMessage переводит Message в формат sarama.
func (m Message) ProducerMessage() *sarama.ProducerMessage {
	pm := &sarama.ProducerMessage{
		Topic:     m.Topic,
		Value:     sarama.ByteEncoder(m.Value),
		Timestamp: time.Now().UTC(),
	}
	if m.Key != "" {
		pm.Key = sarama.StringEncoder(m.Key)
	}
	for name, value := range m.Headers {
		pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(value)})
	}
	return pm
}

// NewProducerConfig - настройки idempotent sync producer'а: подтверждение
// всеми репликами и один запрос в полёте на соединение.
func NewProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "storefront"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// Producer отправляет события заказов, webhooks и DLQ-письма.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
}

func NewProducer(brokers []string) (*Producer, error) {
	sp, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer: %w", err)
	}
	return newProducer(sp), nil
}

func newProducer(sp sarama.SyncProducer) *Producer {
	return &Producer{sync: sp, logger: log.WithField("component", "kafka-producer")}
}

// Send отправляет сообщение и ждёт подтверждения брокера.
func (p *Producer) Send(msg Message) error {
	partition, offset, err := p.sync.SendMessage(msg.ProducerMessage())
	entry := p.logger.WithFields(log.Fields{"topic": msg.Topic, "key": msg.Key})
	if err != nil {
		entry.WithError(err).Error("kafka send failed")
		return fmt.Errorf("send to %s: %w", msg.Topic, err)
	}
	entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("kafka message acknowledged")
	return nil
}

// SendJSON кодирует v в JSON и отправляет через Send.
func (p *Producer) SendJSON(topic, key string, v any, headers map[string]string) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message for %s: %w", topic, err)
	}
	return p.Send(Message{Topic: topic, Key: key, Value: body, Headers: headers})
}

func (p *Producer) Close() error {
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
