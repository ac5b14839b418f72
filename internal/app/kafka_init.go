package app

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/rabbitmq"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
)

// brokers - подключения к Kafka и RabbitMQ. Оба опциональны.
type brokers struct {
	kafkaProducer *kafka.Producer
	rabbit        *rabbitmq.OutboxPublisher

	// publisher - fanout по всем брокерам, nil если брокеров нет.
	publisher domain.OutboxPublisher
	// dlq - outbox-события, исчерпавшие попытки публикации.
	dlq domain.OutboxPublisher
	// webhooks - очередь проверенных webhooks; nil, если Kafka не настроена.
	webhooks *kafka.WebhookDispatcher
}

// initBrokers подключает брокеры из конфигурации. Ошибка подключения фатальна:
// витрина без брокера работает, но с неверно настроенным брокером не стартует.
func initBrokers(cfg Config, logger *log.Entry) (*brokers, error) {
	b := &brokers{}
	var targets []outbox.NamedPublisher

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			return nil, fmt.Errorf("init kafka producer: %w", err)
		}
		b.kafkaProducer = producer
		b.webhooks = kafka.NewWebhookDispatcher(producer, kafka.TopicGatewayWebhooks)
		b.dlq = kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)
		targets = append(targets, outbox.NamedPublisher{
			Name:      "kafka",
			Publisher: kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents),
		})
		logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")
	}

	if cfg.RabbitMQURL != "" {
		publisher, err := rabbitmq.Dial(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			b.close(logger)
			return nil, fmt.Errorf("init rabbitmq publisher: %w", err)
		}
		b.rabbit = publisher
		targets = append(targets, outbox.NamedPublisher{Name: "rabbitmq", Publisher: publisher})
		logger.Info("rabbitmq publisher initialized")
	}

	if fanout := outbox.NewFanoutPublisher(targets...); fanout.Len() > 0 {
		b.publisher = fanout
	}
	return b, nil
}

// newGatewayConsumer создаёт consumer очереди webhooks с DLQ.
func newGatewayConsumer(cfg Config, b *brokers, applier kafka.GatewayEventApplier, logger *log.Entry) (*kafka.Consumer, error) {
	if b.kafkaProducer == nil {
		return nil, nil
	}
	return kafka.NewConsumer(
		cfg.KafkaBrokers,
		kafka.ConsumerGroupGatewayEvents,
		[]string{kafka.TopicGatewayWebhooks},
		kafka.NewGatewayEventHandler(applier, logger.WithField("component", "gateway-events")),
		kafka.ConsumerOptions{
			DLQ:        b.kafkaProducer,
			MaxRetries: cfg.KafkaConsumerMaxRetries,
			Logger:     logger.WithField("component", "kafka-consumer"),
		},
	)
}

func (b *brokers) close(logger *log.Entry) {
	if b == nil {
		return
	}
	if b.kafkaProducer != nil {
		if err := b.kafkaProducer.Close(); err != nil {
			logger.WithError(err).Warn("failed to close kafka producer")
		} else {
			logger.Info("kafka producer closed")
		}
	}
	if b.rabbit != nil {
		if err := b.rabbit.Close(); err != nil {
			logger.WithError(err).Warn("failed to close rabbitmq publisher")
		}
	}
}
