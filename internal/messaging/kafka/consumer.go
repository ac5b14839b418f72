package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 200 * time.Millisecond
)

// MessageHandler обрабатывает одно сообщение. Ошибку, обёрнутую Permanent,
// не повторяют.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку как неисправимую: сообщение сразу уходит в DLQ.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// ConsumerOptions настраивает повторы и DLQ.
type ConsumerOptions struct {
	// DLQ получает письмо, когда попытки исчерпаны. Без него offset такого
	// сообщения не фиксируется, и оно будет прочитано снова.
	DLQ        *Producer
	MaxRetries int
	RetryDelay time.Duration
	Logger     *log.Entry
}

func (o ConsumerOptions) withDefaults() ConsumerOptions {
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.Logger == nil {
		o.Logger = log.WithField("component", "kafka-consumer")
	}
	return o
}

// Consumer читает topics в consumer group и передаёт сообщения handler'у.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler MessageHandler
	opts    ConsumerOptions
}

// NewConsumer подключается к группе groupID. Новая группа начинает с самого
// старого offset.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, opts ConsumerOptions) (*Consumer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "storefront"
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("join consumer group %s: %w", groupID, err)
	}
	return newConsumer(group, topics, handler, opts), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, opts ConsumerOptions) *Consumer {
	return &Consumer{group: group, topics: topics, handler: handler, opts: opts.withDefaults()}
}

// Run читает сообщения до отмены ctx и закрывает группу.
func (c *Consumer) Run(ctx context.Context) error {
	logger := c.opts.Logger.WithField("topics", c.topics)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range c.group.Errors() {
			logger.WithError(err).Warn("consumer group error")
		}
	}()

	logger.Info("kafka consumer started")
	// Consume возвращается после каждого rebalance.
	for ctx.Err() == nil {
		if err := c.group.Consume(ctx, c.topics, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				break
			}
			logger.WithError(err).Error("consume session ended with error")
		}
	}

	err := c.group.Close()
	wg.Wait()
	if err != nil {
		return fmt.Errorf("close consumer group: %w", err)
	}
	logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim фиксирует offset только после успешной обработки или отправки
// в DLQ.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok || msg == nil {
				return nil
			}
			if err := c.process(ctx, msg); err != nil {
				c.opts.Logger.WithError(err).WithFields(messageFields(msg)).Error("message left uncommitted")
				continue
			}
			session.MarkMessage(msg, "")
		}
	}
}

// process вызывает handler до MaxRetries раз (с учётом HeaderRetryCount) с
// удваивающейся паузой. Исчерпанное сообщение уходит в DLQ.
func (c *Consumer) process(ctx context.Context, msg *sarama.ConsumerMessage) error {
	attempts := retryCount(msg)
	for {
		err := c.handler(ctx, msg)
		if err == nil {
			return nil
		}
		attempts++

		if isPermanent(err) || attempts >= c.opts.MaxRetries {
			return c.deadLetter(msg, err, attempts)
		}

		c.opts.Logger.WithError(err).WithFields(messageFields(msg)).
			WithField("attempt", attempts).Warn("handler failed, retrying")

		if c.opts.RetryDelay > 0 {
			pause := time.NewTimer(c.opts.RetryDelay << (attempts - 1))
			select {
			case <-ctx.Done():
				pause.Stop()
				return ctx.Err()
			case <-pause.C:
			}
		}
	}
}

func (c *Consumer) deadLetter(msg *sarama.ConsumerMessage, cause error, attempts int) error {
	if c.opts.DLQ == nil {
		return cause
	}
	if err := c.sendToDLQ(msg, cause, attempts); err != nil {
		return fmt.Errorf("dead letter for %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
	}
	c.opts.Logger.WithFields(messageFields(msg)).WithField("attempts", attempts).Info("message moved to DLQ")
	return nil
}

func (c *Consumer) sendToDLQ(msg *sarama.ConsumerMessage, cause error, attempts int) error {
	failedAt := time.Now().UTC()
	body, err := json.Marshal(DeadLetter{
		OriginalTopic:     msg.Topic,
		OriginalPartition: msg.Partition,
		OriginalOffset:    msg.Offset,
		OriginalKey:       string(msg.Key),
		OriginalValue:     string(msg.Value),
		EventID:           headerValue(msg, HeaderEventID),
		ErrorMessage:      cause.Error(),
		FailedAt:          failedAt,
		Attempts:          attempts,
	})
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}

	return c.opts.DLQ.Send(Message{
		Topic: TopicDeadLetterQueue,
		Key:   string(msg.Key),
		Value: body,
		Headers: map[string]string{
			HeaderOriginalTopic: msg.Topic,
			HeaderErrorMessage:  cause.Error(),
			HeaderFailedAt:      failedAt.Format(time.RFC3339),
		},
	})
}

// retryCount читает число уже сделанных попыток из заголовка.
func retryCount(msg *sarama.ConsumerMessage) int {
	n, err := strconv.Atoi(headerValue(msg, HeaderRetryCount))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func messageFields(msg *sarama.ConsumerMessage) log.Fields {
	return log.Fields{"topic": msg.Topic, "partition": msg.Partition, "offset": msg.Offset}
}
