package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

type offsetReader interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, time int64) (int64, error)
}

type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (sarama.PartitionConsumer, error)
}

type messageSender interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
}

type replayDependencies struct {
	offsets  offsetReader
	consumer partitionSource
	// producer - nil в dry-run.
	producer messageSender
	closers  []func() error
}

func (d *replayDependencies) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i]()
	}
}

var newReplayDependencies = func(cfg config) (*replayDependencies, error) {
	clientConfig := sarama.NewConfig()
	clientConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	deps := &replayDependencies{offsets: client, closers: []func() error{client.Close}}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		deps.close()
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	deps.consumer = consumer
	deps.closers = append(deps.closers, consumer.Close)

	if !cfg.execute {
		return deps, nil
	}

	producer, err := sarama.NewSyncProducer(cfg.brokers, kafka.NewProducerConfig())
	if err != nil {
		deps.close()
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	deps.producer = producer
	deps.closers = append(deps.closers, producer.Close)
	return deps, nil
}

type replayStats struct {
	scanned  int
	replayed int
	skipped  int
}

func (s *replayStats) add(other replayStats) {
	s.scanned += other.scanned
	s.replayed += other.replayed
	s.skipped += other.skipped
}

// replay сканирует партиции DLQ по возрастанию номера, пока не наберёт cfg.limit сообщений.
func replay(ctx context.Context, cfg config, deps *replayDependencies) (replayStats, error) {
	var total replayStats
	if cfg.execute && deps.producer == nil {
		return total, errors.New("producer is required in execute mode")
	}

	partitions, err := deps.offsets.Partitions(cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", cfg.sourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		remaining := cfg.limit - total.scanned
		if remaining <= 0 {
			break
		}
		stats, err := replayPartition(ctx, cfg, deps, partition, remaining)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func replayPartition(ctx context.Context, cfg config, deps *replayDependencies, partition int32, limit int) (replayStats, error) {
	var stats replayStats

	oldest, err := deps.offsets.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := deps.offsets.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if cfg.fromNewest && newest-int64(limit) > oldest {
		start = newest - int64(limit)
	}

	pc, err := deps.consumer.ConsumePartition(cfg.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	logger := log.WithFields(log.Fields{"topic": cfg.sourceTopic, "partition": partition})
	idle := time.NewTimer(cfg.idleTimeout)
	defer idle.Stop()

	for stats.scanned < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			logger.Debug("partition idle, moving on")
			return stats, nil
		case cerr, ok := <-pc.Errors():
			if ok && cerr != nil {
				return stats, fmt.Errorf("partition %d: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(cfg.idleTimeout)

			stats.scanned++
			if err := handleLetter(cfg, deps, msg, &stats, logger); err != nil {
				return stats, err
			}
			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}

func handleLetter(cfg config, deps *replayDependencies, msg *sarama.ConsumerMessage, stats *replayStats, logger *log.Entry) error {
	entry := logger.WithField("offset", msg.Offset)

	letter, err := decodeLetter(msg)
	if err != nil {
		stats.skipped++
		entry.WithError(err).Warn("skip dead letter")
		return nil
	}
	if !cfg.kind.accepts(letter.kind) {
		stats.skipped++
		return nil
	}

	entry = entry.WithFields(log.Fields{"kind": letter.kind, "target_topic": letter.topic, "key": letter.key})
	if !cfg.execute {
		stats.replayed++
		entry.Info("replay candidate")
		return nil
	}

	if _, _, err := deps.producer.SendMessage(letter.producerMessage()); err != nil {
		return fmt.Errorf("replay offset %d to %s: %w", msg.Offset, letter.topic, err)
	}
	stats.replayed++
	entry.Info("dead letter replayed")
	return nil
}
