// Package messaging publishes miner events to Kafka. Events are protobuf
// encoded so downstream consumers need no shared schema package.
package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"

	"github.com/bardlex/gosolo/internal/record"
	"github.com/bardlex/gosolo/pkg/circuit"
	"github.com/bardlex/gosolo/pkg/errors"
	"github.com/bardlex/gosolo/pkg/log"
	"github.com/bardlex/gosolo/pkg/retry"
)

// messageWriter is the part of *kafka.Writer the client uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaClient wraps kafka-go producers with protobuf encoding, one writer
// per topic.
type KafkaClient struct {
	brokers        []string
	logger         *log.Logger
	writers        map[string]messageWriter
	writersMu      sync.RWMutex
	newWriter      func(topic string) messageWriter
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// NewKafkaClient creates a new Kafka client
func NewKafkaClient(brokers []string, logger *log.Logger) *KafkaClient {
	if logger == nil {
		logger = log.Nop()
	}
	k := &KafkaClient{
		brokers:        brokers,
		logger:         logger.WithComponent("kafka"),
		writers:        make(map[string]messageWriter),
		circuitBreaker: circuit.New(circuit.StorageConfig("kafka")),
		retryConfig:    retry.NetworkConfig(),
	}
	k.newWriter = k.kafkaWriter
	return k
}

func (k *KafkaClient) kafkaWriter(topic string) messageWriter {
	return &kafka.Writer{
		Addr:                   kafka.TCP(k.brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
		BatchSize:              1,
		BatchTimeout:           10 * time.Millisecond,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
	}
}

// GetProducer gets or creates the writer for a topic
func (k *KafkaClient) GetProducer(topic string) messageWriter {
	k.writersMu.RLock()
	if writer, exists := k.writers[topic]; exists {
		k.writersMu.RUnlock()
		return writer
	}
	k.writersMu.RUnlock()

	k.writersMu.Lock()
	defer k.writersMu.Unlock()

	// Double-check after acquiring write lock
	if writer, exists := k.writers[topic]; exists {
		return writer
	}

	writer := k.newWriter(topic)
	k.writers[topic] = writer
	k.logger.Info("created Kafka producer", "topic", topic)
	return writer
}

// PublishProto publishes a protobuf message to Kafka
func (k *KafkaClient) PublishProto(ctx context.Context, topic, key string, msg proto.Message, headers ...kafka.Header) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "protobuf_marshal",
			"failed to marshal protobuf message").
			WithContext("topic", topic).
			WithContext("key", key)
	}

	return k.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, k.retryConfig, func() error {
			writer := k.GetProducer(topic)
			kafkaMsg := kafka.Message{
				Key:     []byte(key),
				Value:   data,
				Headers: headers,
				Time:    time.Now(),
			}

			if err := writer.WriteMessages(ctx, kafkaMsg); err != nil {
				return errors.Wrap(err, errors.ErrorTypeMessaging, "publish_message",
					"failed to publish message to Kafka").
					WithContext("topic", topic).
					WithContext("key", key).
					WithContext("message_size", len(data))
			}

			k.logger.Debug("published message", "topic", topic, "key", key, "size", len(data))
			return nil
		})
	})
}

// RecordBlock publishes a block-found event keyed by the block hash.
func (k *KafkaClient) RecordBlock(ctx context.Context, b *record.Block) error {
	event, err := BlockFoundEvent(b)
	if err != nil {
		return err
	}
	header, err := EventTimeHeader(b.FoundAt)
	if err != nil {
		return err
	}
	return k.PublishProto(ctx, TopicBlocksFound, b.Hash, event, header)
}

// Close closes all producers
func (k *KafkaClient) Close() error {
	k.writersMu.Lock()
	defer k.writersMu.Unlock()

	var lastErr error
	for topic, writer := range k.writers {
		if err := writer.Close(); err != nil {
			k.logger.WithError(err).Error("failed to close producer", "topic", topic)
			lastErr = err
		}
	}

	k.writers = make(map[string]messageWriter)
	return lastErr
}
