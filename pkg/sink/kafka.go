package sink

import (
	"context"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/ajitpratap0/hubtap/pkg/config"
	"github.com/ajitpratap0/hubtap/pkg/errors"
	jsonpool "github.com/ajitpratap0/hubtap/pkg/json"
	"github.com/ajitpratap0/hubtap/pkg/metrics"
)

// KafkaSink publishes output documents to a Kafka topic. Every document goes
// to partition 0 so downstream consumers see records and their checkpoints
// in emission order.
type KafkaSink struct {
	mu       sync.Mutex
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
	closed   bool
}

func newKafkaSink(cfg *config.OutputConfig, logger *zap.Logger) (*KafkaSink, error) {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Partitioner = sarama.NewManualPartitioner

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to Kafka").
			WithDetail("brokers", cfg.Brokers)
	}

	return &KafkaSink{
		producer: producer,
		topic:    cfg.Topic,
		logger:   logger.With(zap.String("component", "kafka_sink")),
	}, nil
}

// WriteRecord publishes one record document.
func (s *KafkaSink) WriteRecord(ctx context.Context, stream string, record map[string]interface{}, extractedAt time.Time) error {
	return s.publish(ctx, stream, RecordMessage(stream, record, extractedAt))
}

// WriteState publishes a state document.
func (s *KafkaSink) WriteState(ctx context.Context, value map[string]interface{}) error {
	return s.publish(ctx, "", StateMessage(value))
}

func (s *KafkaSink) publish(_ context.Context, key string, msg Message) error {
	buf, err := jsonpool.MarshalToBuffer(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode output document")
	}
	defer jsonpool.PutBuffer(buf)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New(errors.ErrorTypeInternal, "sink is closed")
	}

	pm := &sarama.ProducerMessage{
		Topic:     s.topic,
		Partition: 0,
		Value:     sarama.ByteEncoder(buf.Bytes()),
	}
	if key != "" {
		pm.Key = sarama.StringEncoder(key)
	}

	// SendMessage is synchronous; the pooled buffer outlives the send.
	if _, _, err := s.producer.SendMessage(pm); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to publish output document").
			WithDetail("topic", s.topic)
	}

	metrics.SinkBytesWritten.Add(float64(buf.Len()))
	return nil
}

// Close shuts the producer down.
func (s *KafkaSink) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.producer.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to close Kafka producer")
	}
	return nil
}
