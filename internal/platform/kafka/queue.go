// Package kafka implements the job queue on a Kafka topic. Jobs are keyed
// by task, so every job for a task lands on one partition and is handled
// by one consumer of the group at a time.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/phrazzld/taskd/internal/queue"
)

const (
	redeliveriesHeader = "redeliveries"
	deadTopicSuffix    = ".dead"
)

// Config holds the Kafka connection settings.
type Config struct {
	Brokers         []string
	Topic           string
	Group           string
	MaxRedeliveries int
}

// Queue is a queue.Queue backed by a Kafka topic and consumer group.
type Queue struct {
	client   sarama.Client
	producer sarama.SyncProducer
	group    sarama.ConsumerGroup

	topic           string
	deadTopic       string
	maxRedeliveries int
	logger          *slog.Logger

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New connects to the brokers and prepares a producer and a consumer group.
func New(cfg Config, logger *slog.Logger) (*Queue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if cfg.MaxRedeliveries <= 0 {
		cfg.MaxRedeliveries = queue.DefaultMaxRedeliveries
	}

	config := sarama.NewConfig()
	config.Version = sarama.V2_1_0_0
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("kafka: connect: %w", err)
	}

	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kafka: create producer: %w", err)
	}

	var group sarama.ConsumerGroup
	if cfg.Group != "" {
		group, err = sarama.NewConsumerGroupFromClient(cfg.Group, client)
		if err != nil {
			_ = producer.Close()
			_ = client.Close()
			return nil, fmt.Errorf("kafka: create consumer group: %w", err)
		}
	}

	return newQueue(client, producer, group, cfg, logger), nil
}

func newQueue(client sarama.Client, producer sarama.SyncProducer, group sarama.ConsumerGroup, cfg Config, logger *slog.Logger) *Queue {
	return &Queue{
		client:          client,
		producer:        producer,
		group:           group,
		topic:           cfg.Topic,
		deadTopic:       cfg.Topic + deadTopicSuffix,
		maxRedeliveries: cfg.MaxRedeliveries,
		logger:          logger.With("component", "kafka_queue", "topic", cfg.Topic),
	}
}

// Publish writes the job to the topic and waits for all in-sync replicas.
func (q *Queue) Publish(ctx context.Context, job queue.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := buildMessage(q.topic, job)
	if err != nil {
		return err
	}
	partition, offset, err := q.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("kafka: publish job %s: %w", job.ID, err)
	}

	q.logger.Debug("job published",
		"job_id", job.ID,
		"job_kind", job.Kind,
		"partition", partition,
		"offset", offset)
	return nil
}

// Deliveries joins the consumer group and streams its messages. Each
// partition claim waits for the previous delivery to be acked or nacked
// before handing out the next one.
func (q *Queue) Deliveries(ctx context.Context) (<-chan queue.Delivery, error) {
	if q.group == nil {
		return nil, errors.New("kafka: queue has no consumer group configured")
	}

	out := make(chan queue.Delivery)
	handler := &groupHandler{queue: q, out: out}

	q.wg.Add(2)
	go func() {
		defer q.wg.Done()
		defer close(out)
		for {
			// Consume returns on every rebalance and must be called again.
			if err := q.group.Consume(ctx, []string{q.topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				q.logger.Error("consumer group error", "error", err)
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-q.group.Errors():
				if !ok {
					return
				}
				q.logger.Error("consumer error", "error", err)
			}
		}
	}()

	return out, nil
}

// Ping refreshes topic metadata from the brokers.
func (q *Queue) Ping(ctx context.Context) error {
	if q.client.Closed() {
		return queue.ErrQueueClosed
	}
	if err := q.client.RefreshMetadata(q.topic); err != nil {
		return fmt.Errorf("kafka: refresh metadata: %w", err)
	}
	return nil
}

// Close shuts down the consumer group, producer and client.
func (q *Queue) Close() error {
	var errs []error
	q.closeOnce.Do(func() {
		if q.group != nil {
			if err := q.group.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		q.wg.Wait()
		if err := q.producer.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := q.client.Close(); err != nil && !errors.Is(err, sarama.ErrClosedClient) {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

// redeliver re-publishes a nacked job with its redelivery count raised, or
// moves it to the dead-letter topic once the ceiling is reached.
func (q *Queue) redeliver(job queue.Job) error {
	job.Redeliveries++
	topic := q.topic
	if job.Redeliveries > q.maxRedeliveries {
		topic = q.deadTopic
		q.logger.Error("moving job to dead-letter topic after max redeliveries",
			"job_id", job.ID,
			"job_kind", job.Kind,
			"dead_topic", topic)
	}

	msg, err := buildMessage(topic, job)
	if err != nil {
		return err
	}
	if _, _, err := q.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka: redeliver job %s: %w", job.ID, err)
	}
	return nil
}

func buildMessage(topic string, job queue.Job) (*sarama.ProducerMessage, error) {
	data, err := queue.Encode(job)
	if err != nil {
		return nil, fmt.Errorf("kafka: encode job %s: %w", job.ID, err)
	}
	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(job.Key()),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte(redeliveriesHeader), Value: []byte(strconv.Itoa(job.Redeliveries))},
		},
	}, nil
}

func redeliveriesFrom(headers []*sarama.RecordHeader) int {
	for _, h := range headers {
		if h == nil || string(h.Key) != redeliveriesHeader {
			continue
		}
		n, err := strconv.Atoi(string(h.Value))
		if err == nil && n >= 0 {
			return n
		}
	}
	return 0
}

type groupHandler struct {
	queue *Queue
	out   chan<- queue.Delivery
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if !h.handle(ctx, session, msg) {
				return nil
			}
		}
	}
}

// handle passes one message to a worker and commits it once settled. It
// returns false if the session ended before the message was settled, in
// which case the offset is left for the next owner of the partition.
func (h *groupHandler) handle(ctx context.Context, session sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) bool {
	logger := h.queue.logger.With("partition", msg.Partition, "offset", msg.Offset)

	job, err := queue.Decode(msg.Value)
	if err != nil {
		logger.Error("skipping undecodable message", "error", err)
		session.MarkMessage(msg, "")
		return true
	}
	job.Redeliveries = redeliveriesFrom(msg.Headers)

	d := &delivery{job: job, settled: make(chan bool, 1)}
	select {
	case h.out <- d:
	case <-ctx.Done():
		return false
	}

	select {
	case acked := <-d.settled:
		if !acked {
			if err := h.queue.redeliver(job); err != nil {
				// Leave the offset uncommitted so the message is consumed again.
				logger.Error("failed to redeliver nacked job", "job_id", job.ID, "error", err)
				return false
			}
		}
		session.MarkMessage(msg, "")
		return true
	case <-ctx.Done():
		return false
	}
}

type delivery struct {
	job     queue.Job
	once    sync.Once
	settled chan bool
}

func (d *delivery) Job() queue.Job { return d.job }

func (d *delivery) Ack() {
	d.once.Do(func() { d.settled <- true })
}

func (d *delivery) Nack() {
	d.once.Do(func() { d.settled <- false })
}

var _ queue.Queue = (*Queue)(nil)
