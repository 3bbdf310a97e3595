package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"solana-pool-sentinel/internal/domain"
)

// KafkaConfig configures the Kafka producer.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// NewKafkaProducer creates a sync producer that waits for all in-sync replicas.
func NewKafkaProducer(cfg KafkaConfig) (sarama.SyncProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no brokers")
	}

	sc := sarama.NewConfig()
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 10
	sc.Producer.Retry.Backoff = 200 * time.Millisecond
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Version = sarama.V2_1_0_0

	sp, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return sp, nil
}

// SplitBrokers parses a comma separated broker list.
func SplitBrokers(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// KafkaSink publishes events as JSON messages.
type KafkaSink struct {
	topic    string
	producer sarama.SyncProducer
}

// NewKafkaSink creates a KafkaSink. The sink owns producer and closes it.
func NewKafkaSink(producer sarama.SyncProducer, topic string) (*KafkaSink, error) {
	if topic == "" {
		return nil, errors.New("topic empty")
	}
	return &KafkaSink{topic: topic, producer: producer}, nil
}

func (s *KafkaSink) Name() string { return "kafka" }

type jobResultMessage struct {
	Kind      Kind   `json:"kind"`
	Time      int64  `json:"time"`
	Queue     string `json:"queue"`
	JobID     string `json:"jobId"`
	TxID      string `json:"txId"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error,omitempty"`
	ElapsedMs int64  `json:"elapsedMs"`
}

type tokenMessage struct {
	Kind  Kind                `json:"kind"`
	Time  int64               `json:"time"`
	Token *domain.TokenRecord `json:"token"`
}

// Handle publishes ev keyed by transaction signature or token key.
func (s *KafkaSink) Handle(ctx context.Context, ev Event) error {
	var (
		key     string
		payload []byte
		err     error
	)

	switch ev.Kind {
	case KindJobResult:
		r := ev.Result
		msg := jobResultMessage{
			Kind:      ev.Kind,
			Time:      ev.Time.UnixMilli(),
			Queue:     r.Queue,
			JobID:     r.JobID,
			TxID:      r.TxID,
			Status:    string(r.Status),
			Attempts:  r.Attempts,
			ElapsedMs: r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			msg.Error = r.Err.Error()
		}
		key = r.TxID
		payload, err = json.Marshal(msg)
	case KindTokenStored:
		key = ev.Token.Key
		payload, err = json.Marshal(tokenMessage{Kind: ev.Kind, Time: ev.Time.UnixMilli(), Token: ev.Token})
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Kind, err)
	}

	// SyncProducer does not take a context; check before sending.
	if err := ctx.Err(); err != nil {
		return err
	}

	_, _, err = s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Kind, err)
	}
	return nil
}

// Close closes the producer.
func (s *KafkaSink) Close() error {
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}
