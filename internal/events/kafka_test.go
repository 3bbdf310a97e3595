package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-pool-sentinel/internal/domain"
	"solana-pool-sentinel/internal/worker"
)

func newMockProducer(t *testing.T) *mocks.SyncProducer {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	return mocks.NewSyncProducer(t, cfg)
}

func TestKafkaSink_PublishesJobResult(t *testing.T) {
	sp := newMockProducer(t)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var msg jobResultMessage
		if err := json.Unmarshal(val, &msg); err != nil {
			return err
		}
		if msg.Kind != KindJobResult || msg.TxID != "sig1" || msg.Status != "failed" || msg.Error != "boom" {
			return errors.New("unexpected payload")
		}
		return nil
	})

	sink, err := NewKafkaSink(sp, "pool-sentinel.events")
	require.NoError(t, err)

	ev := Event{
		Kind: KindJobResult,
		Time: time.UnixMilli(1_700_000_000_000),
		Result: &worker.JobResult{
			Queue:    "solQueue",
			JobID:    "j1",
			TxID:     "sig1",
			Attempts: 1,
			Status:   worker.StatusFailed,
			Err:      errors.New("boom"),
			Duration: 40 * time.Millisecond,
		},
	}
	require.NoError(t, sink.Handle(context.Background(), ev))
	require.NoError(t, sink.Close())
}

func TestKafkaSink_PublishesToken(t *testing.T) {
	sp := newMockProducer(t)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var msg struct {
			Kind  Kind               `json:"kind"`
			Token domain.TokenRecord `json:"token"`
		}
		if err := json.Unmarshal(val, &msg); err != nil {
			return err
		}
		if msg.Kind != KindTokenStored || msg.Token.Address != "Mint111" {
			return errors.New("unexpected payload")
		}
		return nil
	})

	sink, err := NewKafkaSink(sp, "t")
	require.NoError(t, err)

	rec := &domain.TokenRecord{Key: "solana:Mint111", Address: "Mint111", Network: "solana"}
	require.NoError(t, sink.Handle(context.Background(), Event{Kind: KindTokenStored, Time: time.Now(), Token: rec}))
	require.NoError(t, sink.Close())
}

func TestKafkaSink_SendError(t *testing.T) {
	sp := newMockProducer(t)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink, err := NewKafkaSink(sp, "t")
	require.NoError(t, err)

	err = sink.Handle(context.Background(), Event{Kind: KindTokenStored, Token: &domain.TokenRecord{Key: "k"}})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, sink.Close())
}

func TestKafkaSink_CancelledContextSkipsSend(t *testing.T) {
	sp := newMockProducer(t)
	sink, err := NewKafkaSink(sp, "t")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = sink.Handle(ctx, Event{Kind: KindTokenStored, Token: &domain.TokenRecord{Key: "k"}})
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, sink.Close())
}

func TestNewKafkaSink_RequiresTopic(t *testing.T) {
	_, err := NewKafkaSink(newMockProducer(t), "")
	assert.Error(t, err)
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, SplitBrokers(" a:9092, ,b:9092 "))
	assert.Empty(t, SplitBrokers(""))
}

func TestNewKafkaProducer_NoBrokers(t *testing.T) {
	_, err := NewKafkaProducer(KafkaConfig{})
	assert.Error(t, err)
}
