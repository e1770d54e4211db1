package mq

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		if string(key) != "GRP1" {
			return errors.New("unexpected key " + string(key))
		}
		if msg.Topic != "groupbuy.group_event" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		return nil
	})

	p := NewKafkaPublisher(producer)
	require.NoError(t, p.Publish(context.Background(), "groupbuy.group_event", "GRP1", []byte(`{}`)))
	require.NoError(t, p.Close())
}

func TestKafkaPublisher_PublishFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewKafkaPublisher(producer)
	err := p.Publish(context.Background(), "t", "k", []byte("v"))
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestKafkaPublisher_CancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	p := NewKafkaPublisher(producer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, "t", "k", nil), context.Canceled)
	require.NoError(t, p.Close())
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	p := NewLogPublisher(zap.New(core))

	require.NoError(t, p.Publish(context.Background(), "topic", "key", []byte("payload")))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "key", logs.All()[0].ContextMap()["key"])
}
