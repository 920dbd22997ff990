package runlog

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/flowgraph/types"
)

func TestPublisherSink(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, NewWatermillLogger(nil))
	defer pubSub.Close()

	messages, err := pubSub.Subscribe(ctx, "runs")
	require.NoError(t, err)

	sink := NewPublisherSink(pubSub, "runs")
	sent := entry("run-1", "llm", 2, types.NodeRetrying, time.Now())
	sent.Error = "timeout"
	require.NoError(t, sink.Append(ctx, sent))

	select {
	case msg := <-messages:
		msg.Ack()
		assert.Equal(t, "run-1", msg.Metadata.Get(MetadataRunID))
		assert.Equal(t, "llm", msg.Metadata.Get(MetadataNodeKey))
		assert.Equal(t, "2", msg.Metadata.Get(MetadataAttempt))
		assert.Equal(t, "RETRYING", msg.Metadata.Get(MetadataStatus))
		assert.NotEmpty(t, msg.UUID)

		got, err := DecodeEntry(msg)
		require.NoError(t, err)
		assert.Equal(t, sent.NodeKey, got.NodeKey)
		assert.Equal(t, sent.Attempt, got.Attempt)
		assert.Equal(t, sent.Status, got.Status)
		assert.Equal(t, "timeout", got.Error)
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}

func TestPublisherSinkDefaultTopic(t *testing.T) {
	sink := NewPublisherSink(gochannel.NewGoChannel(gochannel.Config{}, NewWatermillLogger(nil)), "")
	assert.Equal(t, DefaultTopic, sink.topic)
	assert.NoError(t, sink.Close())
}

func TestNewKafkaPublisherNeedsBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(nil, NewWatermillLogger(nil))
	assert.Error(t, err)
}
