package runlog

import (
	"context"
	"strconv"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/juju/errors"

	"github.com/warriorguo/flowgraph/types"
	"github.com/warriorguo/flowgraph/utils"
)

const (
	DefaultTopic = "flowgraph.runlog"

	MetadataRunID   = "run_id"
	MetadataNodeKey = "node_key"
	MetadataAttempt = "attempt"
	MetadataStatus  = "status"
)

var (
	_ types.RunLogSink = &PublisherSink{}
)

// PublisherSink publishes every entry as a JSON message on a watermill topic.
type PublisherSink struct {
	publisher message.Publisher
	topic     string
}

func NewPublisherSink(publisher message.Publisher, topic string) *PublisherSink {
	if topic == "" {
		topic = DefaultTopic
	}
	return &PublisherSink{publisher: publisher, topic: topic}
}

func (p *PublisherSink) Append(ctx context.Context, entry types.RunLogEntry) error {
	payload, err := utils.Serialize(entry)
	if err != nil {
		return errors.Trace(err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataRunID, entry.RunID)
	msg.Metadata.Set(MetadataNodeKey, entry.NodeKey)
	msg.Metadata.Set(MetadataAttempt, strconv.Itoa(entry.Attempt))
	msg.Metadata.Set(MetadataStatus, entry.Status.String())
	msg.SetContext(ctx)

	return errors.Annotatef(p.publisher.Publish(p.topic, msg), "publish to %s", p.topic)
}

func (p *PublisherSink) Close() error {
	return errors.Trace(p.publisher.Close())
}

// DecodeEntry turns a published message back into its entry.
func DecodeEntry(msg *message.Message) (types.RunLogEntry, error) {
	entry := types.RunLogEntry{}
	err := utils.Unserialize(msg.Payload, &entry)
	return entry, errors.Annotatef(err, "decode message %s", msg.UUID)
}

// NewKafkaPublisher builds a synchronous kafka publisher for PublisherSink.
func NewKafkaPublisher(brokers []string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	if len(brokers) == 0 || brokers[0] == "" {
		return nil, errors.NotValidf("empty kafka brokers")
	}

	saramaPublisherConfig := sarama.NewConfig()
	saramaPublisherConfig.Producer.Return.Successes = true
	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: saramaPublisherConfig,
		},
		logger,
	)
	if err != nil {
		return nil, errors.Annotate(err, "create kafka publisher")
	}
	return publisher, nil
}
