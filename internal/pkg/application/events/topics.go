package events

import (
	"context"

	"github.com/diwise/messaging-golang/pkg/messaging"

	"github.com/diwise/smarthome-monitor/internal/pkg/application/realtime"
	"github.com/diwise/smarthome-monitor/pkg/types"
)

//go:generate moq -rm -out topics_mock.go . TopicPublisher

type TopicPublisher interface {
	PublishOnTopic(ctx context.Context, message messaging.TopicMessage) error
}

type topicSink struct {
	publisher TopicPublisher
}

// NewTopicSink returns a sink that republishes every event that has a topic
// of its own on the message bus.
func NewTopicSink(publisher TopicPublisher) realtime.Sink {
	return &topicSink{publisher: publisher}
}

func (t *topicSink) Publish(ctx context.Context, scope realtime.Scope, e types.Event) error {
	msg, ok := e.(messaging.TopicMessage)
	if !ok {
		return nil
	}

	return t.publisher.PublishOnTopic(ctx, msg)
}
