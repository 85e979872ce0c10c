// Package kafkaapm bridges the job propagation contract to Kafka: trace
// metadata travels as record headers on produced messages and is lifted
// back into a trace on the consumer side.
package kafkaapm

import (
	"context"

	"github.com/IBM/sarama"

	"github.com/miniapm/miniapm-go/jobapm"
)

// InjectProducerMessage adds the current trace context to the message's
// record headers before it is produced.
func InjectProducerMessage(ctx context.Context, msg *sarama.ProducerMessage) {
	meta := jobapm.Inject(ctx, nil)
	for key, value := range meta {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{
			Key:   []byte(key),
			Value: []byte(value),
		})
	}
}

// MetadataFromMessage reads the propagation headers off a consumed
// message into the jobapm metadata form.
func MetadataFromMessage(msg *sarama.ConsumerMessage) map[string]string {
	meta := make(map[string]string, 3)
	for _, h := range msg.Headers {
		if h == nil {
			continue
		}
		switch key := string(h.Key); key {
		case jobapm.MetaTraceID, jobapm.MetaParentSpanID, jobapm.MetaSampled:
			meta[key] = string(h.Value)
		}
	}
	return meta
}

// WithMessage runs body inside a job span continuing the trace propagated
// on the message, named after its topic.
func WithMessage(ctx context.Context, msg *sarama.ConsumerMessage, body func(ctx context.Context) error) error {
	return jobapm.WithJob(ctx, msg.Topic, MetadataFromMessage(msg), body)
}
