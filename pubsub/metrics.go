package pubsub

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"planner-api/domain"
)

type busMetrics struct {
	published     metric.Int64Counter
	delivered     metric.Int64Counter
	dropped       metric.Int64Counter
	subscriptions metric.Int64UpDownCounter
}

func newBusMetrics(meter metric.Meter) (*busMetrics, error) {
	published, err := meter.Int64Counter("planner.bus.published",
		metric.WithDescription("Number of events published on the bus"),
	)
	if err != nil {
		return nil, err
	}
	delivered, err := meter.Int64Counter("planner.bus.delivered",
		metric.WithDescription("Number of events queued for a subscriber"),
	)
	if err != nil {
		return nil, err
	}
	dropped, err := meter.Int64Counter("planner.bus.dropped",
		metric.WithDescription("Number of queued events discarded because a subscriber fell behind"),
	)
	if err != nil {
		return nil, err
	}
	subs, err := meter.Int64UpDownCounter("planner.bus.subscriptions",
		metric.WithDescription("Number of live subscriptions per topic"),
	)
	if err != nil {
		return nil, err
	}
	return &busMetrics{published: published, delivered: delivered, dropped: dropped, subscriptions: subs}, nil
}

func topicAttr(topic domain.Topic) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("topic", string(topic)))
}

func (m *busMetrics) publish(topic domain.Topic, receivers int) {
	ctx := context.Background()
	m.published.Add(ctx, 1, topicAttr(topic))
	if receivers > 0 {
		m.delivered.Add(ctx, int64(receivers), topicAttr(topic))
	}
}

func (m *busMetrics) drop(topic domain.Topic) {
	m.dropped.Add(context.Background(), 1, topicAttr(topic))
}

func (m *busMetrics) subscribed(topics []domain.Topic, delta int64) {
	for _, topic := range topics {
		m.subscriptions.Add(context.Background(), delta, topicAttr(topic))
	}
}
