package repository

import (
	"context"
	"errors"

	"PortfolioAgents/internal/domain/models"
	domrepo "PortfolioAgents/internal/domain/repository"
)

// MessagePublisher is the producer side used by KafkaDecisionPublisher.
type MessagePublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// KafkaDecisionPublisher writes decision events keyed by ticker, so events
// for one ticker stay ordered on one partition.
type KafkaDecisionPublisher struct {
	producer MessagePublisher
	topic    string
}

var _ domrepo.DecisionPublisher = (*KafkaDecisionPublisher)(nil)

func NewKafkaDecisionPublisher(producer MessagePublisher, topic string) *KafkaDecisionPublisher {
	return &KafkaDecisionPublisher{producer: producer, topic: topic}
}

func (p *KafkaDecisionPublisher) PublishDecision(ctx context.Context, ev models.DecisionEvent) error {
	return p.producer.Publish(ctx, p.topic, []byte(ev.Ticker), ev)
}

// MultiPublisher fans one event out to every publisher and joins their errors.
type MultiPublisher []domrepo.DecisionPublisher

var _ domrepo.DecisionPublisher = MultiPublisher(nil)

func (m MultiPublisher) PublishDecision(ctx context.Context, ev models.DecisionEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.PublishDecision(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
