package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/models"
)

// EventPublisher turns committed payment events into queue jobs. Each
// event is enqueued at most once per dedupe key.
type EventPublisher struct {
	queue   *Queue
	outcome OutcomeCounter
}

// OutcomeCounter records one hit per freshly enqueued event type.
type OutcomeCounter interface {
	Add(ctx context.Context, outcome string) error
}

func NewEventPublisher(queue *Queue) *EventPublisher {
	return &EventPublisher{queue: queue}
}

// WithCounter attaches an outcome counter. Duplicates are not counted.
func (p *EventPublisher) WithCounter(c OutcomeCounter) *EventPublisher {
	p.outcome = c
	return p
}

func (p *EventPublisher) Publish(ctx context.Context, event models.PaymentEvent) error {
	jobType, ok := JobTypeForEvent(event.EventType)
	if !ok {
		return fmt.Errorf("no job for event type %q", event.EventType)
	}
	payload := PaymentEventJobPayloadFromEvent(event).ToMap()
	_, err := p.queue.EnqueueUnique(ctx, jobType, event.DedupeKey, payload)
	if errors.Is(err, ErrDuplicateJob) {
		log.Debugf("[JobQueue] %s already enqueued", event.DedupeKey)
		return nil
	}
	if err != nil {
		return err
	}
	if p.outcome != nil {
		if cerr := p.outcome.Add(ctx, event.EventType); cerr != nil {
			log.Warnf("[JobQueue] counting %s failed: %v", event.EventType, cerr)
		}
	}
	return nil
}
