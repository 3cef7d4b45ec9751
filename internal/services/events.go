package services

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/lostfound/apiserver/internal/mq"
	"github.com/lostfound/apiserver/types"
)

// EventChannel is the broker channel carrying item lifecycle events.
const EventChannel = "item-events"

// Item lifecycle event kinds.
const (
	EventItemSubmitted = "item.submitted"
	EventItemApproved  = "item.approved"
	EventItemRejected  = "item.rejected"
)

// ItemEvent is the JSON payload published for every item lifecycle change.
type ItemEvent struct {
	Kind        string    `json:"kind"`
	ItemID      string    `json:"item_id"`
	Status      string    `json:"status"`
	SubmittedBy string    `json:"submitted_by,omitempty"`
	Moderator   string    `json:"moderator,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// EventPublisher publishes item lifecycle events to the configured broker.
// Publishing is best-effort: failures are logged, never surfaced to the
// request. A nil publisher (no broker configured) drops all events.
type EventPublisher struct {
	queue *mq.MQ
}

func NewEventPublisher(queue *mq.MQ) *EventPublisher {
	if queue == nil {
		return nil
	}
	return &EventPublisher{queue: queue}
}

// ItemSubmitted announces a freshly inserted pending report.
func (p *EventPublisher) ItemSubmitted(ctx context.Context, item types.Item) {
	if p == nil {
		return
	}
	p.publish(ctx, ItemEvent{
		Kind:        EventItemSubmitted,
		ItemID:      strconv.FormatInt(item.ID, 10),
		Status:      item.Status,
		SubmittedBy: item.SubmittedBy,
		OccurredAt:  time.Now(),
	})
}

// ItemModerated announces an approve or reject decision.
func (p *EventPublisher) ItemModerated(ctx context.Context, itemID int64, status, moderator string) {
	if p == nil {
		return
	}
	kind := EventItemApproved
	if status == types.ItemStatusRejected {
		kind = EventItemRejected
	}
	p.publish(ctx, ItemEvent{
		Kind:       kind,
		ItemID:     strconv.FormatInt(itemID, 10),
		Status:     status,
		Moderator:  moderator,
		OccurredAt: time.Now(),
	})
}

func (p *EventPublisher) publish(ctx context.Context, event ItemEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("item event marshal failed: %v", err)
		return
	}
	attrs := map[string]string{"kind": event.Kind}
	if _, err := p.queue.Publish(ctx, EventChannel, data, attrs); err != nil {
		log.Printf("item event publish failed: %v", err)
	}
}
