package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/magnifycash/backend/internal/domain/event"
)

// Notifier tails the event ledger and fans new entries out to subscribed
// websocket clients. Every event hits the firehose channel plus the channel
// of the account it is about.
type Notifier struct {
	repo         event.Repository
	hub          *Hub
	pollInterval time.Duration
	lastID       int64
}

func NewNotifier(repo event.Repository, hub *Hub, pollInterval time.Duration) *Notifier {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Notifier{repo: repo, hub: hub, pollInterval: pollInterval}
}

func (n *Notifier) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := n.tick(ctx); err != nil {
				return err
			}
		}
	}
}

func (n *Notifier) tick(ctx context.Context) error {
	events, err := n.repo.ListSince(ctx, n.lastID, 100)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if ev.ID > n.lastID {
			n.lastID = ev.ID
		}
		data := ev.Payload
		if len(data) == 0 {
			data = []byte(`{}`)
		}
		payload, _ := json.Marshal(map[string]any{
			"id":         ev.ID,
			"event":      ev.Name,
			"subject":    ev.Subject,
			"data":       json.RawMessage(data),
			"created_at": ev.CreatedAt.UTC().Format(time.RFC3339),
		})
		n.hub.Publish("events", payload)
		if ev.Subject != "" {
			n.hub.Publish("account:"+ev.Subject, payload)
		}
	}
	return nil
}
