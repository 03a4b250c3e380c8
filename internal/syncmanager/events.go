// Package syncmanager implements the per-tenant single-writer sync
// state machine: heartbeats, adaptive timeouts, and stuck-operation
// recovery, built as plain goroutines and channels rather than a
// durable workflow engine (see DESIGN.md). Lifecycle events are
// published over NATS as the sync lifecycle's event bus.
package syncmanager

import (
	"encoding/json"

	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/ragserver/internal/catalog"
)

// EventPublisher emits sync lifecycle events. A nil *nats.Conn makes
// every publish a no-op, so the manager runs without NATS in tests.
type EventPublisher struct {
	nc *nats.Conn
}

// NewEventPublisher wraps an established NATS connection. nc may be nil.
func NewEventPublisher(nc *nats.Conn) *EventPublisher {
	return &EventPublisher{nc: nc}
}

// LifecycleEvent is published on subject "sync.<tenant_slug>.<stage>"
// whenever the executor advances state, so NATS subscribers can follow
// progress without polling the HTTP surface. Nothing in this repository
// subscribes; the ragctl sync watch dashboard polls GET /sync/status.
type LifecycleEvent struct {
	OperationID string               `json:"operation_id"`
	TenantSlug  string               `json:"tenant_slug"`
	Stage       catalog.ProgressStage `json:"stage"`
	Percentage  int                  `json:"percentage"`
	Status      catalog.OperationStatus `json:"status,omitempty"`
	Error       string               `json:"error,omitempty"`
}

func (p *EventPublisher) publish(ev LifecycleEvent) {
	if p == nil || p.nc == nil {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	subject := "sync." + ev.TenantSlug + "." + string(ev.Stage)
	_ = p.nc.Publish(subject, body)
}
