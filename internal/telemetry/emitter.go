// Package telemetry records operational events alongside the session data:
// joins, bans, persistence failures. Events land in their own docstore
// collection so retention and analysis stay separate from gameplay state.
package telemetry

import (
	"context"
	"time"

	"github.com/louisbranch/tablesync/internal/docstore"
	"github.com/louisbranch/tablesync/internal/platform/id"
)

// eventCollection holds emitted events, one document per event.
const eventCollection = "telemetry"

// Severity classifies an event.
type Severity string

const (
	// SeverityInfo marks routine operational events.
	SeverityInfo Severity = "info"
	// SeverityWarn marks degraded but recoverable conditions.
	SeverityWarn Severity = "warn"
	// SeverityError marks failures needing operator attention.
	SeverityError Severity = "error"
)

// Event is one operational record.
type Event struct {
	Severity  Severity          `json:"severity"`
	Name      string            `json:"name"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Emitter appends events to the store. A nil emitter or an emitter without
// a store is a no-op, so callers never guard their emit sites.
type Emitter struct {
	store       docstore.Store
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewEmitter builds an emitter. Clock and id generator are injectable for
// tests; nil means time.Now and the platform generator.
func NewEmitter(store docstore.Store, clock func() time.Time, idGenerator func() (string, error)) *Emitter {
	if clock == nil {
		clock = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}
	return &Emitter{store: store, clock: clock, idGenerator: idGenerator}
}

// Emit appends one event, stamping the timestamp when unset.
func (e *Emitter) Emit(ctx context.Context, evt Event) error {
	if e == nil || e.store == nil {
		return nil
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = e.clock().UTC()
	}
	if evt.Severity == "" {
		evt.Severity = SeverityInfo
	}

	eventID, err := e.idGenerator()
	if err != nil {
		return err
	}
	fields := map[string]any{
		"severity":  string(evt.Severity),
		"name":      evt.Name,
		"timestamp": evt.Timestamp.Format(time.RFC3339Nano),
	}
	if len(evt.Attrs) > 0 {
		attrs := make(map[string]any, len(evt.Attrs))
		for k, v := range evt.Attrs {
			attrs[k] = v
		}
		fields["attrs"] = attrs
	}
	return e.store.Doc(eventCollection + "/" + eventID).Create(ctx, fields)
}
