// Package updates implements the asynchronous update pipeline: a durable
// status log backed by pebble, per-index FIFO queues, and the actor that
// executes at most one update per index at a time.
package updates

import (
	"errors"
	"fmt"
	"time"

	"github.com/steladb/stela/internal/engine"
	sterrors "github.com/steladb/stela/internal/errors"
)

// State is one station in an update's life. Transitions only move
// forward and every update ends in exactly one terminal state.
type State string

const (
	// StateEnqueued indicates the update is accepted and waiting its turn.
	StateEnqueued State = "enqueued"
	// StateProcessing indicates the update is being applied to its index.
	StateProcessing State = "processing"
	// StateProcessed indicates the update completed successfully.
	StateProcessed State = "processed"
	// StateFailed indicates the update ended with an error.
	StateFailed State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateProcessed || s == StateFailed
}

// MetaType names the update variant. Exactly one variant describes any
// given update and selects how its payload, if any, is interpreted.
type MetaType string

const (
	// MetaDocumentsAddition adds or merges documents from a byte payload.
	// It is the only variant that attaches a payload stream.
	MetaDocumentsAddition MetaType = "DocumentsAddition"
	// MetaClearDocuments removes every document from the index.
	MetaClearDocuments MetaType = "ClearDocuments"
	// MetaDeleteDocuments removes the documents named in DocumentIDs.
	MetaDeleteDocuments MetaType = "DeleteDocuments"
	// MetaSettings applies a settings change.
	MetaSettings MetaType = "Settings"
	// MetaFacets applies a faceting change.
	MetaFacets MetaType = "Facets"
)

// Meta describes what an update does. Only the fields belonging to the
// active Type are set; the rest stay zero and drop out of the JSON.
type Meta struct {
	Type MetaType `json:"type"`

	// DocumentsAddition fields.
	Method     engine.AddMethod     `json:"method,omitempty"`
	Format     engine.PayloadFormat `json:"format,omitempty"`
	PrimaryKey string               `json:"primaryKey,omitempty"`

	// DeleteDocuments field.
	DocumentIDs []string `json:"documentIds,omitempty"`

	Settings *engine.Settings `json:"settings,omitempty"`
	Facets   *engine.Facets   `json:"facets,omitempty"`
}

// DocumentsAddition builds the meta for a document payload upload.
// primaryKey may be empty, in which case the index decides.
func DocumentsAddition(method engine.AddMethod, format engine.PayloadFormat, primaryKey string) Meta {
	return Meta{Type: MetaDocumentsAddition, Method: method, Format: format, PrimaryKey: primaryKey}
}

// ClearDocuments builds the meta for a full document wipe.
func ClearDocuments() Meta {
	return Meta{Type: MetaClearDocuments}
}

// DeleteDocuments builds the meta for a targeted document deletion.
// The ids ride in the meta itself; there is no payload stream.
func DeleteDocuments(ids []string) Meta {
	return Meta{Type: MetaDeleteDocuments, DocumentIDs: ids}
}

// SettingsUpdate builds the meta for a settings change.
func SettingsUpdate(s engine.Settings) Meta {
	return Meta{Type: MetaSettings, Settings: &s}
}

// FacetsUpdate builds the meta for a faceting change.
func FacetsUpdate(f engine.Facets) Meta {
	return Meta{Type: MetaFacets, Facets: &f}
}

// Status is one update's position in the state machine together with
// everything the API reports about it. Meta is embedded so its fields
// marshal inline: {updateId, status, type, ..., enqueuedAt, ...}.
type Status struct {
	UpdateID uint64 `json:"updateId"`
	State    State  `json:"status"`
	Meta

	EnqueuedAt          time.Time  `json:"enqueuedAt"`
	StartedProcessingAt *time.Time `json:"startedProcessingAt,omitempty"`
	ProcessedAt         *time.Time `json:"processedAt,omitempty"`

	Result    *engine.UpdateResult `json:"result,omitempty"`
	Error     string               `json:"error,omitempty"`
	ErrorCode string               `json:"errorCode,omitempty"`
	ErrorKind string               `json:"errorKind,omitempty"`
}

// Enqueue builds the initial status for a freshly registered update.
func Enqueue(id uint64, meta Meta) Status {
	return Status{
		UpdateID:   id,
		State:      StateEnqueued,
		Meta:       meta,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Process transitions Enqueued to Processing. The actor is the only
// writer, so a violation here is a bug, not a user error.
func (s Status) Process() (Status, error) {
	if s.State != StateEnqueued {
		return s, fmt.Errorf("cannot start processing an update in state %q", s.State)
	}
	now := time.Now().UTC()
	s.State = StateProcessing
	s.StartedProcessingAt = &now
	return s, nil
}

// Succeed transitions Processing to Processed and records the result.
func (s Status) Succeed(result engine.UpdateResult) (Status, error) {
	if s.State != StateProcessing {
		return s, fmt.Errorf("cannot complete an update in state %q", s.State)
	}
	now := time.Now().UTC()
	s.State = StateProcessed
	s.ProcessedAt = &now
	s.Result = &result
	return s, nil
}

// Fail transitions any non-terminal state to Failed. Failing straight
// from Enqueued is legal: an update can die before execution starts,
// for example when a shutdown interrupts the queue.
func (s Status) Fail(cause error) (Status, error) {
	if s.State.Terminal() {
		return s, fmt.Errorf("cannot fail an update in state %q", s.State)
	}
	now := time.Now().UTC()
	s.State = StateFailed
	s.ProcessedAt = &now
	s.Error = cause.Error()
	s.ErrorKind = string(sterrors.KindOf(cause))
	var se *sterrors.Error
	if errors.As(cause, &se) {
		s.ErrorCode = se.Code
	}
	return s, nil
}
