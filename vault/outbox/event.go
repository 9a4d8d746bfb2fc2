package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LerianStudio/shared-vault/vault/ledger"
	"github.com/google/uuid"
)

// Status is the delivery state of an outbox event.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPublished Status = "PUBLISHED"
	StatusFailed    Status = "FAILED"
)

// maxErrorLength bounds the stored failure reason.
const maxErrorLength = 512

var (
	// ErrRepositoryRequired is returned by NewDispatcher without a repository.
	ErrRepositoryRequired = errors.New("outbox repository is required")
	// ErrPublisherRequired is returned by NewDispatcher without a publisher.
	ErrPublisherRequired = errors.New("outbox publisher is required")
	// ErrDispatcherRunning is returned when Run is called twice.
	ErrDispatcherRunning = errors.New("outbox dispatcher is already running")
	// ErrEmptyPayload is returned when an event has no payload.
	ErrEmptyPayload = errors.New("outbox event payload is required")
)

// Event is a ledger event queued for delivery.
type Event struct {
	ID            uuid.UUID
	EventType     string
	AggregateID   string
	Payload       []byte
	Status        Status
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// FromLedger builds a pending outbox event from a committed ledger event.
func FromLedger(event ledger.Event) (Event, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Event{}, fmt.Errorf("marshal ledger event: %w", err)
	}

	return Event{
		ID:            event.ID,
		EventType:     event.Type,
		AggregateID:   event.Vault.String(),
		Payload:       payload,
		Status:        StatusPending,
		NextAttemptAt: event.OccurredAt,
		CreatedAt:     event.OccurredAt,
	}, nil
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	if len(msg) > maxErrorLength {
		return msg[:maxErrorLength]
	}

	return msg
}
