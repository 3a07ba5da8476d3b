// Package domain defines the core types for the courier message ledger:
// messages, their status state machine, the reserved wire header keys,
// and the callback header accumulator handed to subscribers.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors shared across the engine, store, and scheduler.
var (
	// ErrMessageNotFound is returned when a message id is not in the ledger.
	ErrMessageNotFound = errors.New("message not found")

	// ErrDuplicateMessage is returned when inserting a message whose id
	// already exists in the same ledger.
	ErrDuplicateMessage = errors.New("message already exists")

	// ErrVersionConflict is returned when a conditional status update lost
	// the race against another instance. The caller must not retry the
	// same attempt.
	ErrVersionConflict = errors.New("message version conflict")

	// ErrLockUnavailable signals that another instance holds the lease for
	// a message. It is a normal skip signal, not a failure.
	ErrLockUnavailable = errors.New("lock unavailable")

	// ErrSubscriberNotFound is returned when no handler is registered for
	// an inbound message name.
	ErrSubscriberNotFound = errors.New("no subscriber registered for message name")
)

// Kind distinguishes the two ledgers a message can live in.
type Kind string

const (
	// KindOutbound marks messages published by this process.
	KindOutbound Kind = "outbound"
	// KindInbound marks messages received from the transport.
	KindInbound Kind = "inbound"
)

// IsValid returns true if the kind is one of the two known ledgers.
func (k Kind) IsValid() bool {
	return k == KindOutbound || k == KindInbound
}

// Status represents the delivery state of a message.
type Status string

const (
	// StatusScheduled indicates the message is awaiting a delivery attempt.
	StatusScheduled Status = "Scheduled"
	// StatusSucceeded indicates the message was delivered or handled.
	StatusSucceeded Status = "Succeeded"
	// StatusFailed indicates the last attempt failed. The message remains
	// retryable until its retry ceiling is reached, after which its
	// expiry is set and it only leaves the ledger via cleanup.
	StatusFailed Status = "Failed"
)

// IsValid returns true if the status is one of the three known states.
func (s Status) IsValid() bool {
	return s == StatusScheduled || s == StatusSucceeded || s == StatusFailed
}

// Reserved header keys. These exact names cross the wire so that
// heterogeneous systems interoperate.
const (
	HeaderMessageID    = "cap-msg-id"
	HeaderMessageName  = "cap-msg-name"
	HeaderMessageType  = "cap-msg-type"
	HeaderSentTime     = "cap-senttime"
	HeaderCallbackName = "cap-callback-name"
	HeaderException    = "cap-exception"
)

// reservedHeaders are never overwritten by caller-supplied headers.
var reservedHeaders = map[string]struct{}{
	HeaderMessageID:    {},
	HeaderMessageName:  {},
	HeaderMessageType:  {},
	HeaderSentTime:     {},
	HeaderCallbackName: {},
	HeaderException:    {},
}

// IsReservedHeader returns true for header keys owned by the engine.
func IsReservedHeader(key string) bool {
	_, ok := reservedHeaders[key]
	return ok
}

// Message is the unit of work in the ledger, either published (outbound)
// or received (inbound).
type Message struct {
	// ID is a globally unique, time-ordered identifier. Immutable.
	ID string `json:"id"`

	// Kind selects the outbound or inbound ledger.
	Kind Kind `json:"kind"`

	// Name is the routing/subject name.
	Name string `json:"name"`

	// Type is an optional declared payload type tag, informational only.
	Type string `json:"type,omitempty"`

	// Body is the opaque serialized payload. The engine never inspects
	// or mutates it after creation.
	Body []byte `json:"body"`

	// Headers carries the reserved cap-* keys plus any transport
	// partitioning hints, passed through unexamined.
	Headers map[string]string `json:"headers"`

	// Status is the current delivery state.
	Status Status `json:"status"`

	// Retries counts failed attempts so far. It only increases.
	Retries int `json:"retries"`

	// AddedAt is when the message entered the ledger.
	AddedAt time.Time `json:"added_at"`

	// DueAt is when the next delivery attempt becomes eligible.
	DueAt time.Time `json:"due_at"`

	// ExpiresAt governs cleanup. It is nil until the status resolves
	// terminally (succeeded, or failed past the retry ceiling).
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Version is the optimistic-concurrency token. Every successful
	// conditional update increments it.
	Version int64 `json:"version"`
}

// NewID generates a time-ordered UUIDv7 string. The monotonic bias keeps
// ledger scans roughly in insertion order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// crypto/rand failure; fall back to a random v4 id
		return uuid.NewString()
	}
	return id.String()
}

// NewOutbound creates an outbound message in Scheduled state with the
// reserved routing headers populated. Caller-supplied headers are merged
// without overwriting reserved keys.
func NewOutbound(name, msgType string, body []byte, callbackName string, extra map[string]string) *Message {
	now := time.Now().UTC()
	m := &Message{
		ID:      NewID(),
		Kind:    KindOutbound,
		Name:    name,
		Type:    msgType,
		Body:    body,
		Headers: make(map[string]string, len(extra)+6),
		Status:  StatusScheduled,
		AddedAt: now,
		DueAt:   now,
		Version: 1,
	}

	for k, v := range extra {
		if !IsReservedHeader(k) {
			m.Headers[k] = v
		}
	}

	m.Headers[HeaderMessageID] = m.ID
	m.Headers[HeaderMessageName] = name
	if msgType != "" {
		m.Headers[HeaderMessageType] = msgType
	}
	m.Headers[HeaderSentTime] = now.Format(time.RFC3339Nano)
	if callbackName != "" {
		m.Headers[HeaderCallbackName] = callbackName
	}

	return m
}

// NewInbound creates an inbound message in Scheduled state from a payload
// delivered by the transport. The id is taken from the wire headers so
// redelivery of the same message is detected; a missing id gets a fresh one.
func NewInbound(body []byte, headers map[string]string) *Message {
	now := time.Now().UTC()

	h := make(map[string]string, len(headers))
	for k, v := range headers {
		h[k] = v
	}

	id := h[HeaderMessageID]
	if id == "" {
		id = NewID()
		h[HeaderMessageID] = id
	}

	return &Message{
		ID:      id,
		Kind:    KindInbound,
		Name:    h[HeaderMessageName],
		Type:    h[HeaderMessageType],
		Body:    body,
		Headers: h,
		Status:  StatusScheduled,
		AddedAt: now,
		DueAt:   now,
		Version: 1,
	}
}

// CallbackName returns the compensation target declared at publish time.
func (m *Message) CallbackName() string {
	return m.Headers[HeaderCallbackName]
}

// LastException returns the last recorded failure text, if any.
func (m *Message) LastException() string {
	return m.Headers[HeaderException]
}
