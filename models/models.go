package models

import (
	"fmt"
	"time"
)

// Paste represents a paste created by the paste service. The view service
// only ever reads it and merges reconciled view counts into ViewCount.
type Paste struct {
	ID        int64      `json:"id"`
	ShortURL  string     `json:"short_url"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at"`
	ViewCount int64      `json:"view_count"`
}

// IsExpired reports whether the paste's expiry, if any, has passed.
func (p *Paste) IsExpired(now time.Time) bool {
	return p.ExpiresAt != nil && p.ExpiresAt.Before(now)
}

// ViewEvent is an append-only record of a single view occurrence. It is
// written once by the publisher and marked processed exactly once by the
// aggregator.
type ViewEvent struct {
	ID             int64     `json:"id"`
	PasteID        int64     `json:"paste_id"`
	ShortURL       string    `json:"short_url"`
	ViewCount      int64     `json:"view_count"` // live count at time of view
	IPAddress      string    `json:"ip_address,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	Referrer       string    `json:"referrer,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Processed      bool      `json:"processed"`
	ProcessingTime *float64  `json:"processing_time,omitempty"` // seconds
	ProcessingNote string    `json:"processing_note,omitempty"`
}

// AnalyticsAggregate holds the derived per-paste statistics maintained by
// the aggregator. UniqueViewers is the sum of distinct IPs and distinct
// user IDs; an authenticated user with their own IP counts twice. That
// matches the behavior the analytics service has always had, so it stays.
type AnalyticsAggregate struct {
	PasteID            int64     `json:"paste_id"`
	TotalViews         int64     `json:"total_views"`
	UniqueViewers      int64     `json:"unique_viewers"`
	AvgViewsPerSession float64   `json:"avg_views_per_session"`
	LastUpdated        time.Time `json:"last_updated"`
}

// ProcessingError is an append-only diagnostic record for background-path
// failures. Writing one never blocks or fails the caller.
type ProcessingError struct {
	ID        int64     `json:"id"`
	ErrorType string    `json:"error_type"`
	Message   string    `json:"message"`
	Payload   string    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Error types

// NotFoundError means the short URL resolves to no paste.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string {
	return e.Message
}

// ExpiredError means the paste exists but its expiry has passed.
type ExpiredError struct {
	ShortURL string
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("paste %s has expired", e.ShortURL)
}

// ServiceUnavailableError means a downstream dependency (cache or store)
// was unreachable or timed out while resolving the request.
type ServiceUnavailableError struct {
	Message string
}

func (e *ServiceUnavailableError) Error() string {
	return e.Message
}

// ValidationError means the request or event payload was malformed.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ConflictError wraps transient durable-store write contention (lock wait,
// deadlock, serialization failure). Callers retry these locally.
type ConflictError struct {
	Err error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("write contention: %v", e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}
