package document

import (
	"errors"
	"fmt"
	"time"

	"github.com/zombor/tripdocs/internal/scanning"
)

// ErrNotFound is returned when the requested record does not exist.
// Handlers map it to HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned when input fails a business rule (missing title, end
// date before start date). Handlers map it to HTTP 422.
var ErrValidation = errors.New("validation error")

// Status is the processing state of a record. A pipeline run moves a record from
// StatusPending back to StatusSettled; there are no other states.
type Status int

const (
	StatusSettled Status = iota
	StatusPending
)

func (s Status) String() string {
	if s == StatusPending {
		return "pending"
	}
	return "settled"
}

// MarshalText encodes the status as "pending" or "settled"
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes "pending" or "settled"
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pending":
		*s = StatusPending
	case "settled", "":
		*s = StatusSettled
	default:
		return fmt.Errorf("unknown status %q", text)
	}
	return nil
}

// Document represents one logical travel document
type Document struct {
	ID          uint64            `json:"id"`
	SourceURI   string            `json:"source_uri"` // stored file; shared by documents split from one upload
	Title       string            `json:"title"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Category    scanning.Category `json:"category"`
	SubCategory string            `json:"sub_category,omitempty"`
	Owner       string            `json:"owner,omitempty"`   // comma-joined names
	TripID      uint64            `json:"trip_id,omitempty"` // 0 when not filed into a trip
	Status      Status            `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Processing reports whether extraction for the document is in flight
func (d *Document) Processing() bool {
	return d.Status == StatusPending
}

// Settle ends a pipeline run. It is the only way a document leaves StatusPending.
func (d *Document) Settle(now time.Time) {
	d.Status = StatusSettled
	d.UpdatedAt = now
}

func (d *Document) markPending(now time.Time) {
	d.Status = StatusPending
	d.UpdatedAt = now
}

// apply copies the extracted fields of c onto the document
func (d *Document) apply(c scanning.Candidate) {
	d.Title = c.Title
	d.OccurredAt = c.OccurredAt
	d.Category = c.Category
	d.SubCategory = c.SubCategory
	d.Owner = c.Owner
}

// restore copies the user-visible fields of snapshot back onto the document
func (d *Document) restore(snapshot *Document) {
	d.Title = snapshot.Title
	d.OccurredAt = snapshot.OccurredAt
	d.Category = snapshot.Category
	d.SubCategory = snapshot.SubCategory
	d.Owner = snapshot.Owner
	d.TripID = snapshot.TripID
}

// Trip is a named date range used to file documents
type Trip struct {
	ID        uint64    `json:"id"`
	Title     string    `json:"title"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Contains reports whether t falls inside the trip, inclusive at both ends
func (t *Trip) Contains(at time.Time) bool {
	return !at.Before(t.StartDate) && !at.After(t.EndDate)
}

// Validate checks the trip's business rules
func (t *Trip) Validate() error {
	if t.Title == "" {
		return fmt.Errorf("%w: trip title is required", ErrValidation)
	}
	if t.StartDate.IsZero() || t.EndDate.IsZero() {
		return fmt.Errorf("%w: trip start and end dates are required", ErrValidation)
	}
	if t.EndDate.Before(t.StartDate) {
		return fmt.Errorf("%w: trip end date is before its start date", ErrValidation)
	}
	return nil
}

// IdentityDocument represents a passport, visa, or other credential
type IdentityDocument struct {
	ID             uint64                `json:"id"`
	SourceURI      string                `json:"source_uri"`
	Title          string                `json:"title"`
	Kind           scanning.IdentityKind `json:"kind"`
	DocumentNumber string                `json:"document_number,omitempty"`
	IssueDate      *time.Time            `json:"issue_date,omitempty"`
	ExpiryDate     *time.Time            `json:"expiry_date,omitempty"`
	Owner          string                `json:"owner,omitempty"`
	Status         Status                `json:"status"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

func (d *IdentityDocument) apply(c *scanning.IdentityCandidate) {
	d.Title = c.Title
	d.Kind = c.Kind
	d.DocumentNumber = c.DocumentNumber
	d.IssueDate = c.IssueDate
	d.ExpiryDate = c.ExpiryDate
	d.Owner = c.Owner
}
