package document

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/zombor/tripdocs/internal/scanning"
)

// Outcome describes the records written by a reconciliation
type Outcome struct {
	Document *Document   // the placeholder, now holding candidate 0
	Siblings []*Document // one record per remaining candidate
	Removed  []uint64    // earlier siblings with no candidate left
	TripID   uint64      // trip applied to every record, 0 when unfiled
}

// Reconciler writes extraction candidates back to the store
type Reconciler struct {
	db         DB
	timeSource TimeSource
}

// NewReconciler creates a Reconciler
func NewReconciler(db DB, timeSrc TimeSource) *Reconciler {
	return &Reconciler{db: db, timeSource: timeSrc}
}

// Reconcile overwrites the placeholder with the first candidate and writes one
// sibling record per remaining candidate, all sharing sourceURI. Records that
// already share sourceURI are reused in ID order before new ones are created,
// and any left over are deleted. When explicitTripID is 0 the trip is matched
// from the first candidate's date and applied to every record. All writes
// happen in one transaction.
func (r *Reconciler) Reconcile(candidates []scanning.Candidate, placeholderID uint64, sourceURI string, explicitTripID uint64) (*Outcome, error) {
	if len(candidates) == 0 {
		return nil, errors.New("reconciling: no candidates")
	}

	now := r.timeSource.Now()
	outcome := &Outcome{}

	err := r.db.Update(func(s Store) error {
		placeholder, err := s.GetDocument(placeholderID)
		if err != nil {
			return fmt.Errorf("getting placeholder: %w", err)
		}

		tripID := explicitTripID
		if tripID == 0 {
			trips, err := s.ListTrips()
			if err != nil {
				return fmt.Errorf("listing trips: %w", err)
			}
			tripID = matchTrip(trips, candidates[0].OccurredAt)
		}

		placeholder.apply(candidates[0])
		placeholder.SourceURI = sourceURI
		placeholder.TripID = tripID
		placeholder.Settle(now)
		if err := s.UpdateDocument(placeholder); err != nil {
			return fmt.Errorf("updating placeholder: %w", err)
		}

		existing, err := s.ListDocumentsBySource(sourceURI)
		if err != nil {
			return fmt.Errorf("listing sibling documents: %w", err)
		}
		previous := make([]*Document, 0, len(existing))
		for _, d := range existing {
			if d.ID != placeholder.ID {
				previous = append(previous, d)
			}
		}

		siblings := make([]*Document, 0, len(candidates)-1)
		for i, c := range candidates[1:] {
			if i < len(previous) {
				sibling := previous[i]
				sibling.apply(c)
				sibling.TripID = tripID
				sibling.Settle(now)
				if err := s.UpdateDocument(sibling); err != nil {
					return fmt.Errorf("updating sibling document: %w", err)
				}
				siblings = append(siblings, sibling)
				continue
			}

			sibling := &Document{
				SourceURI: sourceURI,
				TripID:    tripID,
				Status:    StatusSettled,
				CreatedAt: now,
				UpdatedAt: now,
			}
			sibling.apply(c)
			if err := s.CreateDocument(sibling); err != nil {
				return fmt.Errorf("creating sibling document: %w", err)
			}
			siblings = append(siblings, sibling)
		}

		for i := len(candidates) - 1; i < len(previous); i++ {
			if err := s.DeleteDocument(previous[i].ID); err != nil {
				return fmt.Errorf("deleting sibling document: %w", err)
			}
			outcome.Removed = append(outcome.Removed, previous[i].ID)
		}

		outcome.Document = placeholder
		outcome.Siblings = siblings
		outcome.TripID = tripID
		return nil
	})
	if err != nil {
		return nil, err
	}

	return outcome, nil
}

// Revert puts back the fields captured in snapshot and settles the record.
// It creates nothing and does no trip lookup.
func (r *Reconciler) Revert(snapshot *Document) error {
	now := r.timeSource.Now()
	return r.db.Update(func(s Store) error {
		doc, err := s.GetDocument(snapshot.ID)
		if err != nil {
			return fmt.Errorf("getting document to revert: %w", err)
		}
		doc.restore(snapshot)
		doc.Settle(now)
		return s.UpdateDocument(doc)
	})
}

// matchTrip returns the earliest-starting trip containing at, or 0
func matchTrip(trips []*Trip, at time.Time) uint64 {
	ordered := make([]*Trip, len(trips))
	copy(ordered, trips)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].StartDate.Equal(ordered[j].StartDate) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].StartDate.Before(ordered[j].StartDate)
	})

	for _, trip := range ordered {
		if trip.Contains(at) {
			return trip.ID
		}
	}
	return 0
}
