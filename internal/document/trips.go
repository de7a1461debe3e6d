package document

import (
	"fmt"
	"strings"
	"time"
)

// TripInput holds the user-supplied fields of a trip
type TripInput struct {
	Title     string    `json:"title"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// CreateTrip validates and saves a new trip
func (s *Service) CreateTrip(input TripInput) (*Trip, error) {
	now := s.timeSource.Now()
	trip := &Trip{
		Title:     strings.TrimSpace(input.Title),
		StartDate: input.StartDate.UTC(),
		EndDate:   input.EndDate.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := trip.Validate(); err != nil {
		return nil, err
	}

	if err := s.db.CreateTrip(trip); err != nil {
		return nil, fmt.Errorf("saving trip: %w", err)
	}
	return trip, nil
}

// UpdateTrip replaces a trip's title and dates. Documents already filed into
// the trip are not re-matched.
func (s *Service) UpdateTrip(id uint64, input TripInput) (*Trip, error) {
	trip, err := s.db.GetTrip(id)
	if err != nil {
		return nil, fmt.Errorf("getting trip: %w", err)
	}

	trip.Title = strings.TrimSpace(input.Title)
	trip.StartDate = input.StartDate.UTC()
	trip.EndDate = input.EndDate.UTC()
	if err := trip.Validate(); err != nil {
		return nil, err
	}

	trip.UpdatedAt = s.timeSource.Now()
	if err := s.db.UpdateTrip(trip); err != nil {
		return nil, fmt.Errorf("updating trip: %w", err)
	}
	return trip, nil
}

// GetTrip retrieves a trip by ID
func (s *Service) GetTrip(id uint64) (*Trip, error) {
	trip, err := s.db.GetTrip(id)
	if err != nil {
		return nil, fmt.Errorf("getting trip: %w", err)
	}
	return trip, nil
}

// GetTripWithDocuments retrieves a trip with the documents filed into it
func (s *Service) GetTripWithDocuments(id uint64) (*Trip, []*Document, error) {
	trip, err := s.db.GetTrip(id)
	if err != nil {
		return nil, nil, fmt.Errorf("getting trip: %w", err)
	}

	docs, err := s.db.ListDocumentsByTrip(id)
	if err != nil {
		return nil, nil, fmt.Errorf("listing trip documents: %w", err)
	}

	return trip, docs, nil
}

// ListTrips returns all trips, newest start first
func (s *Service) ListTrips() ([]*Trip, error) {
	trips, err := s.db.ListTrips()
	if err != nil {
		return nil, fmt.Errorf("listing trips: %w", err)
	}
	return trips, nil
}

// DeleteTrip removes a trip. Its documents are kept and become unfiled.
func (s *Service) DeleteTrip(id uint64) error {
	if err := s.db.DeleteTrip(id); err != nil {
		return fmt.Errorf("deleting trip: %w", err)
	}
	s.notifier.Notify()
	return nil
}
