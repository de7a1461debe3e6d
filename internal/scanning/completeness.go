package scanning

import (
	"strings"
	"time"
)

// Missing-field tags consumed by the edit form
const (
	FieldTime           = "time"
	FieldOwner          = "owner"
	FieldDocumentNumber = "document_number"
)

// Annotate returns a copy of c with MissingFields listing the fields the model did
// not supply. A timestamp at exactly midnight UTC is read as "date without a time";
// a document that genuinely starts at midnight is flagged too.
func Annotate(c Candidate) Candidate {
	missing := []string{}
	if isMidnightUTC(c.OccurredAt) {
		missing = append(missing, FieldTime)
	}
	if strings.TrimSpace(c.Owner) == "" {
		missing = append(missing, FieldOwner)
	}
	c.MissingFields = missing
	return c
}

// AnnotateAll annotates every candidate, preserving order
func AnnotateAll(candidates []Candidate) []Candidate {
	annotated := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		annotated = append(annotated, Annotate(c))
	}
	return annotated
}

// NeedsReview reports whether any candidate has a missing field
func NeedsReview(candidates []Candidate) bool {
	for _, c := range candidates {
		if len(c.MissingFields) > 0 {
			return true
		}
	}
	return false
}

func isMidnightUTC(t time.Time) bool {
	t = t.UTC()
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}
