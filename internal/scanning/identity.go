package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const defaultIdentityTitle = "Untitled Identity Document"

// IdentityKind is the closed set of identity document kinds
type IdentityKind string

const (
	IdentityPassport      IdentityKind = "Passport"
	IdentityVisa          IdentityKind = "Visa"
	IdentityAadhaar       IdentityKind = "Aadhaar"
	IdentityDriverLicense IdentityKind = "Driver License"
	IdentityPANCard       IdentityKind = "PAN Card"
	IdentityOther         IdentityKind = "Other"
)

var identityKinds = []IdentityKind{
	IdentityPassport,
	IdentityVisa,
	IdentityAadhaar,
	IdentityDriverLicense,
	IdentityPANCard,
	IdentityOther,
}

// Valid reports whether k is one of the known identity kinds
func (k IdentityKind) Valid() bool {
	for _, known := range identityKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseIdentityKind maps a model-supplied value onto the closed set, defaulting to Other
func ParseIdentityKind(value string) IdentityKind {
	value = strings.TrimSpace(value)
	for _, kind := range identityKinds {
		if strings.EqualFold(value, string(kind)) {
			return kind
		}
	}
	return IdentityOther
}

// IdentityCandidate is the extraction result for an identity document
type IdentityCandidate struct {
	Title          string       `json:"title"`
	Kind           IdentityKind `json:"kind"`
	DocumentNumber string       `json:"document_number,omitempty"`
	IssueDate      *time.Time   `json:"issue_date,omitempty"`
	ExpiryDate     *time.Time   `json:"expiry_date,omitempty"`
	Owner          string       `json:"owner,omitempty"`
	MissingFields  []string     `json:"missing_fields"`
}

type rawIdentity struct {
	Title          looseString `json:"title"`
	Type           looseString `json:"type"`
	DocumentNumber looseString `json:"documentNumber"`
	IssueDate      looseString `json:"issueDate"`
	ExpiryDate     looseString `json:"expiryDate"`
	Owner          nameList    `json:"owner"`
}

// NormalizeIdentity reads a single identity document from raw model text. If the
// model returned an array anyway, its first item is used. Unlike travel documents,
// unreadable dates are left empty rather than replaced with the current time.
func NormalizeIdentity(raw string) (*IdentityCandidate, error) {
	text := cleanResponse(raw)
	if strings.HasPrefix(text, "[") {
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(text), &items); err != nil {
			return nil, &ResponseShapeError{Raw: raw, Err: fmt.Errorf("unmarshaling json array: %w", err)}
		}
		if len(items) == 0 {
			return nil, &ResponseShapeError{Raw: raw, Err: fmt.Errorf("no documents in response")}
		}
		text = strings.TrimSpace(string(items[0]))
	}
	if !strings.HasPrefix(text, "{") {
		return nil, &ResponseShapeError{Raw: raw, Err: fmt.Errorf("no JSON object found in response")}
	}

	var doc rawIdentity
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, &ResponseShapeError{Raw: raw, Err: fmt.Errorf("unmarshaling json object: %w", err)}
	}

	title := strings.TrimSpace(string(doc.Title))
	if title == "" {
		title = defaultIdentityTitle
	}

	candidate := &IdentityCandidate{
		Title:          title,
		Kind:           ParseIdentityKind(string(doc.Type)),
		DocumentNumber: strings.TrimSpace(string(doc.DocumentNumber)),
		IssueDate:      optionalDate(string(doc.IssueDate)),
		ExpiryDate:     optionalDate(string(doc.ExpiryDate)),
		Owner:          doc.Owner.joined(),
		MissingFields:  []string{},
	}
	if candidate.Owner == "" {
		candidate.MissingFields = append(candidate.MissingFields, FieldOwner)
	}
	if candidate.DocumentNumber == "" {
		candidate.MissingFields = append(candidate.MissingFields, FieldDocumentNumber)
	}
	return candidate, nil
}

func optionalDate(value string) *time.Time {
	t, ok := parseDate(value)
	if !ok {
		return nil
	}
	return &t
}
