package document

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zombor/tripdocs/internal/scanning"
)

// Settle ends an extraction run on an identity document
func (d *IdentityDocument) Settle(now time.Time) {
	d.Status = StatusSettled
	d.UpdatedAt = now
}

// IdentityResult is what an identity upload reports back to the caller
type IdentityResult struct {
	Identity  *IdentityDocument           `json:"identity"`
	Candidate *scanning.IdentityCandidate `json:"candidate,omitempty"`
	Err       error                       `json:"-"`
}

// AddIdentityDocument stores an uploaded identity document and, when autoParse
// is set, extracts its fields. Failures follow the same rules as Process.
func (s *Service) AddIdentityDocument(ctx context.Context, filename string, data []byte, autoParse bool) (*IdentityResult, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrValidation)
	}

	sourceURI, err := s.storage.Save(fmt.Sprintf("%s_%s", s.idGenerator.Generate(), sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	now := s.timeSource.Now()
	identity := &IdentityDocument{
		SourceURI: sourceURI,
		Title:     filename,
		Kind:      scanning.IdentityOther,
		Status:    StatusSettled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if autoParse {
		identity.Status = StatusPending
	}

	if err := s.db.CreateIdentity(identity); err != nil {
		return nil, fmt.Errorf("creating identity document: %w", err)
	}

	result := &IdentityResult{Identity: identity}
	if !autoParse {
		return result, nil
	}

	candidate, err := s.extractIdentity(ctx, filename, data)
	if err == nil {
		identity.apply(candidate)
		result.Candidate = candidate
	} else {
		slog.Error("Failed to process identity document",
			"identity_id", identity.ID,
			"source_uri", sourceURI,
			"error", err,
		)
		result.Err = err
	}

	identity.Settle(s.timeSource.Now())
	if updateErr := s.db.UpdateIdentity(identity); updateErr != nil {
		return nil, fmt.Errorf("updating identity document: %w", updateErr)
	}

	if scanning.IsCredentialsMissing(err) {
		return result, err
	}
	return result, nil
}

func (s *Service) extractIdentity(ctx context.Context, filename string, data []byte) (*scanning.IdentityCandidate, error) {
	text, err := s.extractor.Extract(context.WithoutCancel(ctx), scanning.Request{
		Filename: filename,
		Data:     data,
		Prompt:   scanning.IdentityPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("extracting: %w", err)
	}

	candidate, err := scanning.NormalizeIdentity(text)
	if err != nil {
		return nil, fmt.Errorf("normalizing: %w", err)
	}
	return candidate, nil
}

// GetIdentity retrieves an identity document by ID
func (s *Service) GetIdentity(id uint64) (*IdentityDocument, error) {
	identity, err := s.db.GetIdentity(id)
	if err != nil {
		return nil, fmt.Errorf("getting identity document: %w", err)
	}
	return identity, nil
}

// ListIdentities returns all identity documents, newest first
func (s *Service) ListIdentities() ([]*IdentityDocument, error) {
	identities, err := s.db.ListIdentities()
	if err != nil {
		return nil, fmt.Errorf("listing identity documents: %w", err)
	}
	return identities, nil
}

// IdentityUpdate holds the user-editable fields of an identity document. Nil
// fields are left unchanged; a zero date clears that date.
type IdentityUpdate struct {
	Title          *string                `json:"title"`
	Kind           *scanning.IdentityKind `json:"kind"`
	DocumentNumber *string                `json:"document_number"`
	IssueDate      *time.Time             `json:"issue_date"`
	ExpiryDate     *time.Time             `json:"expiry_date"`
	Owner          *string                `json:"owner"`
}

// UpdateIdentity applies a user edit to an identity document
func (s *Service) UpdateIdentity(id uint64, update IdentityUpdate) (*IdentityDocument, error) {
	identity, err := s.db.GetIdentity(id)
	if err != nil {
		return nil, fmt.Errorf("getting identity document: %w", err)
	}

	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title is required", ErrValidation)
		}
		identity.Title = title
	}
	if update.Kind != nil {
		if !update.Kind.Valid() {
			return nil, fmt.Errorf("%w: unknown identity kind %q", ErrValidation, *update.Kind)
		}
		identity.Kind = *update.Kind
	}
	if update.DocumentNumber != nil {
		identity.DocumentNumber = strings.TrimSpace(*update.DocumentNumber)
	}
	if update.IssueDate != nil {
		identity.IssueDate = optionalDate(*update.IssueDate)
	}
	if update.ExpiryDate != nil {
		identity.ExpiryDate = optionalDate(*update.ExpiryDate)
	}
	if update.Owner != nil {
		identity.Owner = strings.TrimSpace(*update.Owner)
	}
	if identity.IssueDate != nil && identity.ExpiryDate != nil && identity.ExpiryDate.Before(*identity.IssueDate) {
		return nil, fmt.Errorf("%w: expiry date is before issue date", ErrValidation)
	}

	identity.UpdatedAt = s.timeSource.Now()
	if err := s.db.UpdateIdentity(identity); err != nil {
		return nil, fmt.Errorf("updating identity document: %w", err)
	}

	return identity, nil
}

func optionalDate(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

// DeleteIdentity removes an identity document and its file
func (s *Service) DeleteIdentity(id uint64) error {
	identity, err := s.db.GetIdentity(id)
	if err != nil {
		return fmt.Errorf("getting identity document for deletion: %w", err)
	}

	if err := s.storage.Delete(identity.SourceURI); err != nil {
		slog.Warn("Failed to delete file", "source_uri", identity.SourceURI, "error", err)
	}

	if err := s.db.DeleteIdentity(id); err != nil {
		return fmt.Errorf("deleting identity document from database: %w", err)
	}
	return nil
}
