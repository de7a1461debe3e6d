package document

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/tripdocs/internal/scanning"
)

// IDGenerator generates unique prefixes for stored file names
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time in UTC
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// Service handles document operations
type Service struct {
	db          DB
	extractor   scanning.Extractor
	storage     Storage
	reconciler  *Reconciler
	notifier    *Notifier
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, extractor scanning.Extractor, storage Storage) *Service {
	return NewServiceWithDeps(db, extractor, storage, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, extractor scanning.Extractor, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		extractor:   extractor,
		storage:     storage,
		reconciler:  NewReconciler(db, timeSrc),
		notifier:    NewNotifier(),
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Notifier returns the notifier signalled whenever documents change
func (s *Service) Notifier() *Notifier {
	return s.notifier
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "document"
	}

	return base + ext
}

// placeholderSubCategory labels a placeholder by its file type
func placeholderSubCategory(filename string) string {
	if scanning.IsPDF(filename) {
		return "PDF"
	}
	return "Image"
}

// ProcessResult is what a pipeline run reports back to the caller
type ProcessResult struct {
	DocumentID uint64               `json:"document_id"`
	Candidates []scanning.Candidate `json:"candidates,omitempty"`
	Err        error                `json:"-"`
}

// NeedsReview reports whether any extracted candidate is missing fields
func (r *ProcessResult) NeedsReview() bool {
	return scanning.NeedsReview(r.Candidates)
}

// AddDocument stores an uploaded file and runs the pipeline on it
func (s *Service) AddDocument(ctx context.Context, filename string, data []byte, autoParse bool, tripID uint64) (*ProcessResult, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrValidation)
	}
	if tripID != 0 {
		if _, err := s.db.GetTrip(tripID); err != nil {
			return nil, fmt.Errorf("getting trip: %w", err)
		}
	}

	sourceURI, err := s.storage.Save(fmt.Sprintf("%s_%s", s.idGenerator.Generate(), sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	return s.Process(ctx, sourceURI, filename, autoParse, tripID)
}

// Process creates a placeholder record for an already stored file and, when
// autoParse is set, extracts and reconciles it.
//
// A missing API key is returned as an error alongside the result. Any other
// failure is reported through ProcessResult.Err. Either way the placeholder is
// settled before Process returns.
func (s *Service) Process(ctx context.Context, sourceURI, filename string, autoParse bool, tripID uint64) (*ProcessResult, error) {
	now := s.timeSource.Now()

	placeholder := &Document{
		SourceURI:   sourceURI,
		Title:       filename,
		OccurredAt:  now,
		Category:    scanning.CategoryOther,
		SubCategory: placeholderSubCategory(filename),
		TripID:      tripID,
		Status:      StatusSettled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if autoParse {
		placeholder.markPending(now)
	}

	if err := s.db.CreateDocument(placeholder); err != nil {
		return nil, fmt.Errorf("creating placeholder: %w", err)
	}
	s.notifier.Notify()

	if !autoParse {
		return &ProcessResult{DocumentID: placeholder.ID}, nil
	}

	snapshot := *placeholder
	return s.run(ctx, &snapshot, filename, tripID)
}

// Reprocess re-runs the pipeline against an existing record. A record already
// filed into a trip stays there; an unfiled one is matched again.
func (s *Service) Reprocess(ctx context.Context, id uint64) (*ProcessResult, error) {
	doc, err := s.db.GetDocument(id)
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}

	snapshot := *doc
	doc.markPending(s.timeSource.Now())
	if err := s.db.UpdateDocument(doc); err != nil {
		return nil, fmt.Errorf("marking document pending: %w", err)
	}
	s.notifier.Notify()

	return s.run(ctx, &snapshot, doc.SourceURI, doc.TripID)
}

// run drives extraction for a pending record and settles it
func (s *Service) run(ctx context.Context, snapshot *Document, filename string, tripID uint64) (*ProcessResult, error) {
	result := &ProcessResult{DocumentID: snapshot.ID}

	candidates, err := s.extract(ctx, snapshot.SourceURI, filename)
	if err == nil {
		_, err = s.reconciler.Reconcile(candidates, snapshot.ID, snapshot.SourceURI, tripID)
		if err != nil {
			err = fmt.Errorf("reconciling: %w", err)
		}
	}

	if err != nil {
		slog.Error("Failed to process document",
			"document_id", snapshot.ID,
			"source_uri", snapshot.SourceURI,
			"error", err,
		)
		if revertErr := s.reconciler.Revert(snapshot); revertErr != nil {
			slog.Error("Failed to revert placeholder",
				"document_id", snapshot.ID,
				"error", revertErr,
			)
		}
		s.notifier.Notify()

		result.Err = err
		if scanning.IsCredentialsMissing(err) {
			return result, err
		}
		return result, nil
	}

	result.Candidates = candidates
	s.notifier.Notify()
	return result, nil
}

// extract reads the stored file and turns the model reply into annotated candidates
func (s *Service) extract(ctx context.Context, sourceURI, filename string) ([]scanning.Candidate, error) {
	data, err := s.storage.Get(sourceURI)
	if err != nil {
		return nil, fmt.Errorf("reading stored file: %w", err)
	}

	// Once the model is called the write-back completes even if the caller goes away.
	text, err := s.extractor.Extract(context.WithoutCancel(ctx), scanning.Request{
		Filename: filename,
		Data:     data,
		Prompt:   scanning.TravelPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("extracting: %w", err)
	}

	candidates, err := scanning.Normalize(text, s.timeSource.Now())
	if err != nil {
		return nil, fmt.Errorf("normalizing: %w", err)
	}

	return scanning.AnnotateAll(candidates), nil
}

// BatchResult counts the outcome of a batch reprocess
type BatchResult struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// ReprocessBatch reprocesses records one at a time. A failed record does not
// stop the batch, except a missing API key, which skips every remaining record
// and is returned alongside the counts.
func (s *Service) ReprocessBatch(ctx context.Context, ids []uint64) (*BatchResult, error) {
	batch := &BatchResult{}

	for i, id := range ids {
		result, err := s.Reprocess(ctx, id)
		if err != nil {
			batch.Failed++
			if scanning.IsCredentialsMissing(err) {
				batch.Skipped = len(ids) - i - 1
				return batch, err
			}
			slog.Warn("Failed to reprocess document", "document_id", id, "error", err)
			continue
		}
		if result.Err != nil {
			batch.Failed++
			continue
		}
		batch.Succeeded++
	}

	return batch, nil
}

// GetDocument retrieves a document by ID
func (s *Service) GetDocument(id uint64) (*Document, error) {
	doc, err := s.db.GetDocument(id)
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns all documents ordered by date
func (s *Service) ListDocuments() ([]*Document, error) {
	docs, err := s.db.ListDocuments()
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return docs, nil
}

// DocumentUpdate holds the user-editable fields of a document. Nil fields are left unchanged.
type DocumentUpdate struct {
	Title       *string            `json:"title"`
	OccurredAt  *time.Time         `json:"occurred_at"`
	Category    *scanning.Category `json:"category"`
	SubCategory *string            `json:"sub_category"`
	Owner       *string            `json:"owner"`
	TripID      *uint64            `json:"trip_id"`
}

// UpdateDocument applies a user edit to a document
func (s *Service) UpdateDocument(id uint64, update DocumentUpdate) (*Document, error) {
	doc, err := s.db.GetDocument(id)
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}

	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title is required", ErrValidation)
		}
		doc.Title = title
	}
	if update.OccurredAt != nil {
		if update.OccurredAt.IsZero() {
			return nil, fmt.Errorf("%w: date is required", ErrValidation)
		}
		doc.OccurredAt = update.OccurredAt.UTC()
	}
	if update.Category != nil {
		if !update.Category.Valid() {
			return nil, fmt.Errorf("%w: unknown category %q", ErrValidation, *update.Category)
		}
		doc.Category = *update.Category
	}
	if update.SubCategory != nil {
		doc.SubCategory = strings.TrimSpace(*update.SubCategory)
	}
	if update.Owner != nil {
		doc.Owner = strings.TrimSpace(*update.Owner)
	}
	if update.TripID != nil {
		if *update.TripID != 0 {
			if _, err := s.db.GetTrip(*update.TripID); err != nil {
				return nil, fmt.Errorf("getting trip: %w", err)
			}
		}
		doc.TripID = *update.TripID
	}

	doc.UpdatedAt = s.timeSource.Now()
	if err := s.db.UpdateDocument(doc); err != nil {
		return nil, fmt.Errorf("updating document: %w", err)
	}
	s.notifier.Notify()

	return doc, nil
}

// DeleteDocument removes a document. The stored file is removed only when no
// other document still refers to it.
func (s *Service) DeleteDocument(id uint64) error {
	doc, err := s.db.GetDocument(id)
	if err != nil {
		return fmt.Errorf("getting document for deletion: %w", err)
	}

	if err := s.db.DeleteDocument(id); err != nil {
		return fmt.Errorf("deleting document from database: %w", err)
	}
	s.notifier.Notify()

	shared, err := s.sourceInUse(doc.SourceURI)
	if err != nil {
		slog.Warn("Failed to check file references", "source_uri", doc.SourceURI, "error", err)
		return nil
	}
	if shared {
		return nil
	}

	if err := s.storage.Delete(doc.SourceURI); err != nil {
		slog.Warn("Failed to delete file", "source_uri", doc.SourceURI, "error", err)
	}
	return nil
}

func (s *Service) sourceInUse(sourceURI string) (bool, error) {
	docs, err := s.db.ListDocuments()
	if err != nil {
		return false, err
	}
	for _, d := range docs {
		if d.SourceURI == sourceURI {
			return true, nil
		}
	}
	return false, nil
}

// GetDocumentFile retrieves the stored file behind a document and its content type
func (s *Service) GetDocumentFile(id uint64) ([]byte, string, error) {
	doc, err := s.db.GetDocument(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting document: %w", err)
	}

	data, err := s.storage.Get(doc.SourceURI)
	if err != nil {
		return nil, "", fmt.Errorf("getting document file: %w", err)
	}

	return data, scanning.MIMEType(doc.SourceURI), nil
}
