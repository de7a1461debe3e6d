package scanning

import (
	"context"
	"time"
)

// Request is a single file submitted to a vision model
type Request struct {
	Filename string // used to infer the MIME type
	Data     []byte
	Prompt   string
}

// Extractor defines the interface for vision-model extraction
type Extractor interface {
	// Extract sends the file and prompt to the model and returns its raw text reply
	Extract(ctx context.Context, req Request) (string, error)

	// Close closes the extractor and releases resources
	Close() error
}

// CredentialSource resolves the API key used by an extractor. It is consulted on
// every call so a key saved at runtime takes effect immediately.
type CredentialSource interface {
	APIKey(ctx context.Context) (string, error)
}

// StaticKey is a CredentialSource backed by a fixed string
type StaticKey string

// APIKey returns the key itself
func (k StaticKey) APIKey(context.Context) (string, error) {
	return string(k), nil
}

// Candidate is one logical document found in a model reply. It is not persisted directly.
type Candidate struct {
	Title         string    `json:"title"`
	OccurredAt    time.Time `json:"occurred_at"`
	Category      Category  `json:"category"`
	SubCategory   string    `json:"sub_category,omitempty"`
	Owner         string    `json:"owner,omitempty"`
	MissingFields []string  `json:"missing_fields"`
}
