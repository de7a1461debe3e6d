package scanning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	geminiProvider     = "gemini"
	defaultGeminiModel = "gemini-2.0-flash"
	defaultTimeout     = 60 * time.Second
)

// Gemini implements the Extractor interface using Google Gemini
type Gemini struct {
	credentials CredentialSource
	modelName   string
	timeout     time.Duration
	opts        []option.ClientOption

	mu     sync.Mutex
	key    string
	client *genai.Client
}

// NewGemini creates a new Gemini Extractor. The API key is looked up through
// credentials on every call; extra client options are appended after the key.
func NewGemini(credentials CredentialSource, modelName string, timeout time.Duration, opts ...option.ClientOption) (*Gemini, error) {
	if credentials == nil {
		return nil, fmt.Errorf("gemini credential source is required")
	}
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Gemini{
		credentials: credentials,
		modelName:   modelName,
		timeout:     timeout,
		opts:        opts,
	}, nil
}

// Extract sends the prompt and the file to Gemini and returns the reply text
func (g *Gemini) Extract(ctx context.Context, req Request) (string, error) {
	key, err := g.credentials.APIKey(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving gemini api key: %w", err)
	}
	if strings.TrimSpace(key) == "" {
		return "", &CredentialsMissingError{Provider: geminiProvider}
	}

	client, err := g.clientFor(ctx, key)
	if err != nil {
		return "", err
	}

	parts, err := geminiParts(req)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	model := client.GenerativeModel(g.modelName)
	model.SetTemperature(0)

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", geminiTransportError(err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &TransportError{Provider: geminiProvider, Message: "no response from gemini"}
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	text := strings.TrimSpace(responseText.String())
	if text == "" {
		return "", &TransportError{Provider: geminiProvider, Message: "empty text in gemini response"}
	}
	return text, nil
}

// clientFor returns a client for key, replacing the cached one when the key changed
func (g *Gemini) clientFor(ctx context.Context, key string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil && g.key == key {
		return g.client, nil
	}
	if g.client != nil {
		g.client.Close()
		g.client = nil
	}

	opts := append([]option.ClientOption{option.WithAPIKey(key)}, g.opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	g.client = client
	g.key = key
	return client, nil
}

// geminiParts builds the instruction part followed by the inline file part
func geminiParts(req Request) ([]genai.Part, error) {
	data, mimeType, err := prepareInline(req.Data, req.Filename)
	if err != nil {
		return nil, err
	}
	return []genai.Part{
		genai.Text(req.Prompt),
		genai.Blob{MIMEType: mimeType, Data: data},
	}, nil
}

func geminiTransportError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &TransportError{
			Provider:   geminiProvider,
			StatusCode: apiErr.Code,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	return &TransportError{Provider: geminiProvider, Err: err}
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		return nil
	}
	err := g.client.Close()
	g.client = nil
	return err
}
