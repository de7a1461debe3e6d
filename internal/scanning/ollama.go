package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const ollamaProvider = "ollama"

// Ollama implements the Extractor interface using a local Ollama server
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new Ollama Extractor instance
// Recommended models for document extraction:
//   - llava:1.6 (best balance of accuracy and speed)
//   - qwen2-vl:7b (good OCR capabilities)
//   - llava-phi3 (smaller, faster, but less accurate)
//
// Vision models read raster images only, so PDFs are rendered to PNG first.
func NewOllama(baseURL string, modelName string, timeout time.Duration) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Ollama{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   modelName,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

// Extract sends the prompt and the rendered image to Ollama and returns the reply text
func (o *Ollama) Extract(ctx context.Context, req Request) (string, error) {
	imageData, err := prepareImage(req.Data, req.Filename)
	if err != nil {
		return "", err
	}

	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Format: "json",
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: "You are an expert at reading travel and identity documents. You carefully read all text in images and extract accurate information.",
			},
			{
				Role:    "user",
				Content: req.Prompt,
				Images:  []string{base64.StdEncoding.EncodeToString(imageData)},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", &TransportError{Provider: ollamaProvider, Err: fmt.Errorf("calling ollama API: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Provider: ollamaProvider, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}

	var chatResp ollamaChatResponse
	decodeErr := json.Unmarshal(body, &chatResp)

	if resp.StatusCode != http.StatusOK {
		message := strings.TrimSpace(string(body))
		if decodeErr == nil && chatResp.Error != "" {
			message = chatResp.Error
		}
		return "", &TransportError{Provider: ollamaProvider, StatusCode: resp.StatusCode, Message: message}
	}
	if decodeErr != nil {
		return "", &TransportError{Provider: ollamaProvider, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", decodeErr)}
	}

	text := strings.TrimSpace(chatResp.Message.Content)
	if text == "" {
		return "", &TransportError{Provider: ollamaProvider, StatusCode: resp.StatusCode, Message: "empty response from ollama"}
	}
	return text, nil
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
