package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
	"k8s.io/klog/v2"
)

// GeminiBackend implements Backend over the Gemini API.
type GeminiBackend struct {
	client *genai.Client
	model  string
}

// NewGeminiBackend builds a backend from an API key and a short model
// name ("flash", "pro", ...) or a full model id.
func NewGeminiBackend(ctx context.Context, apiKey, model string) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, &FatalError{Err: errors.New("GEMINI_API_KEY is not set")}
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &FatalError{Err: fmt.Errorf("gemini client: %w", err)}
	}

	id := ResolveModel(model, "gemini")
	klog.V(1).Infof("gemini backend ready, model %s", id)
	return &GeminiBackend{client: client, model: id}, nil
}

// GenerateVision sends one image plus a prompt.
func (g *GeminiBackend) GenerateVision(ctx context.Context, mime string, data []byte, prompt string) (string, error) {
	parts := []*genai.Part{
		genai.NewPartFromBytes(data, mime),
		genai.NewPartFromText(prompt),
	}
	return g.generate(ctx, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)})
}

// GenerateText sends a text-only prompt.
func (g *GeminiBackend) GenerateText(ctx context.Context, prompt string) (string, error) {
	return g.generate(ctx, genai.Text(prompt))
}

func (g *GeminiBackend) generate(ctx context.Context, contents []*genai.Content) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", classify(err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("empty model response")
	}
	return text, nil
}

// classify separates retryable failures from fatal ones. Auth, billing,
// bad-request and quota-exhaustion never get better on retry; rate
// limiting and server errors do.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429 && strings.Contains(strings.ToLower(apiErr.Message), "quota"):
			return &FatalError{Err: err}
		case apiErr.Code == 429 || apiErr.Code >= 500:
			return err
		case apiErr.Code >= 400:
			return &FatalError{Err: err}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return err
}
