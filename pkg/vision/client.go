package vision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/klog/v2"
)

// Backend is a raw multimodal model endpoint. Implementations classify
// their failures: non-retryable errors (auth, quota, invalid argument)
// must be wrapped in FatalError.
type Backend interface {
	// GenerateVision sends one image plus a prompt and returns the text reply.
	GenerateVision(ctx context.Context, mime string, data []byte, prompt string) (string, error)
	// GenerateText sends a text-only prompt and returns the text reply.
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// FatalError marks a backend failure that must not be retried.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err carries a non-retryable backend failure.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Options tune the client's retry and timeout behavior.
type Options struct {
	RetryAttempts int           // default 3
	RetryDelay    time.Duration // default 2s, backoff grows linearly
	CallTimeout   time.Duration // default 60s per backend call
}

func (o *Options) withDefaults() Options {
	opts := Options{RetryAttempts: 3, RetryDelay: 2 * time.Second, CallTimeout: 60 * time.Second}
	if o == nil {
		return opts
	}
	if o.RetryAttempts > 0 {
		opts.RetryAttempts = o.RetryAttempts
	}
	if o.RetryDelay > 0 {
		opts.RetryDelay = o.RetryDelay
	}
	if o.CallTimeout > 0 {
		opts.CallTimeout = o.CallTimeout
	}
	return opts
}

// Client is the engine's view of the vision service.
type Client struct {
	backend Backend
	opts    Options
}

// NewClient wraps a backend with the retry policy and response parsing.
func NewClient(backend Backend, opts *Options) *Client {
	return &Client{backend: backend, opts: opts.withDefaults()}
}

// DescribeOneFace produces a canonical textual description of the
// primary subject. Used when ingesting a roster reference.
func (c *Client) DescribeOneFace(ctx context.Context, mime string, data []byte) (string, error) {
	text, err := c.generateVision(ctx, mime, data, describeFacePrompt)
	if err != nil {
		return "", fmt.Errorf("describe face: %w", err)
	}
	return text, nil
}

// DetectAllSubjects enumerates every distinguishable subject in the
// image. An empty slice is a valid result (no faces).
func (c *Client) DetectAllSubjects(ctx context.Context, mime string, data []byte) ([]Detection, error) {
	text, err := c.generateVision(ctx, mime, data, detectSubjectsPrompt)
	if err != nil {
		return nil, fmt.Errorf("detect subjects: %w", err)
	}
	detections, err := parseDetections(text)
	if err != nil {
		return nil, fmt.Errorf("detect subjects: %w", err)
	}
	return detections, nil
}

// CompareDescriptions scores the similarity of two descriptions in
// [0,1]. The qualitative reason is logged, never interpreted.
func (c *Client) CompareDescriptions(ctx context.Context, a, b string) (float64, string, error) {
	prompt := fmt.Sprintf(comparePromptTemplate, a, b)
	text, err := c.generateText(ctx, prompt)
	if err != nil {
		return 0, "", fmt.Errorf("compare descriptions: %w", err)
	}
	score, reason, err := parseSimilarity(text)
	if err != nil {
		return 0, "", fmt.Errorf("compare descriptions: %w", err)
	}
	return score, reason, nil
}

func (c *Client) generateVision(ctx context.Context, mime string, data []byte, prompt string) (string, error) {
	return c.retry(ctx, func(ctx context.Context) (string, error) {
		return c.backend.GenerateVision(ctx, mime, data, prompt)
	})
}

func (c *Client) generateText(ctx context.Context, prompt string) (string, error) {
	return c.retry(ctx, func(ctx context.Context) (string, error) {
		return c.backend.GenerateText(ctx, prompt)
	})
}

// retry runs fn up to RetryAttempts times with linearly growing backoff.
// Fatal errors and context cancellation end the loop immediately.
func (c *Client) retry(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.opts.RetryAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
		text, err := fn(callCtx)
		cancel()
		if err == nil {
			return text, nil
		}
		lastErr = err

		if IsFatal(err) || ctx.Err() != nil {
			return "", err
		}
		if attempt == c.opts.RetryAttempts {
			break
		}

		delay := time.Duration(attempt) * c.opts.RetryDelay
		klog.Warningf("vision call failed (attempt %d/%d), retrying in %s: %v", attempt, c.opts.RetryAttempts, delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("after %d attempts: %w", c.opts.RetryAttempts, lastErr)
}
