package vision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend scripts a sequence of responses/errors per call.
type fakeBackend struct {
	visionCalls int
	textCalls   int
	responses   []string
	errs        []error
}

func (f *fakeBackend) next(n int) (string, error) {
	var err error
	if n <= len(f.errs) {
		err = f.errs[n-1]
	}
	if err != nil {
		return "", err
	}
	if n <= len(f.responses) {
		return f.responses[n-1], nil
	}
	return f.responses[len(f.responses)-1], nil
}

func (f *fakeBackend) GenerateVision(_ context.Context, _ string, _ []byte, _ string) (string, error) {
	f.visionCalls++
	return f.next(f.visionCalls)
}

func (f *fakeBackend) GenerateText(_ context.Context, _ string) (string, error) {
	f.textCalls++
	return f.next(f.textCalls)
}

func fastOpts() *Options {
	return &Options{RetryAttempts: 3, RetryDelay: time.Millisecond, CallTimeout: time.Second}
}

func TestDetectAllSubjects(t *testing.T) {
	b := &fakeBackend{responses: []string{`[{"position": "center", "outfit_description": "red helmet", "bib_number": "7"}]`}}
	c := NewClient(b, fastOpts())

	got, err := c.DetectAllSubjects(context.Background(), "image/jpeg", []byte("img"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "7", got[0].Bib())
	assert.Equal(t, 1, b.visionCalls)
}

func TestDetectAllSubjectsEmptyIsValid(t *testing.T) {
	b := &fakeBackend{responses: []string{`{"outfits": []}`}}
	c := NewClient(b, fastOpts())

	got, err := c.DetectAllSubjects(context.Background(), "image/jpeg", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetryTransientThenSucceed(t *testing.T) {
	b := &fakeBackend{
		errs:      []error{errors.New("503 unavailable"), nil},
		responses: []string{"", `{"outfits": []}`},
	}
	c := NewClient(b, fastOpts())

	_, err := c.DetectAllSubjects(context.Background(), "image/jpeg", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, b.visionCalls)
}

func TestRetryExhausted(t *testing.T) {
	boom := errors.New("timeout")
	b := &fakeBackend{errs: []error{boom, boom, boom}, responses: []string{""}}
	c := NewClient(b, fastOpts())

	_, err := c.DetectAllSubjects(context.Background(), "image/jpeg", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, b.visionCalls)
}

func TestFatalNotRetried(t *testing.T) {
	fatal := &FatalError{Err: errors.New("401 unauthorized")}
	b := &fakeBackend{errs: []error{fatal, fatal, fatal}, responses: []string{""}}
	c := NewClient(b, fastOpts())

	_, err := c.DetectAllSubjects(context.Background(), "image/jpeg", nil)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, 1, b.visionCalls)
}

func TestCompareDescriptions(t *testing.T) {
	b := &fakeBackend{responses: []string{`{"similarity": 0.9, "reasoning": "same gear"}`}}
	c := NewClient(b, fastOpts())

	score, reason, err := c.CompareDescriptions(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, score, 0.001)
	assert.Equal(t, "same gear", reason)
	assert.Equal(t, 1, b.textCalls)
}

func TestCancelledContextStopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := &fakeBackend{errs: []error{errors.New("503")}, responses: []string{""}}
	c := NewClient(b, fastOpts())

	_, err := c.DetectAllSubjects(ctx, "image/jpeg", nil)
	require.Error(t, err)
	assert.LessOrEqual(t, b.visionCalls, 1)
}
