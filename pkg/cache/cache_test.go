package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempCache(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "cache.json")
}

func TestLoadMissingFile(t *testing.T) {
	s, err := Load(tempCache(t))
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Load(tempCache(t))
	require.NoError(t, err)

	type payload struct {
		Description string `json:"description"`
	}
	require.NoError(t, s.Put("abc123", "detect_subjects", payload{Description: "red helmet"}))

	var got payload
	hit, err := s.Get("abc123", "detect_subjects", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "red helmet", got.Description)

	hit, err = s.Get("abc123", "describe_face", &got)
	require.NoError(t, err)
	assert.False(t, hit, "different prompt kind must miss")

	hit, err = s.Get("other", "detect_subjects", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestFlushAndReload(t *testing.T) {
	path := tempCache(t)
	s, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, s.Put("h1", "detect_subjects", []string{"a"}))
	require.NoError(t, s.Flush())

	s2, err := Load(path)
	require.NoError(t, err)
	var got []string
	hit, err := s2.Get("h1", "detect_subjects", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []string{"a"}, got)
}

func TestPeriodicFlush(t *testing.T) {
	path := tempCache(t)
	s, err := Load(path)
	require.NoError(t, err)

	for i := 0; i < flushEvery; i++ {
		require.NoError(t, s.Put(string(rune('a'+i)), "detect_subjects", i))
	}

	// flushEvery puts must have hit disk without an explicit Flush.
	s2, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, flushEvery, s2.Len())
}

func TestUnknownKeysSurviveRewrite(t *testing.T) {
	path := tempCache(t)
	seed := map[string]map[string]json.RawMessage{
		"h9": {
			"future_prompt_kind": json.RawMessage(`{"novel": true}`),
		},
	}
	data, err := json.Marshal(seed)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, s.Put("h1", "detect_subjects", "x"))
	require.NoError(t, s.Flush())

	s2, err := Load(path)
	require.NoError(t, err)
	var novel struct {
		Novel bool `json:"novel"`
	}
	hit, err := s2.Get("h9", "future_prompt_kind", &novel)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.True(t, novel.Novel)
}

func TestCorruptFileStartsFresh(t *testing.T) {
	path := tempCache(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestCloseFlushesPending(t *testing.T) {
	path := tempCache(t)
	s, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, s.Put("h1", "detect_subjects", 1))
	require.NoError(t, s.Close())

	s2, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, s2.Len())
}
