package rooms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeSettings(t *testing.T) {
	t.Run("new keys override, others preserved", func(t *testing.T) {
		current := map[string]any{"audio_model": "x", "lang": "en"}
		partial := map[string]any{"text_model": "y", "lang": "fr"}

		merged := mergeSettings(current, partial)

		assert.Equal(t, map[string]any{
			"audio_model": "x",
			"text_model":  "y",
			"lang":        "fr",
		}, merged)
	})

	t.Run("does not mutate inputs", func(t *testing.T) {
		current := map[string]any{"a": 1}
		partial := map[string]any{"b": 2}

		mergeSettings(current, partial)

		assert.Equal(t, map[string]any{"a": 1}, current)
		assert.Equal(t, map[string]any{"b": 2}, partial)
	})

	t.Run("nil inputs", func(t *testing.T) {
		assert.Equal(t, map[string]any{"a": 1}, mergeSettings(nil, map[string]any{"a": 1}))
		assert.Equal(t, map[string]any{"a": 1}, mergeSettings(map[string]any{"a": 1}, nil))
		assert.Equal(t, map[string]any{}, mergeSettings(nil, nil))
	})
}
