package metering

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNonWhitespaceChars(t *testing.T) {
	assert.Equal(t, 0, NonWhitespaceChars(""))
	assert.Equal(t, 0, NonWhitespaceChars("  \t\n  "))
	assert.Equal(t, 10, NonWhitespaceChars("Hello there"))
	assert.Equal(t, 4, NonWhitespaceChars("你好 世界"), "runes, not bytes")
}

func TestCostOf(t *testing.T) {
	t.Run("empty text costs zero", func(t *testing.T) {
		assert.Equal(t, int64(0), CostOf("", 100))
		assert.Equal(t, int64(0), CostOf("   ", 100))
	})

	t.Run("rounds up", func(t *testing.T) {
		assert.Equal(t, int64(1), CostOf("a", 100))
		assert.Equal(t, int64(1), CostOf("Hello there", 100))
	})

	t.Run("exact multiples", func(t *testing.T) {
		text := ""
		for i := 0; i < 100; i++ {
			text += "x"
		}
		assert.Equal(t, int64(1), CostOf(text, 100))
		assert.Equal(t, int64(2), CostOf(text+"y", 100))
	})

	t.Run("whitespace excluded from count", func(t *testing.T) {
		assert.Equal(t, int64(1), CostOf("a b c d e", 5))
		assert.Equal(t, int64(2), CostOf("a b c d e f", 5))
	})
}

func TestServiceCost(t *testing.T) {
	svc := NewService(nil, 5, testLogger())

	assert.Equal(t, int64(0), svc.Cost("   "))
	assert.Equal(t, int64(1), svc.Cost("a b c d e"))
	assert.Equal(t, int64(2), svc.Cost("a b c d e f"))
}

func TestBreakdown(t *testing.T) {
	svc := NewService(nil, 100, testLogger())

	b := svc.Breakdown("Hello there", "some assistant reply")
	assert.Equal(t, 10, b.InputChars)
	assert.Equal(t, 18, b.OutputChars)
	assert.Equal(t, int64(1), b.InputCost)
	assert.Equal(t, int64(1), b.OutputCost)
	assert.Equal(t, int64(2), b.TotalCost)
}
