package cache

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyFilter(t *testing.T) {
	t.Run("disabled filter admits everything", func(t *testing.T) {
		filter := newKeyFilter(0)
		assert.Nil(t, filter)
		filter.Add("a")
		filter.Reset(slices.Values([]string{"b"}))
		assert.True(t, filter.MayContain("anything"))
	})
	t.Run("added keys pass", func(t *testing.T) {
		filter := newKeyFilter(100)
		assert.False(t, filter.MayContain("a"))
		filter.Add("a")
		assert.True(t, filter.MayContain("a"))
	})
	t.Run("reset forgets keys", func(t *testing.T) {
		filter := newKeyFilter(100)
		filter.Add("a")
		filter.Reset(slices.Values([]string{"b", "c"}))
		assert.False(t, filter.MayContain("a"))
		assert.True(t, filter.MayContain("b"))
		assert.True(t, filter.MayContain("c"))
	})
}
