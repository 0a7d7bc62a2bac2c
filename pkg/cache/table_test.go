package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tableKeys(table *entryTable) []string {
	var keys []string
	for e := range table.All() {
		keys = append(keys, e.key)
	}
	return keys
}

func TestEntryTable(t *testing.T) {
	table := newEntryTable()
	a := table.GetOrCreate("a")
	table.GetOrCreate("b")
	table.GetOrCreate("c")
	assert.Equal(t, 3, table.Len())
	assert.Equal(t, []string{"a", "b", "c"}, tableKeys(table))
	assert.Equal(t, "a", a.fileName)

	_, found := table.Get("a")
	require.True(t, found)
	assert.Equal(t, []string{"b", "c", "a"}, tableKeys(table), "Get marks the entry as most recently used")
	_, found = table.Peek("b")
	require.True(t, found)
	assert.Equal(t, []string{"b", "c", "a"}, tableKeys(table), "Peek doesn't touch recency")
	assert.Same(t, a, table.GetOrCreate("a"))

	b, _ := table.Peek("b")
	b.zombie = true
	oldest := table.Oldest(func(e *entry) bool { return !e.zombie })
	require.NotNil(t, oldest)
	assert.Equal(t, "c", oldest.key)
	assert.Nil(t, table.Oldest(func(*entry) bool { return false }))

	for _, e := range table.Snapshot() {
		if e.key != "a" {
			table.Delete(e)
		}
	}
	assert.Equal(t, []string{"a"}, tableKeys(table))

	// Deleting a stale entry must not drop its replacement.
	table.Delete(a)
	replacement := table.GetOrCreate("a")
	table.Delete(a)
	current, found := table.Peek("a")
	require.True(t, found)
	assert.Same(t, replacement, current)
}

func TestEntry_HasLeases(t *testing.T) {
	e := &entry{}
	assert.False(t, e.hasLeases())
	e.openSnapshots = 1
	assert.True(t, e.hasLeases())
	e.openSnapshots = 0
	e.editor = &Editor{}
	assert.True(t, e.hasLeases())
}
