package cache

import "iter"

// entry is the in-memory state of one key.
type entry struct {
	key      string
	fileName string // Committed file name inside the cache dir; the staging file appends stagingSuffix.
	length   int64  // Size of the committed file; only meaningful while readable.
	readable bool   // A committed file exists for this key.
	// editor is the single live write lease, if any.
	editor *Editor
	// openSnapshots counts live read leases. The committed file can't be deleted while it's positive.
	openSnapshots int
	// zombie entries were removed but still have leases outstanding; they're invisible to new Get / Edit calls.
	zombie bool
	node   *linkedListNode[*entry]
}

// hasLeases reports whether an editor or a snapshot still pins the entry's files.
func (e *entry) hasLeases() bool {
	return e.editor != nil || e.openSnapshots > 0
}

// entryTable maps keys to entries and keeps them in access order: least recently used at the front.
type entryTable struct {
	index map[string]*entry
	order linkedList[*entry]
}

func newEntryTable() *entryTable {
	return &entryTable{index: make(map[string]*entry)}
}

// Len returns the number of entries, zombies included.
func (t *entryTable) Len() int {
	return len(t.index)
}

// Get looks up the entry for the given key and marks it as most recently used.
func (t *entryTable) Get(key string) (*entry, bool) {
	e, found := t.index[key]
	if found {
		t.order.MoveToBack(e.node)
	}
	return e, found
}

// Peek looks up the entry without touching its recency.
func (t *entryTable) Peek(key string) (*entry, bool) {
	e, found := t.index[key]
	return e, found
}

// Touch marks the entry as most recently used.
func (t *entryTable) Touch(e *entry) {
	t.order.MoveToBack(e.node)
}

// GetOrCreate returns the existing entry for the key (marking it as most recently used) or inserts a new one.
func (t *entryTable) GetOrCreate(key string) *entry {
	if e, found := t.Get(key); found {
		return e
	}
	e := &entry{key: key, fileName: fileNameForKey(key)}
	e.node = t.order.PushBack(e)
	t.index[key] = e
	return e
}

// Delete drops the entry from the table; it's a no-op for entries not in the table.
func (t *entryTable) Delete(e *entry) {
	if current, found := t.index[e.key]; !found || current != e {
		return
	}
	delete(t.index, e.key)
	t.order.Remove(e.node)
}

// Oldest returns the least recently used entry matching `accept`, or nil.
func (t *entryTable) Oldest(accept func(*entry) bool) *entry {
	for e := range t.order.All() {
		if accept(e) {
			return e
		}
	}
	return nil
}

// All yields entries from least to most recently used. The table must not be modified while iterating.
func (t *entryTable) All() iter.Seq[*entry] {
	return t.order.All()
}

// Snapshot returns all entries from least to most recently used; safe to modify the table while ranging over it.
func (t *entryTable) Snapshot() []*entry {
	entries := make([]*entry, 0, t.Len())
	for e := range t.order.All() {
		entries = append(entries, e)
	}
	return entries
}
