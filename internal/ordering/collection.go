package ordering

import "sort"

// Collection tracks the positions of the sibling entities of one container.
// Every mutation is expressed as a Shift, so the arithmetic matches the SQL
// store row for row.
type Collection struct {
	positions map[string]int
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{positions: make(map[string]int)}
}

// CollectionOf copies positions into a new collection.
func CollectionOf(positions map[string]int) *Collection {
	c := NewCollection()
	for id, pos := range positions {
		c.positions[id] = pos
	}
	return c
}

func (c *Collection) Len() int {
	return len(c.positions)
}

// Position returns the position of id.
func (c *Collection) Position(id string) (int, bool) {
	pos, ok := c.positions[id]
	return pos, ok
}

// Max returns the highest position, or -1 for an empty collection.
func (c *Collection) Max() int {
	highest := -1
	for _, pos := range c.positions {
		if pos > highest {
			highest = pos
		}
	}
	return highest
}

// Shift applies s to every member except exclude and returns the ids it moved.
func (c *Collection) Shift(s Shift, exclude string) []string {
	if s.Empty() {
		return nil
	}
	var moved []string
	for id, pos := range c.positions {
		if id == exclude || !s.Covers(pos) {
			continue
		}
		c.positions[id] = pos + s.Delta
		moved = append(moved, id)
	}
	sort.Strings(moved)
	return moved
}

// Place sets the position of id without touching any sibling.
func (c *Collection) Place(id string, pos int) {
	c.positions[id] = pos
}

// Append places id after the current last member and returns its position.
func (c *Collection) Append(id string) int {
	pos := c.Max() + 1
	c.positions[id] = pos
	return pos
}

// InsertAt opens a slot at pos and places id there.
func (c *Collection) InsertAt(id string, pos int) {
	delete(c.positions, id)
	c.Shift(OpenSlot(pos), id)
	c.positions[id] = pos
}

// Remove drops id and closes the gap it leaves. It returns the removed
// position.
func (c *Collection) Remove(id string) (int, bool) {
	pos, ok := c.positions[id]
	if !ok {
		return 0, false
	}
	delete(c.positions, id)
	c.Shift(CloseGap(pos), "")
	return pos, true
}

// RemoveAt removes the first member (in Ordered order) found at pos.
func (c *Collection) RemoveAt(pos int) (string, bool) {
	for _, id := range c.Ordered() {
		if c.positions[id] == pos {
			c.Remove(id)
			return id, true
		}
	}
	return "", false
}

// MoveTo moves id to pos with a bounded range shift. It reports false when
// id is unknown or already at pos.
func (c *Collection) MoveTo(id string, pos int) bool {
	current, ok := c.positions[id]
	if !ok {
		return false
	}
	shift, moved := PlanMove(current, pos)
	if !moved {
		return false
	}
	c.Shift(shift, id)
	c.positions[id] = pos
	return true
}

// Ordered returns the member ids sorted by position, ties broken by id.
func (c *Collection) Ordered() []string {
	ids := make([]string, 0, len(c.positions))
	for id := range c.positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		pi, pj := c.positions[ids[i]], c.positions[ids[j]]
		if pi != pj {
			return pi < pj
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Dense reports whether the positions are exactly {0, ..., n-1}.
func (c *Collection) Dense() bool {
	return IsDense(c.Snapshot())
}

// Snapshot returns a copy of the id to position map.
func (c *Collection) Snapshot() map[string]int {
	out := make(map[string]int, len(c.positions))
	for id, pos := range c.positions {
		out[id] = pos
	}
	return out
}

// Clone returns an independent copy.
func (c *Collection) Clone() *Collection {
	return CollectionOf(c.positions)
}

// Compact renumbers the members densely in Ordered order and returns the
// ids whose position changed.
func (c *Collection) Compact() []string {
	var changed []string
	for i, id := range c.Ordered() {
		if c.positions[id] != i {
			c.positions[id] = i
			changed = append(changed, id)
		}
	}
	return changed
}

// IsDense reports whether the values of positions are exactly {0, ..., n-1}.
func IsDense(positions map[string]int) bool {
	seen := make([]bool, len(positions))
	for _, pos := range positions {
		if pos < 0 || pos >= len(seen) || seen[pos] {
			return false
		}
		seen[pos] = true
	}
	return true
}
