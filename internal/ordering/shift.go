package ordering

// Unbounded as Shift.To covers every position at or after From.
const Unbounded = -1

// Shift adds Delta to every sibling position in the closed range [From, To].
type Shift struct {
	From  int
	To    int
	Delta int
}

// Covers reports whether pos falls inside the shifted range.
func (s Shift) Covers(pos int) bool {
	return pos >= s.From && (s.To == Unbounded || pos <= s.To)
}

// Apply returns pos after the shift.
func (s Shift) Apply(pos int) int {
	if s.Covers(pos) {
		return pos + s.Delta
	}
	return pos
}

// Empty reports whether the shift cannot touch any position.
func (s Shift) Empty() bool {
	return s.Delta == 0 || (s.To != Unbounded && s.To < s.From)
}

// PlanMove returns the sibling shift for moving an entity from current to
// requested inside one container. Moving later pulls (current, requested]
// back by one; moving earlier pushes [requested, current) forward by one.
// The second result is false when the positions are equal.
func PlanMove(current, requested int) (Shift, bool) {
	switch {
	case requested > current:
		return Shift{From: current + 1, To: requested, Delta: -1}, true
	case requested < current:
		return Shift{From: requested, To: current - 1, Delta: 1}, true
	default:
		return Shift{}, false
	}
}

// CloseGap is the shift applied to a container after the entity at removed
// leaves it.
func CloseGap(removed int) Shift {
	return Shift{From: removed + 1, To: Unbounded, Delta: -1}
}

// OpenSlot is the shift applied to a container before an entity is inserted
// at position at.
func OpenSlot(at int) Shift {
	return Shift{From: at, To: Unbounded, Delta: 1}
}
