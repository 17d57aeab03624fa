package ordering

import "testing"

func TestPlanMove(t *testing.T) {
	cases := []struct {
		name      string
		current   int
		requested int
		want      Shift
		moved     bool
	}{
		{name: "later", current: 0, requested: 2, want: Shift{From: 1, To: 2, Delta: -1}, moved: true},
		{name: "earlier", current: 2, requested: 0, want: Shift{From: 0, To: 1, Delta: 1}, moved: true},
		{name: "adjacent later", current: 3, requested: 4, want: Shift{From: 4, To: 4, Delta: -1}, moved: true},
		{name: "same", current: 1, requested: 1, moved: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, moved := PlanMove(tc.current, tc.requested)
			if moved != tc.moved || got != tc.want {
				t.Fatalf("PlanMove(%d, %d) = %+v/%v, want %+v/%v", tc.current, tc.requested, got, moved, tc.want, tc.moved)
			}
		})
	}
}

func TestShiftBoundaries(t *testing.T) {
	later, _ := PlanMove(1, 3)
	for pos, want := range map[int]bool{0: false, 1: false, 2: true, 3: true, 4: false} {
		if got := later.Covers(pos); got != want {
			t.Errorf("later.Covers(%d) = %v, want %v", pos, got, want)
		}
	}

	earlier, _ := PlanMove(3, 1)
	for pos, want := range map[int]bool{0: false, 1: true, 2: true, 3: false, 4: false} {
		if got := earlier.Covers(pos); got != want {
			t.Errorf("earlier.Covers(%d) = %v, want %v", pos, got, want)
		}
	}

	gap := CloseGap(2)
	if gap.Covers(2) || !gap.Covers(3) || !gap.Covers(1000) {
		t.Errorf("CloseGap(2) covers wrong range: %+v", gap)
	}
	slot := OpenSlot(0)
	if !slot.Covers(0) || slot.Apply(4) != 5 {
		t.Errorf("OpenSlot(0) covers wrong range: %+v", slot)
	}
	if !(Shift{From: 3, To: 2, Delta: 1}).Empty() || (Shift{From: 0, To: Unbounded, Delta: 1}).Empty() {
		t.Error("Empty() misreports")
	}
}
