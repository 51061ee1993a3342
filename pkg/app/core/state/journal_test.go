package state

import "testing"

func TestJournalRevertOrder(t *testing.T) {
	j := NewJournal()
	var log []int

	value := 0
	set := func(v int) {
		prev := value
		value = v
		j.Append(func() {
			log = append(log, prev)
			value = prev
		})
	}

	set(1)
	snap := j.Snapshot()
	set(2)
	set(3)

	j.RevertToSnapshot(snap)

	if value != 1 {
		t.Fatalf("value = %d, want 1", value)
	}
	if len(log) != 2 || log[0] != 2 || log[1] != 1 {
		t.Errorf("undo order = %v, want [2 1]", log)
	}
	if j.Len() != 1 {
		t.Errorf("len = %d, want 1", j.Len())
	}
}

func TestJournalNestedSnapshots(t *testing.T) {
	j := NewJournal()
	value := 0
	set := func(v int) {
		prev := value
		value = v
		j.Append(func() { value = prev })
	}

	outer := j.Snapshot()
	set(10)
	inner := j.Snapshot()
	set(20)
	j.RevertToSnapshot(inner)
	if value != 10 {
		t.Fatalf("after inner revert value = %d, want 10", value)
	}

	set(30)
	j.RevertToSnapshot(outer)
	if value != 0 {
		t.Fatalf("after outer revert value = %d, want 0", value)
	}
}

func TestJournalReset(t *testing.T) {
	j := NewJournal()
	j.Append(func() {})
	j.Append(func() {})
	j.Reset()
	if j.Len() != 0 {
		t.Errorf("len after reset = %d, want 0", j.Len())
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic for out of range snapshot")
		}
	}()
	j.RevertToSnapshot(5)
}
