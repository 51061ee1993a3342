// Package state provides the undo journal shared by the ledger, order book and
// event log. Every mutation registers an undo closure; an operation that fails
// reverts to the snapshot it took on entry, including any nested (reentrant)
// frames that ran in between.
package state

// Journal is not safe for concurrent use. It is owned by a single exchange
// instance and driven by one goroutine.
type Journal struct {
	undo []func()
}

// NewJournal returns an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Append records how to undo a mutation that has already been applied.
func (j *Journal) Append(undo func()) {
	j.undo = append(j.undo, undo)
}

// Snapshot returns an identifier for the current journal position.
func (j *Journal) Snapshot() int {
	return len(j.undo)
}

// RevertToSnapshot undoes every mutation recorded after snapshot, newest first.
func (j *Journal) RevertToSnapshot(snapshot int) {
	if snapshot < 0 || snapshot > len(j.undo) {
		panic("state: invalid journal snapshot")
	}
	for i := len(j.undo) - 1; i >= snapshot; i-- {
		j.undo[i]()
		j.undo[i] = nil
	}
	j.undo = j.undo[:snapshot]
}

// Reset drops all undo entries. Called once the outermost operation commits.
func (j *Journal) Reset() {
	for i := range j.undo {
		j.undo[i] = nil
	}
	j.undo = j.undo[:0]
}

// Len returns the number of pending undo entries.
func (j *Journal) Len() int {
	return len(j.undo)
}
