package oplog

import (
	"errors"
	"sync"
)

var ErrDuplicateOperation = errors.New("duplicate operation id")

// Log is the ordered record of operations for one room. Append order is the
// replay order; entries are never reordered. Only the hidden flag of an
// entry changes after it is appended.
type Log struct {
	ops   []Operation
	index map[string]int
	mu    sync.RWMutex
}

func New() *Log {
	return &Log{
		ops:   make([]Operation, 0),
		index: make(map[string]int),
	}
}

// Appends op to the end of the log
func (l *Log) Append(op Operation) error {
	if op.ID == "" {
		return ErrMissingID
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.index[op.ID]; ok {
		return ErrDuplicateOperation
	}
	l.index[op.ID] = len(l.ops)
	l.ops = append(l.ops, op)
	return nil
}

// ReplaceAll swaps the whole sequence, e.g. after loading from storage.
// The input is trusted to be ordered and free of duplicates.
func (l *Log) ReplaceAll(ops []Operation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ops = make([]Operation, len(ops))
	copy(l.ops, ops)
	l.index = make(map[string]int, len(ops))
	for i, op := range l.ops {
		l.index[op.ID] = i
	}
}

// FindMostRecentVisibleUserOperation returns the newest operation that is
// not hidden and is a user drawing (clear never qualifies), regardless of
// who authored it.
func (l *Log) FindMostRecentVisibleUserOperation() (Operation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := len(l.ops) - 1; i >= 0; i-- {
		op := l.ops[i]
		if op.Hidden {
			continue
		}
		if op.Type.IsUserDrawing() {
			return op, true
		}
	}
	return Operation{}, false
}

// FindMostRecentHiddenOperation returns the newest hidden operation.
func (l *Log) FindMostRecentHiddenOperation() (Operation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := len(l.ops) - 1; i >= 0; i-- {
		if l.ops[i].Hidden {
			return l.ops[i], true
		}
	}
	return Operation{}, false
}

// SetHidden toggles the flag of the operation with the given id. Unknown ids
// are ignored; late or repeated toggles are expected.
func (l *Log) SetHidden(id string, hidden bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[id]
	if !ok {
		return false
	}
	l.ops[i].Hidden = hidden
	return true
}

// Returns a copy of the full sequence, hidden flags included
func (l *Log) Snapshot() []Operation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ops := make([]Operation, len(l.ops))
	copy(ops, l.ops)
	return ops
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ops)
}

// Get returns the operation with the given id.
func (l *Log) Get(id string) (Operation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.index[id]
	if !ok {
		return Operation{}, false
	}
	return l.ops[i], true
}
