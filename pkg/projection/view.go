package projection

import (
	"fmt"
	"sync"

	"github.com/coreflux/eventcore/pkg/message"
)

// View is a mutex-guarded, keyed read model: the concrete in-memory
// implementation of the §4.5 ProjectionView contract (has/get/create/
// update/updateEnforcingNew/updateAll/delete/deleteAll). Every mutator
// locks the whole view for its duration, matching the teacher's
// ProjectionManager checkpoint-under-lock pattern scaled down to a single
// in-memory map.
type View[T any] struct {
	mu   sync.RWMutex
	rows map[string]T
}

// NewView creates an empty View.
func NewView[T any]() *View[T] {
	return &View[T]{rows: make(map[string]T)}
}

func viewKey(id message.ID) string {
	return fmt.Sprintf("%v", id)
}

// Has reports whether a row exists for id.
func (v *View[T]) Has(id message.ID) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.rows[viewKey(id)]
	return ok
}

// Get returns the row for id, or the zero value and false if absent.
func (v *View[T]) Get(id message.ID) (T, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	row, ok := v.rows[viewKey(id)]
	return row, ok
}

// Create inserts row under id. Returns an error if a row already exists.
func (v *View[T]) Create(id message.ID, row T) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	k := viewKey(id)
	if _, exists := v.rows[k]; exists {
		return fmt.Errorf("projection: row %v already exists", id)
	}
	v.rows[k] = row
	return nil
}

// Update replaces the row for id via mutate, returning an error if no row
// exists for id yet.
func (v *View[T]) Update(id message.ID, mutate func(row T) T) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	k := viewKey(id)
	row, exists := v.rows[k]
	if !exists {
		return fmt.Errorf("projection: row %v does not exist", id)
	}
	v.rows[k] = mutate(row)
	return nil
}

// UpdateEnforcingNew replaces the row for id via mutate, creating it first
// from the zero value if absent — an upsert, matching
// updateEnforcingNew's contract.
func (v *View[T]) UpdateEnforcingNew(id message.ID, mutate func(row T) T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	k := viewKey(id)
	v.rows[k] = mutate(v.rows[k])
}

// UpdateAll applies mutate to every row currently in the view. The key
// passed to mutate is the row's stringified identity, not its original
// message.ID value — callers needing the original id should embed it in T.
func (v *View[T]) UpdateAll(mutate func(key string, row T) T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for k, row := range v.rows {
		v.rows[k] = mutate(k, row)
	}
}

// Delete removes the row for id, if any.
func (v *View[T]) Delete(id message.ID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.rows, viewKey(id))
}

// DeleteAll empties the view.
func (v *View[T]) DeleteAll() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rows = make(map[string]T)
}

// Len reports the number of rows currently in the view.
func (v *View[T]) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.rows)
}
