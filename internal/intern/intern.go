// Package intern implements the writer's per-sequence interning
// dictionary. It is exclusively owned by the writer goroutine, so it
// carries no internal locking.
package intern

// Table holds two independent name->id maps, for event names and debug
// annotation names. Ids are dense, 1-based, and monotonic within a
// generation; Reset starts a new generation.
type Table struct {
	eventNames      table
	annotationNames table
}

type table struct {
	ids    map[string]uint64
	nextID uint64
}

func newTable() table {
	return table{ids: make(map[string]uint64), nextID: 1}
}

func (t *table) intern(name string) (uint64, bool) {
	if iid, ok := t.ids[name]; ok {
		return iid, false
	}
	iid := t.nextID
	t.ids[name] = iid
	t.nextID++
	return iid, true
}

// forget undoes an intern call for name, but only if iid is still the id
// name is interned under -- the caller uses this to roll back a name it
// just interned when the packet declaring it was never actually written,
// so the name is interned (and declared) as new on the next attempt. The
// counter is also wound back when iid is the most recently assigned id,
// so that id is reused; otherwise it is skipped.
func (t *table) forget(name string, iid uint64) {
	if t.ids[name] != iid {
		return
	}
	delete(t.ids, name)
	if t.nextID == iid+1 {
		t.nextID = iid
	}
}

func (t *table) reset() {
	clear(t.ids)
	t.nextID = 1
}

// New returns a Table ready for its first generation.
func New() *Table {
	return &Table{eventNames: newTable(), annotationNames: newTable()}
}

// EventName interns name in the event-name dictionary, returning its id
// and whether this is the first time name was seen this generation.
func (t *Table) EventName(name string) (iid uint64, isNew bool) {
	return t.eventNames.intern(name)
}

// AnnotationName interns name in the debug-annotation-name dictionary.
func (t *Table) AnnotationName(name string) (iid uint64, isNew bool) {
	return t.annotationNames.intern(name)
}

// ForgetEventName rolls back a name interned via EventName when the
// packet that was meant to declare it was never written.
func (t *Table) ForgetEventName(name string, iid uint64) {
	t.eventNames.forget(name, iid)
}

// ForgetAnnotationName rolls back a name interned via AnnotationName
// when the packet that was meant to declare it was never written.
func (t *Table) ForgetAnnotationName(name string, iid uint64) {
	t.annotationNames.forget(name, iid)
}

// Reset clears both dictionaries and restarts both counters at 1. The
// writer calls this at the start of every processed buffer.
func (t *Table) Reset() {
	t.eventNames.reset()
	t.annotationNames.reset()
}
