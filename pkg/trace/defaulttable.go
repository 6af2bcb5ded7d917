package trace

// MapThreadTable is the default ThreadTable: a plain map guarded by
// nothing, because pkg/trace's control loop is single-threaded by
// design (see package docs) and is the only caller. It is sufficient to
// run the control loop standalone in tests and in cmd/gdbtrace.
type MapThreadTable struct {
	threads map[int]*ThreadRecord
}

// NewMapThreadTable returns an empty thread table.
func NewMapThreadTable() *MapThreadTable {
	return &MapThreadTable{threads: make(map[int]*ThreadRecord)}
}

func (m *MapThreadTable) Lookup(tid int) (*ThreadRecord, bool) {
	rec, ok := m.threads[tid]
	return rec, ok
}

func (m *MapThreadTable) Allocate(tid int) *ThreadRecord {
	rec := &ThreadRecord{TID: tid}
	m.threads[tid] = rec
	return rec
}

func (m *MapThreadTable) Drop(tid int) {
	delete(m.threads, tid)
}

// Len reports the number of threads currently tracked, consumed by
// pkg/metrics as the tracked-thread gauge.
func (m *MapThreadTable) Len() int {
	return len(m.threads)
}
