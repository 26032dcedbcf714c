// Package vectorstore replaces the Python ChromaDB-backed GraphRAGStore with
// a pure Go equivalent: two sqlite-vec-shaped collections ("nodes" and
// "contexts") backed by an in-process vec0 virtual table and a cosine
// distance scalar function, both registered against modernc.org/sqlite so
// the whole store runs without cgo.
package vectorstore

import (
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	sqlite "modernc.org/sqlite"
	"modernc.org/sqlite/vtab"
)

var registerOnce sync.Once

// registerVecModule installs the vec0 virtual table module and the
// vector_distance_cos scalar function once per process.
func registerVecModule() {
	registerOnce.Do(func() {
		_ = vtab.RegisterModule(nil, "vec0", &vecModule{})
		_ = sqlite.RegisterDeterministicScalarFunction("vector_distance_cos", 2, vecDistanceCos)
	})
}

// vecModule implements a minimal vec0-compatible virtual table, storing rows
// in memory under the connection's lifetime. The backing sqlite database
// file persists the collection through a companion reflection table that
// Store replays into the module on open (see store.go:reload).
type vecModule struct{}

var (
	vecTablesMu sync.RWMutex
	vecTables   = make(map[string]*vecTable)
)

type vecTable struct {
	name string

	mu        sync.RWMutex
	rows      []vecRow
	nextRowID int64
}

// vecRow is one embedding record: embedding bytes, the caller-assigned
// string ID, the raw content, and a JSON metadata blob.
type vecRow struct {
	rowid     int64
	id        string
	embedding []byte
	content   string
	metadata  string
}

func (m *vecModule) Create(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.connect(ctx, args)
}

func (m *vecModule) Connect(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.connect(ctx, args)
}

func (m *vecModule) connect(ctx vtab.Context, args []string) (vtab.Table, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("vec0: insufficient args")
	}
	name := args[2]
	if err := ctx.Declare("CREATE TABLE x(embedding BLOB, id TEXT, content TEXT, metadata TEXT)"); err != nil {
		return nil, err
	}

	vecTablesMu.Lock()
	defer vecTablesMu.Unlock()
	tbl, ok := vecTables[name]
	if !ok {
		tbl = &vecTable{name: name, nextRowID: 1}
		vecTables[name] = tbl
	}
	return tbl, nil
}

func (t *vecTable) BestIndex(info *vtab.IndexInfo) error {
	info.EstimatedRows = int64(len(t.rows))
	return nil
}

func (t *vecTable) Open() (vtab.Cursor, error) {
	return &vecCursor{tbl: t, idx: -1}, nil
}

func (t *vecTable) Disconnect() error { return nil }
func (t *vecTable) Destroy() error    { return nil }

func (t *vecTable) Insert(cols []vtab.Value, rowid *int64) error {
	if len(cols) < 4 {
		return fmt.Errorf("vec0: insert expects 4 columns")
	}
	emb, err := coerceBlob(cols[0])
	if err != nil {
		return err
	}
	row := vecRow{
		id:       toString(cols[1]),
		content:  toString(cols[2]),
		metadata: toString(cols[3]),
	}
	row.embedding = emb

	t.mu.Lock()
	defer t.mu.Unlock()
	rid := *rowid
	if rid <= 0 {
		rid = t.nextRowID
		t.nextRowID++
	}
	row.rowid = rid
	replaced := false
	for i := range t.rows {
		if t.rows[i].rowid == rid {
			t.rows[i] = row
			replaced = true
			break
		}
	}
	if !replaced {
		t.rows = append(t.rows, row)
	}
	if rid >= t.nextRowID {
		t.nextRowID = rid + 1
	}
	*rowid = rid
	return nil
}

func (t *vecTable) Update(oldRowid int64, cols []vtab.Value, newRowid *int64) error {
	if len(cols) < 4 {
		return fmt.Errorf("vec0: update expects 4 columns")
	}
	emb, err := coerceBlob(cols[0])
	if err != nil {
		return err
	}
	row := vecRow{
		id:       toString(cols[1]),
		content:  toString(cols[2]),
		metadata: toString(cols[3]),
	}
	row.embedding = emb

	t.mu.Lock()
	defer t.mu.Unlock()
	target := oldRowid
	if newRowid != nil && *newRowid > 0 {
		target = *newRowid
	}
	for i := range t.rows {
		if t.rows[i].rowid == oldRowid {
			row.rowid = target
			t.rows[i] = row
			return nil
		}
	}
	row.rowid = target
	t.rows = append(t.rows, row)
	if target >= t.nextRowID {
		t.nextRowID = target + 1
	}
	return nil
}

func (t *vecTable) Delete(oldRowid int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.rows {
		if t.rows[i].rowid == oldRowid {
			t.rows = append(t.rows[:i], t.rows[i+1:]...)
			break
		}
	}
	return nil
}

// snapshot returns a defensive copy of the current rows. Store does not
// call it; it writes the companion durable table directly on upsert.
func (t *vecTable) snapshot() []vecRow {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]vecRow, len(t.rows))
	copy(out, t.rows)
	return out
}

// reset clears the in-memory rows, used by Store when reloading a collection
// from its durable companion table on open.
func (t *vecTable) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = nil
	t.nextRowID = 1
}

type vecCursor struct {
	tbl *vecTable
	idx int
}

func (c *vecCursor) Filter(idxNum int, idxStr string, vals []vtab.Value) error {
	c.idx = -1
	return c.Next()
}

func (c *vecCursor) Next() error {
	c.idx++
	return nil
}

func (c *vecCursor) Eof() bool {
	c.tbl.mu.RLock()
	defer c.tbl.mu.RUnlock()
	return c.idx >= len(c.tbl.rows)
}

func (c *vecCursor) Column(col int) (vtab.Value, error) {
	c.tbl.mu.RLock()
	defer c.tbl.mu.RUnlock()
	if c.idx < 0 || c.idx >= len(c.tbl.rows) {
		return nil, fmt.Errorf("vec0: cursor out of range")
	}
	row := c.tbl.rows[c.idx]
	switch col {
	case 0:
		return row.embedding, nil
	case 1:
		return row.id, nil
	case 2:
		return row.content, nil
	case 3:
		return row.metadata, nil
	default:
		return nil, fmt.Errorf("vec0: invalid column %d", col)
	}
}

func (c *vecCursor) Rowid() (int64, error) {
	c.tbl.mu.RLock()
	defer c.tbl.mu.RUnlock()
	if c.idx < 0 || c.idx >= len(c.tbl.rows) {
		return 0, fmt.Errorf("vec0: cursor out of range")
	}
	return c.tbl.rows[c.idx].rowid, nil
}

func (c *vecCursor) Close() error { return nil }

func vecDistanceCos(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("vector_distance_cos expects 2 arguments")
	}
	a, err := decodeFloat32(args[0])
	if err != nil {
		return nil, err
	}
	b, err := decodeFloat32(args[1])
	if err != nil {
		return nil, err
	}
	if len(a) == 0 || len(b) == 0 {
		return float64(1), nil
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("vector_distance_cos: dimension mismatch %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		af, bf := float64(a[i]), float64(b[i])
		dot += af * bf
		na += af * af
		nb += bf * bf
	}
	if na == 0 || nb == 0 {
		return float64(1), nil
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return float64(1 - cos), nil
}

func decodeFloat32(v driver.Value) ([]float32, error) {
	if v == nil {
		return nil, nil
	}
	switch x := v.(type) {
	case []byte:
		if len(x)%4 != 0 {
			return nil, fmt.Errorf("vector_distance_cos: blob length %d not multiple of 4", len(x))
		}
		out := make([]float32, len(x)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(x[i*4:]))
		}
		return out, nil
	case string:
		return decodeFloat32([]byte(x))
	default:
		return nil, fmt.Errorf("vector_distance_cos: unsupported type %T", v)
	}
}

func coerceBlob(v vtab.Value) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		cp := make([]byte, len(x))
		copy(cp, x)
		return cp, nil
	case string:
		return []byte(x), nil
	default:
		return nil, fmt.Errorf("vec0: unsupported embedding type %T", v)
	}
}

func toString(v vtab.Value) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// encodeFloat32Slice serializes an embedding the same way the scalar
// function and the virtual table expect: little-endian float32, packed.
func encodeFloat32Slice(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
