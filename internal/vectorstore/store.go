package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	_ "modernc.org/sqlite"
)

// batchSize mirrors graph_rag_store.py's _BATCH_SIZE: writes are chunked so a
// single upsert call never holds one oversized transaction.
const batchSize = 300

// Record is one embedded item: a caller-assigned ID, its dense embedding,
// the text it was derived from, and arbitrary metadata used for post-query
// filtering (mirroring ChromaDB's where-clause, which sqlite-vec has no
// native equivalent for).
type Record struct {
	ID        string
	Embedding []float32
	Content   string
	Metadata  map[string]interface{}
}

// Match is a query result: the matched record plus its similarity score
// (1 minus cosine distance) in [-1, 1], 1 being identical direction.
type Match struct {
	Record
	Score float64
}

// Store holds the two GraphRAG collections ("nodes" and "contexts") that
// graph_rag_store.py's GraphRAGStore keeps in ChromaDB. Unlike ChromaDB,
// persistence across process restarts goes through a companion SQL table
// per collection (vec0 itself is in-memory only, see vtab.go) that gets
// replayed into the virtual table on Open.
type Store struct {
	db *sql.DB
}

// Open creates (or reopens) a vector store backed by the sqlite database at
// path. The two GraphRAG collections are created if absent and reloaded from
// their durable companions.
func Open(path string) (*Store, error) {
	return OpenCollections(path, "nodes", "contexts")
}

// OpenCollections creates (or reopens) a vector store backed by the sqlite
// database at path, with the given named collections created if absent and
// reloaded from their durable companions. Callers outside this package that
// need collections beyond GraphRAG's "nodes"/"contexts" pair (the
// cross-run pattern memory in internal/learning, for instance) use this
// directly and address their collections through Upsert/Query/Count/DeleteAll.
func OpenCollections(path string, collections ...string) (*Store, error) {
	registerVecModule()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open vectorstore: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	for _, collection := range collections {
		if err := s.initCollection(collection); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initCollection(name string) error {
	dataTable := name + "_data"
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding BLOB,
			content TEXT,
			metadata TEXT
		)`, dataTable),
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0()`, name),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init collection %s: %w", name, err)
		}
	}
	return s.reload(name)
}

// reload clears the in-memory vec0 table (which does not survive process
// restarts) and replays it from the durable companion table.
func (s *Store) reload(name string) error {
	vecTablesMu.RLock()
	tbl := vecTables[name]
	vecTablesMu.RUnlock()
	if tbl != nil {
		tbl.reset()
	}

	rows, err := s.db.Query(fmt.Sprintf("SELECT id, embedding, content, metadata FROM %s_data", name))
	if err != nil {
		return fmt.Errorf("reload collection %s: %w", name, err)
	}
	defer rows.Close()

	var ids, contents, metas []string
	var embeddings [][]byte
	for rows.Next() {
		var id, content, meta string
		var emb []byte
		if err := rows.Scan(&id, &emb, &content, &meta); err != nil {
			return fmt.Errorf("reload collection %s: %w", name, err)
		}
		ids = append(ids, id)
		embeddings = append(embeddings, emb)
		contents = append(contents, content)
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range ids {
		if _, err := s.db.Exec(fmt.Sprintf("INSERT INTO %s (embedding, id, content, metadata) VALUES (?, ?, ?, ?)", name),
			embeddings[i], ids[i], contents[i], metas[i]); err != nil {
			return fmt.Errorf("reload collection %s row %s: %w", name, ids[i], err)
		}
	}
	return nil
}

// UpsertNodes writes node embeddings in batches of batchSize, matching
// graph_rag_store.py's upsert_nodes chunking.
func (s *Store) UpsertNodes(ctx context.Context, records []Record) error {
	return s.upsert(ctx, "nodes", records)
}

// UpsertContexts writes context-window embeddings in batches of batchSize,
// matching graph_rag_store.py's upsert_contexts chunking.
func (s *Store) UpsertContexts(ctx context.Context, records []Record) error {
	return s.upsert(ctx, "contexts", records)
}

// Upsert writes records to an arbitrary named collection in batches of
// batchSize. Collection must already exist (see OpenCollections).
func (s *Store) Upsert(ctx context.Context, collection string, records []Record) error {
	return s.upsert(ctx, collection, records)
}

func (s *Store) upsert(ctx context.Context, collection string, records []Record) error {
	dataTable := collection + "_data"
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := s.upsertBatch(ctx, collection, dataTable, records[start:end]); err != nil {
			return fmt.Errorf("upsert %s batch [%d:%d]: %w", collection, start, end, err)
		}
	}
	return nil
}

func (s *Store) upsertBatch(ctx context.Context, collection, dataTable string, batch []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	upsertData, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (id, embedding, content, metadata) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT(id) DO UPDATE SET embedding=excluded.embedding, content=excluded.content, metadata=excluded.metadata",
		dataTable))
	if err != nil {
		return err
	}
	defer upsertData.Close()

	deleteVec, err := tx.PrepareContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", collection))
	if err != nil {
		return err
	}
	defer deleteVec.Close()

	insertVec, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (embedding, id, content, metadata) VALUES (?, ?, ?, ?)", collection))
	if err != nil {
		return err
	}
	defer insertVec.Close()

	for _, rec := range batch {
		metaJSON, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", rec.ID, err)
		}
		blob := encodeFloat32Slice(rec.Embedding)

		if _, err := upsertData.ExecContext(ctx, rec.ID, blob, rec.Content, string(metaJSON)); err != nil {
			return err
		}
		if _, err := deleteVec.ExecContext(ctx, rec.ID); err != nil {
			return err
		}
		if _, err := insertVec.ExecContext(ctx, blob, rec.ID, rec.Content, string(metaJSON)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Filter narrows a query to records whose metadata has Key set to Value
// (compared via fmt.Sprintf("%v", ...), mirroring the loose equality the
// Python store used on JSON-decoded metadata dicts).
type Filter struct {
	Key   string
	Value interface{}
}

// QueryNodes returns the k nearest node records to query by cosine distance,
// emulating graph_rag_store.py's query_nodes fallback-retry-without-where
// shape: the metadata filter is applied to the full candidate set in Go
// rather than pushed into SQL, since vec0 has no native where-support here.
func (s *Store) QueryNodes(ctx context.Context, query []float32, k int, filters ...Filter) ([]Match, error) {
	return s.query(ctx, "nodes", query, k, filters)
}

// QueryContexts returns the k nearest context records to query by cosine
// distance, with the same filter semantics as QueryNodes.
func (s *Store) QueryContexts(ctx context.Context, query []float32, k int, filters ...Filter) ([]Match, error) {
	return s.query(ctx, "contexts", query, k, filters)
}

// Query returns the k nearest records in an arbitrary named collection by
// cosine distance, with the same metadata-filter semantics as QueryNodes.
func (s *Store) Query(ctx context.Context, collection string, query []float32, k int, filters ...Filter) ([]Match, error) {
	return s.query(ctx, collection, query, k, filters)
}

func (s *Store) query(ctx context.Context, collection string, query []float32, k int, filters []Filter) ([]Match, error) {
	if k <= 0 {
		k = 10
	}
	blob := encodeFloat32Slice(query)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT id, embedding, content, metadata, vector_distance_cos(embedding, ?) AS dist FROM %s", collection),
		blob)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var id, content, metaJSON string
		var emb []byte
		var dist float64
		if err := rows.Scan(&id, &emb, &content, &metaJSON, &dist); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", collection, err)
		}
		var meta map[string]interface{}
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
				meta = nil
			}
		}
		if !matchesFilters(meta, filters) {
			continue
		}
		embFloats, err := decodeEmbedding(emb)
		if err != nil {
			return nil, err
		}
		matches = append(matches, Match{
			Record: Record{ID: id, Embedding: embFloats, Content: content, Metadata: meta},
			Score:  1 - dist,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func matchesFilters(meta map[string]interface{}, filters []Filter) bool {
	for _, f := range filters {
		v, ok := meta[f.Key]
		if !ok || fmt.Sprintf("%v", v) != fmt.Sprintf("%v", f.Value) {
			return false
		}
	}
	return true
}

func decodeEmbedding(blob []byte) ([]float32, error) {
	floats, err := decodeFloat32(blob)
	if err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	return floats, nil
}

// NodeByID fetches a single node record's durable row directly, bypassing
// the kNN path, for callers that already know the ID.
func (s *Store) NodeByID(ctx context.Context, id string) (*Record, error) {
	return s.byID(ctx, "nodes_data", id)
}

// ContextByID fetches a single context record's durable row directly.
func (s *Store) ContextByID(ctx context.Context, id string) (*Record, error) {
	return s.byID(ctx, "contexts_data", id)
}

// ByID fetches a single record's durable row directly from an arbitrary
// named collection, bypassing the kNN path.
func (s *Store) ByID(ctx context.Context, collection, id string) (*Record, error) {
	return s.byID(ctx, collection+"_data", id)
}

func (s *Store) byID(ctx context.Context, dataTable, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT id, embedding, content, metadata FROM %s WHERE id = ?", dataTable), id)
	var rid, content, metaJSON string
	var emb []byte
	if err := row.Scan(&rid, &emb, &content, &metaJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	var meta map[string]interface{}
	if metaJSON != "" {
		_ = json.Unmarshal([]byte(metaJSON), &meta)
	}
	embFloats, err := decodeEmbedding(emb)
	if err != nil {
		return nil, err
	}
	return &Record{ID: rid, Embedding: embFloats, Content: content, Metadata: meta}, nil
}

// NodeCount and ContextCount mirror graph_rag_store.py's node_count /
// context_count, returning the number of persisted rows per collection.
func (s *Store) NodeCount(ctx context.Context) (int, error) {
	return s.count(ctx, "nodes_data")
}

func (s *Store) ContextCount(ctx context.Context) (int, error) {
	return s.count(ctx, "contexts_data")
}

// Count returns the number of durable rows in an arbitrary named collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	return s.count(ctx, collection+"_data")
}

func (s *Store) count(ctx context.Context, dataTable string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", dataTable)).Scan(&n)
	return n, err
}

// DeleteAllNodes and DeleteAllContexts clear a collection, used before a
// full GraphRAG index rebuild.
func (s *Store) DeleteAllNodes(ctx context.Context) error {
	return s.deleteAll(ctx, "nodes")
}

func (s *Store) DeleteAllContexts(ctx context.Context) error {
	return s.deleteAll(ctx, "contexts")
}

// DeleteAll clears an arbitrary named collection.
func (s *Store) DeleteAll(ctx context.Context, collection string) error {
	return s.deleteAll(ctx, collection)
}

func (s *Store) deleteAll(ctx context.Context, collection string) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s_data", collection)); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", collection)); err != nil {
		return err
	}
	return nil
}
