package vectorstore

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vectors.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertAndQueryNodesReturnsClosestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	records := []Record{
		{ID: "a", Embedding: []float32{1, 0, 0}, Content: "alpha", Metadata: map[string]interface{}{"kind": "service"}},
		{ID: "b", Embedding: []float32{0, 1, 0}, Content: "beta", Metadata: map[string]interface{}{"kind": "service"}},
		{ID: "c", Embedding: []float32{0.9, 0.1, 0}, Content: "gamma", Metadata: map[string]interface{}{"kind": "contract"}},
	}
	require.NoError(t, s.UpsertNodes(ctx, records))

	matches, err := s.QueryNodes(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "a", matches[0].ID)
	require.Equal(t, "c", matches[1].ID)
}

func TestQueryNodesAppliesMetadataFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	records := []Record{
		{ID: "a", Embedding: []float32{1, 0}, Content: "alpha", Metadata: map[string]interface{}{"kind": "service"}},
		{ID: "b", Embedding: []float32{0.99, 0.01}, Content: "beta", Metadata: map[string]interface{}{"kind": "contract"}},
	}
	require.NoError(t, s.UpsertNodes(ctx, records))

	matches, err := s.QueryNodes(ctx, []float32{1, 0}, 5, Filter{Key: "kind", Value: "contract"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "b", matches[0].ID)
}

func TestUpsertIsIdempotentByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNodes(ctx, []Record{{ID: "a", Embedding: []float32{1, 0}, Content: "v1"}}))
	require.NoError(t, s.UpsertNodes(ctx, []Record{{ID: "a", Embedding: []float32{1, 0}, Content: "v2"}}))

	n, err := s.NodeCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rec, err := s.NodeByID(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "v2", rec.Content)
}

func TestUpsertBatchesAboveBatchSize(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	records := make([]Record, batchSize+50)
	for i := range records {
		records[i] = Record{
			ID:        "node-" + strconv.Itoa(i),
			Embedding: []float32{float32(i), 1},
		}
	}
	require.NoError(t, s.UpsertNodes(ctx, records))

	n, err := s.NodeCount(ctx)
	require.NoError(t, err)
	require.Equal(t, len(records), n)
}

func TestDeleteAllNodesClearsCollection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNodes(ctx, []Record{{ID: "a", Embedding: []float32{1}}}))
	require.NoError(t, s.DeleteAllNodes(ctx))

	n, err := s.NodeCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestReopenReplaysDurableRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.db")
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.UpsertContexts(ctx, []Record{{ID: "ctx-1", Embedding: []float32{1, 2, 3}, Content: "hello"}}))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	matches, err := s2.QueryContexts(ctx, []float32{1, 2, 3}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "ctx-1", matches[0].ID)
}
