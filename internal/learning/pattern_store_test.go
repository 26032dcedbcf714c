package learning

import (
	"context"
	"hash/fnv"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder is a tiny deterministic bag-of-words embedder, enough to
// exercise PatternStore's kNN path without depending on graphrag.
type fakeEmbedder struct{ dim int }

func (f fakeEmbedder) Embed(text string) []float32 {
	vec := make([]float32, f.dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[int(h.Sum32())%f.dim] += 1
	}
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1) / sqrtf(norm)
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

func sqrtf(v float32) float32 {
	x := v
	for i := 0; i < 20; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}

func newTestPatternStore(t *testing.T) *PatternStore {
	t.Helper()
	ps := NewPatternStore(filepath.Join(t.TempDir(), "patterns.db"), fakeEmbedder{dim: 32}, defaultSimilarityThreshold)
	t.Cleanup(func() { _ = ps.Close() })
	return ps
}

func TestAddAndFindSimilarViolationPatterns(t *testing.T) {
	ps := newTestPatternStore(t)
	ctx := context.Background()

	v := Violation{Code: "SEC001", Message: "hardcoded secret key detected", Severity: "critical"}
	ps.AddViolationPattern(ctx, v, "go/gin", "", false)

	matches := ps.FindSimilarPatterns(ctx, "hardcoded secret key detected", "go/gin", 5)
	require.Len(t, matches, 1)
	assert.Equal(t, "SEC001", matches[0].Metadata["scan_code"])
}

func TestAddViolationPatternIncrementsRunCountOnRepeat(t *testing.T) {
	ps := newTestPatternStore(t)
	ctx := context.Background()
	v := Violation{Code: "SEC001", Message: "hardcoded secret key detected", Severity: "critical"}

	ps.AddViolationPattern(ctx, v, "go/gin", "", false)
	ps.AddViolationPattern(ctx, v, "go/gin", "", false)

	matches := ps.FindSimilarPatterns(ctx, "hardcoded secret key detected", "go/gin", 5)
	require.Len(t, matches, 1)
	assert.EqualValues(t, 2, asInt(matches[0].Metadata["run_count"]))
}

func TestFindSimilarPatternsFiltersByTechStack(t *testing.T) {
	ps := newTestPatternStore(t)
	ctx := context.Background()
	v := Violation{Code: "SEC001", Message: "hardcoded secret key detected", Severity: "critical"}

	ps.AddViolationPattern(ctx, v, "go/gin", "", false)

	matches := ps.FindSimilarPatterns(ctx, "hardcoded secret key detected", "python/fastapi", 5)
	assert.Empty(t, matches)
}

func TestAddAndFindFixExamples(t *testing.T) {
	ps := newTestPatternStore(t)
	ctx := context.Background()

	ps.AddFixExample(ctx, "-secret := \"x\"\n+secret := os.Getenv(\"X\")", "moved secret to env var", "SEC001", "go/gin")

	examples := ps.FindFixExamples(ctx, "SEC001", "go/gin", 3)
	require.Len(t, examples, 1)
	assert.Contains(t, examples[0].Document, "moved secret to env var")
}

func TestDegradedPatternStoreIsNoOp(t *testing.T) {
	ps := &PatternStore{embed: fakeEmbedder{dim: 8}, similarityThreshold: defaultSimilarityThreshold, available: false}
	ctx := context.Background()

	ps.AddViolationPattern(ctx, Violation{Code: "X", Message: "m"}, "stack", "", false)
	assert.Empty(t, ps.FindSimilarPatterns(ctx, "m", "stack", 5))
	assert.Empty(t, ps.FindFixExamples(ctx, "X", "stack", 5))
	require.NoError(t, ps.Close())
}
