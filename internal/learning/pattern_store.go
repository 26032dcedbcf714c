package learning

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"forge/internal/logging"
	"forge/internal/vectorstore"
)

// similarityThreshold default mirrors pattern_store.py's _SIMILARITY_THRESHOLD:
// cosine distance in [0, 2], 0 identical; below this counts as "same pattern".
const defaultSimilarityThreshold = 0.3

// PatternStore is semantic storage for violation patterns and fix examples,
// backed by the same vec0 shim vectorstore.Store uses for GraphRAG, standing
// in for the original's ChromaDB PersistentClient. Like the original, it
// degrades silently: if the backing store fails to open, every method
// becomes a no-op rather than propagating the failure into the pipeline.
type PatternStore struct {
	store               *vectorstore.Store
	embed               Embedder
	similarityThreshold float64
	available           bool
}

// NewPatternStore opens (or creates) the pattern database at dbPath. On
// failure it returns a PatternStore in degraded mode rather than an error,
// matching pattern_store.py's __init__ catching every exception.
func NewPatternStore(dbPath string, embed Embedder, similarityThreshold float64) *PatternStore {
	if similarityThreshold <= 0 {
		similarityThreshold = defaultSimilarityThreshold
	}
	store, err := vectorstore.OpenCollections(dbPath, "violation_patterns", "fix_examples")
	if err != nil {
		logging.Get(logging.CategoryLearning).Warn("PatternStore init failed (degraded mode): %v", err)
		return &PatternStore{embed: embed, similarityThreshold: similarityThreshold, available: false}
	}
	return &PatternStore{store: store, embed: embed, similarityThreshold: similarityThreshold, available: true}
}

func (p *PatternStore) warn(op string, err error) {
	logging.Get(logging.CategoryLearning).Warn("PatternStore.%s failed: %v", op, err)
}

func hashID(prefix, content string) string {
	sum := md5.Sum([]byte(content))
	return fmt.Sprintf("%s::%s", prefix, hex.EncodeToString(sum[:]))
}

// AddViolationPattern stores or updates a violation pattern. The ID is
// derived from {code}::{md5(message)} so repeat observations upsert into
// the same row and increment run_count in its metadata.
func (p *PatternStore) AddViolationPattern(ctx context.Context, v Violation, techStack, codeContext string, wasFixed bool) {
	if !p.available {
		return
	}
	doc := v.Message
	if codeContext != "" {
		doc = fmt.Sprintf("%s | %s", v.Message, codeContext)
	}
	patternID := hashID(v.Code, v.Message)

	runCount := 1
	if existing, err := p.store.ByID(ctx, "violation_patterns", patternID); err == nil && existing != nil {
		if rc, ok := existing.Metadata["run_count"]; ok {
			runCount = asInt(rc) + 1
		}
	}

	wasFixedInt := 0
	if wasFixed {
		wasFixedInt = 1
	}
	err := p.store.Upsert(ctx, "violation_patterns", []vectorstore.Record{{
		ID:        patternID,
		Embedding: p.embed.Embed(doc),
		Content:   doc,
		Metadata: map[string]interface{}{
			"scan_code": v.Code,
			"severity":  v.Severity,
			"tech_stack": techStack,
			"was_fixed":  wasFixedInt,
			"run_count":  runCount,
		},
	}})
	if err != nil {
		p.warn("add_violation_pattern", err)
	}
}

// FindSimilarPatterns returns violation patterns semantically similar to
// message, filtered to techStack and to matches within the similarity
// threshold. Returns nil in degraded mode or on failure.
func (p *PatternStore) FindSimilarPatterns(ctx context.Context, message, techStack string, limit int) []PatternMatch {
	if !p.available {
		return nil
	}
	matches, err := p.store.Query(ctx, "violation_patterns", p.embed.Embed(message), limit,
		vectorstore.Filter{Key: "tech_stack", Value: techStack})
	if err != nil {
		p.warn("find_similar_patterns", err)
		return nil
	}

	var out []PatternMatch
	for _, m := range matches {
		distance := 1 - m.Score
		if distance <= p.similarityThreshold {
			out = append(out, PatternMatch{ID: m.ID, Document: m.Content, Metadata: m.Metadata, Distance: distance})
		}
	}
	return out
}

// AddFixExample stores a fix example (diff + description) for a scan code.
func (p *PatternStore) AddFixExample(ctx context.Context, diff, description, scanCode, techStack string) {
	if !p.available {
		return
	}
	doc := fmt.Sprintf("%s\n%s", diff, description)
	fixID := hashID(scanCode, doc)
	err := p.store.Upsert(ctx, "fix_examples", []vectorstore.Record{{
		ID:        fixID,
		Embedding: p.embed.Embed(doc),
		Content:   doc,
		Metadata: map[string]interface{}{
			"scan_code":  scanCode,
			"tech_stack": techStack,
			"success":    1,
		},
	}})
	if err != nil {
		p.warn("add_fix_example", err)
	}
}

// FindFixExamples returns fix examples for a scan code and tech stack,
// unfiltered by distance (the original applies no threshold here, only an
// AND filter on scan_code/tech_stack).
func (p *PatternStore) FindFixExamples(ctx context.Context, scanCode, techStack string, limit int) []PatternMatch {
	if !p.available {
		return nil
	}
	matches, err := p.store.Query(ctx, "fix_examples", p.embed.Embed(fmt.Sprintf("Fix for %s", scanCode)), limit,
		vectorstore.Filter{Key: "scan_code", Value: scanCode},
		vectorstore.Filter{Key: "tech_stack", Value: techStack})
	if err != nil {
		p.warn("find_fix_examples", err)
		return nil
	}

	out := make([]PatternMatch, 0, len(matches))
	for _, m := range matches {
		out = append(out, PatternMatch{ID: m.ID, Document: m.Content, Metadata: m.Metadata, Distance: 1 - m.Score})
	}
	return out
}

// Close closes the backing store, a no-op in degraded mode.
func (p *PatternStore) Close() error {
	if !p.available {
		return nil
	}
	return p.store.Close()
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
