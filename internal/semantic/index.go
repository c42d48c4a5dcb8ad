package semantic

import (
	"context"

	"github.com/rs/zerolog/log"
)

// NearDuplicateThreshold is the default cosine-similarity score at or
// above which FindNearDuplicates reports a match.
const NearDuplicateThreshold = 0.92

// Index wires an embedding driver to a vector store. When driver is
// nil (no API key or Ollama URL configured), every method is a no-op
// and FindNearDuplicates always returns no matches — callers fall back
// to exact-name duplication matching, exactly as spec.md describes with
// zero semantic features (§9 design note).
type Index struct {
	driver EmbeddingDriver
	store  VectorStore
}

// New creates an index. driver may be nil to disable semantic features
// entirely; store defaults to an embedded in-memory store if nil and
// driver is non-nil.
func New(driver EmbeddingDriver, store VectorStore) *Index {
	if driver != nil && store == nil {
		store = NewEmbeddedStore()
	}
	return &Index{driver: driver, store: store}
}

// Enabled reports whether an embedding driver is configured.
func (idx *Index) Enabled() bool { return idx.driver != nil }

// UpsertArtifact asynchronously embeds content and upserts it into the
// vector store. Best-effort: embedding/store failures are logged, never
// returned, so this never blocks or fails the caller's synchronous
// upsertArtifact contract (§4.13, §9).
func (idx *Index) UpsertArtifact(ctx context.Context, workstream, artifactID, content string) {
	if idx == nil || idx.driver == nil || content == "" {
		return
	}
	go func() {
		vectors, err := idx.driver.Embed(ctx, []string{content})
		if err != nil || len(vectors) == 0 {
			log.Warn().Err(err).Str("artifactId", artifactID).Msg("semantic: embedding failed, skipping index")
			return
		}
		doc := VectorDoc{ID: artifactID, Workstream: workstream, ArtifactID: artifactID, Content: content, Vector: vectors[0]}
		if err := idx.store.Upsert(ctx, []VectorDoc{doc}); err != nil {
			log.Warn().Err(err).Str("artifactId", artifactID).Msg("semantic: vector store upsert failed")
		}
	}()
}

// FindNearDuplicates returns artifact ids whose stored vector is within
// threshold cosine similarity of content's embedding (threshold <= 0
// uses NearDuplicateThreshold). No coherence-issue detector calls it.
func (idx *Index) FindNearDuplicates(ctx context.Context, workstream, content string, threshold float64) []string {
	if idx == nil || idx.driver == nil || content == "" {
		return nil
	}
	if threshold <= 0 {
		threshold = NearDuplicateThreshold
	}
	vectors, err := idx.driver.Embed(ctx, []string{content})
	if err != nil || len(vectors) == 0 {
		log.Warn().Err(err).Msg("semantic: embedding failed during duplicate search")
		return nil
	}
	results, err := idx.store.Search(ctx, workstream, vectors[0], 5)
	if err != nil {
		log.Warn().Err(err).Msg("semantic: search failed during duplicate search")
		return nil
	}
	var ids []string
	for _, r := range results {
		if r.Score >= threshold {
			ids = append(ids, r.Doc.ArtifactID)
		}
	}
	return ids
}
