package semantic_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/conductor/internal/semantic"
)

type fakeDriver struct {
	vectors map[string][]float64
}

func (f *fakeDriver) Kind() string    { return "fake" }
func (f *fakeDriver) Dimensions() int { return 3 }
func (f *fakeDriver) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = f.vectors[t]
	}
	return out, nil
}

func TestDisabledIndexNeverFindsAnything(t *testing.T) {
	idx := semantic.New(nil, nil)
	assert.False(t, idx.Enabled())
	got := idx.FindNearDuplicates(context.Background(), "ws1", "some content", 0)
	assert.Nil(t, got)
}

func TestEmbeddedStoreUpsertAndSearchRoundTrip(t *testing.T) {
	store := semantic.NewEmbeddedStore()
	err := store.Upsert(context.Background(), []semantic.VectorDoc{
		{ID: "a1", Workstream: "ws1", ArtifactID: "a1", Vector: []float64{1, 0, 0}},
		{ID: "a2", Workstream: "ws1", ArtifactID: "a2", Vector: []float64{0, 1, 0}},
	})
	require.NoError(t, err)

	results, err := store.Search(context.Background(), "ws1", []float64{1, 0, 0}, 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a1", results[0].Doc.ArtifactID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestSearchOnlyReturnsMatchingWorkstream(t *testing.T) {
	store := semantic.NewEmbeddedStore()
	require.NoError(t, store.Upsert(context.Background(), []semantic.VectorDoc{
		{ID: "a1", Workstream: "ws1", Vector: []float64{1, 0, 0}},
		{ID: "a2", Workstream: "ws2", Vector: []float64{1, 0, 0}},
	}))

	results, err := store.Search(context.Background(), "ws1", []float64{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestFindNearDuplicatesUsesConfiguredThreshold(t *testing.T) {
	store := semantic.NewEmbeddedStore()
	require.NoError(t, store.Upsert(context.Background(), []semantic.VectorDoc{
		{ID: "a1", Workstream: "ws1", ArtifactID: "a1", Vector: []float64{1, 0, 0}},
	}))
	driver := &fakeDriver{vectors: map[string][]float64{"query": {1, 0, 0}}}
	idx := semantic.New(driver, store)

	assert.True(t, idx.Enabled())
	dupes := idx.FindNearDuplicates(context.Background(), "ws1", "query", 0.99)
	assert.Contains(t, dupes, "a1")

	noDupes := idx.FindNearDuplicates(context.Background(), "ws2", "query", 0.99)
	assert.Empty(t, noDupes)
}
