package chromemdb

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"document-qa/internal/models"
	"document-qa/internal/testutil"

	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var texts = []string{
	"The invoice total is due within thirty days of delivery.",
	"Our office cat sleeps on the warm server rack every afternoon.",
	"Refunds are issued to the original payment method.",
}

func embedded(texts []string) []models.ChunkEmbedding {
	out := make([]models.ChunkEmbedding, len(texts))
	for i, t := range texts {
		out[i] = models.ChunkEmbedding{
			Chunk:     models.Chunk{ChunkID: i + 1, Content: t, Offset: i * 100},
			Embedding: testutil.HashVector(t),
		}
	}
	return out
}

func newManager(t *testing.T, key string) *VectorDBManager {
	t.Helper()
	m, err := NewVectorDBManager(chromem.NewDB(), "session-a", false, key)
	require.NoError(t, err)
	return m
}

func TestSearchRanksBestMatchFirst(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, "")
	require.NoError(t, m.Add(ctx, embedded(texts)))
	assert.Equal(t, 3, m.Count())

	got, err := m.Search(ctx, testutil.HashVector("office cat sleeps on the server rack"), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, 2, got[0].ChunkID)
	assert.Equal(t, texts[1], got[0].Content)
	assert.GreaterOrEqual(t, got[0].Score, got[1].Score)
}

func TestSearchClampsK(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, "")

	got, err := m.Search(ctx, testutil.HashVector("anything"), 4)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, m.Add(ctx, embedded(texts[:2])))
	got, err = m.Search(ctx, testutil.HashVector("refund"), 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = m.Search(ctx, nil, 3)
	assert.Error(t, err)
}

func TestResetReplacesContents(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, "")
	require.NoError(t, m.Add(ctx, embedded(texts)))

	require.NoError(t, m.Reset(ctx))
	assert.Equal(t, 0, m.Count())

	require.NoError(t, m.Add(ctx, embedded([]string{"fresh content about rockets"})))
	got, err := m.Search(ctx, testutil.HashVector("invoice total"), 4)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fresh content about rockets", got[0].Content)
}

func TestCreateMetadata(t *testing.T) {
	ce := models.ChunkEmbedding{
		Chunk:           models.Chunk{ChunkID: 7, Content: "body", Offset: 42},
		EmbeddedContent: "ctx" + models.ContextSeparator + "body",
	}
	md := CreateMetadata(ce)
	assert.Equal(t, "7", md["chunk_id"])
	assert.Equal(t, "42", md["offset"])
	assert.Equal(t, ce.EmbeddedContent, md["embedded_content"])

	ce.EmbeddedContent = "body"
	assert.NotContains(t, CreateMetadata(ce), "embedded_content")
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	key := "0123456789abcdef0123456789abcdef"
	src := newManager(t, key)
	require.NoError(t, src.Add(ctx, embedded(texts)))

	path := filepath.Join(t.TempDir(), ExportFileName("index", false, true))
	require.NoError(t, src.Export(ctx, path))

	dst := newManager(t, key)
	require.NoError(t, dst.Import(ctx, path))
	assert.Equal(t, 3, dst.Count())

	got, err := dst.Search(ctx, testutil.HashVector("refunds payment method"), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].ChunkID)

	wrong := newManager(t, "ffffffffffffffffffffffffffffffff")
	assert.Error(t, wrong.Import(ctx, path))
}

func TestExportFileName(t *testing.T) {
	assert.Equal(t, "idx.gob", ExportFileName("idx", false, false))
	assert.Equal(t, "idx.gob.gz.enc", ExportFileName("idx", true, true))
}

func TestExportKeepsUnderlyingError(t *testing.T) {
	m, err := NewVectorDBManager(chromem.NewDB(), "wrapped", false, "")
	require.NoError(t, err)

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	err = m.Export(context.Background(), filepath.Join(blocker, "sub", "index.gob"))
	require.Error(t, err)
	var pathErr *fs.PathError
	assert.True(t, errors.As(err, &pathErr), err.Error())
}
