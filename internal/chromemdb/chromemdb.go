package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	"document-qa/internal/models"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
)

var ErrNoCollection = errors.New("collection not found")

// OpenDB returns an in-memory database, or a persistent one when dbPath is set.
func OpenDB(dbPath string, compress bool) (*chromem.DB, error) {
	if dbPath == "" {
		return chromem.NewDB(), nil
	}
	db, err := chromem.NewPersistentDB(dbPath, compress)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	return db, nil
}

// VectorDBManager keeps one collection of chunk embeddings inside a shared chromem DB.
type VectorDBManager struct {
	mu             sync.RWMutex
	db             *chromem.DB
	collection     *chromem.Collection
	collectionName string
	compress       bool
	encryptionKey  string
}

// NewVectorDBManager binds collectionName in db, creating the collection if needed.
func NewVectorDBManager(db *chromem.DB, collectionName string, compress bool, encryptionKey string) (*VectorDBManager, error) {
	m := &VectorDBManager{
		db:             db,
		collectionName: collectionName,
		compress:       compress,
		encryptionKey:  encryptionKey,
	}
	if _, err := m.GetOrCreateCollection(); err != nil {
		return nil, err
	}
	return m, nil
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection() (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(m.collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.mu.Lock()
	m.collection = c
	m.mu.Unlock()
	return c, nil
}

func (m *VectorDBManager) current() (*chromem.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.collection == nil {
		return nil, ErrNoCollection
	}
	return m.collection, nil
}

// Reset drops every document so the next Add starts from an empty index.
func (m *VectorDBManager) Reset(ctx context.Context) error {
	if err := m.DeleteCollection(); err != nil {
		return err
	}
	_, err := m.GetOrCreateCollection()
	return err
}

// Add stores chunk embeddings. The chunk's original content is stored, the
// embedded context (if any) goes to metadata.
func (m *VectorDBManager) Add(ctx context.Context, chunks []models.ChunkEmbedding) error {
	if len(chunks) == 0 {
		return nil
	}
	c, err := m.current()
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(chunks))
	for i, ce := range chunks {
		docs[i] = chromem.Document{
			ID:        "chunk-" + strconv.Itoa(ce.ChunkID),
			Content:   ce.Content,
			Metadata:  CreateMetadata(ce),
			Embedding: ce.Embedding,
		}
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	log.Debug().Str("collection", m.collectionName).Int("docs", len(docs)).Msg("Added documents")
	return nil
}

// CreateMetadata builds the chromem metadata stored alongside a chunk.
func CreateMetadata(ce models.ChunkEmbedding) map[string]string {
	md := map[string]string{
		"chunk_id": strconv.Itoa(ce.ChunkID),
		"offset":   strconv.Itoa(ce.Offset),
	}
	if ce.EmbeddedContent != "" && ce.EmbeddedContent != ce.Content {
		md["embedded_content"] = ce.EmbeddedContent
	}
	return md
}

// Search returns up to k chunks ordered by cosine similarity to query.
func (m *VectorDBManager) Search(ctx context.Context, query []float32, k int) ([]models.Source, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("query embedding must be provided")
	}
	c, err := m.current()
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults above the document count
	n := min(k, c.Count())
	if n <= 0 {
		return nil, nil
	}
	results, err := m.SearchWithQueryOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: query,
		NResults:       n,
	})
	if err != nil {
		return nil, err
	}

	sources := make([]models.Source, len(results))
	for i, r := range results {
		id, _ := strconv.Atoi(r.Metadata["chunk_id"])
		sources[i] = models.Source{ChunkID: id, Content: r.Content, Score: r.Similarity}
	}
	return sources, nil
}

// SearchWithQueryOptions performs a similarity search with raw chromem options.
func (m *VectorDBManager) SearchWithQueryOptions(ctx context.Context, opts chromem.QueryOptions) ([]chromem.Result, error) {
	// exit if query or embedding is not provided
	if opts.QueryText == "" && opts.QueryEmbedding == nil {
		return nil, fmt.Errorf("either query or embedding must be provided")
	}
	c, err := m.current()
	if err != nil {
		return nil, err
	}
	results, err := c.QueryWithOptions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	return results, nil
}

// Count returns the number of stored chunks.
func (m *VectorDBManager) Count() int {
	c, err := m.current()
	if err != nil {
		return 0
	}
	return c.Count()
}

// delete collection
func (m *VectorDBManager) DeleteCollection() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.db.DeleteCollection(m.collectionName); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	m.collection = nil
	return nil
}

// Close drops the collection; the shared DB stays open.
func (m *VectorDBManager) Close(ctx context.Context) error {
	return m.DeleteCollection()
}

// export to file
func (m *VectorDBManager) Export(ctx context.Context, filePath string) error {
	if filePath == "" {
		return fmt.Errorf("file path is required")
	}
	if _, err := m.current(); err != nil {
		return err
	}

	log.Debug().Str("collection", m.collectionName).Str("file", filePath).Bool("compress", m.compress).Bool("encrypted", m.encryptionKey != "").Msg("Exporting collection")
	err := m.db.ExportToFile(filePath, m.compress, m.encryptionKey, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// import from file
func (m *VectorDBManager) Import(ctx context.Context, filePath string) error {
	if err := m.db.ImportFromFile(filePath, m.encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	c := m.db.GetCollection(m.collectionName, nil)
	if c == nil {
		return fmt.Errorf("%w: %s in %s", ErrNoCollection, m.collectionName, filePath)
	}
	m.mu.Lock()
	m.collection = c
	m.mu.Unlock()
	return nil
}

// ExportFileName returns the conventional export name for the given options.
func ExportFileName(base string, compress, encrypted bool) string {
	name := base + ".gob"
	if compress {
		name += ".gz"
	}
	if encrypted {
		name += ".enc"
	}
	return name
}
