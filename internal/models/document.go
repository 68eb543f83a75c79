package models

import "time"

// Document is the extracted text of one upload.
type Document struct {
	Filename string `json:"filename"`
	Format   string `json:"format"`
	Text     string `json:"-"`
	Pages    int    `json:"pages"`
	IsCSV    bool   `json:"is_csv"`
}

// Chunk is one window of a document's text.
type Chunk struct {
	ChunkID int    `json:"chunk_id"`
	Content string `json:"content"`
	Offset  int    `json:"offset"`
}

// ChunkEmbedding pairs a chunk with its vector. Content may carry a prepended
// context when contextual chunks are enabled; Chunk.Content never does.
type ChunkEmbedding struct {
	Chunk
	EmbeddedContent string
	Embedding       []float32
}

// Source is a retrieved chunk with its similarity to the question.
type Source struct {
	ChunkID int     `json:"chunk_id" msgpack:"chunk_id"`
	Content string  `json:"content" msgpack:"content"`
	Score   float32 `json:"score" msgpack:"score"`
}

type PromptResponse struct {
	Query   string   `json:"question"`
	Content string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// ChatMessage is one (speaker, message) turn of a session's history.
type ChatMessage struct {
	Speaker string    `json:"speaker" msgpack:"speaker"`
	Message string    `json:"message" msgpack:"message"`
	Sources []Source  `json:"sources,omitempty" msgpack:"sources,omitempty"`
	At      time.Time `json:"at" msgpack:"at"`
}

// DocumentInfo summarises an indexed upload.
type DocumentInfo struct {
	Document
	Characters int       `json:"characters"`
	Chunks     int       `json:"chunks"`
	IndexedAt  time.Time `json:"indexed_at"`
}
