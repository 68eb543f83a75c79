// Package session keeps per-user document state: the uploaded document, its
// chunks, the index built from them and the chat history.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"document-qa/internal/config"
	"document-qa/internal/helper"
	"document-qa/internal/models"
	"document-qa/internal/parser"
	"document-qa/internal/rag"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNoDocument      = errors.New("no document uploaded")
)

// IndexFactory creates the similarity index owned by one session.
type IndexFactory func(ctx context.Context, sessionID string) (rag.Index, error)

type Session struct {
	ID        string
	CreatedAt time.Time

	lastActive atomic.Int64

	// mu serialises uploads, questions and close; it is held across model calls
	mu     sync.Mutex
	rag    *rag.RAG
	closed bool

	// state guards the summary fields and is only held briefly
	state    sync.RWMutex
	document *models.DocumentInfo
	chunks   []models.Chunk
	history  []models.ChatMessage
}

func (s *Session) touch(now time.Time) { s.lastActive.Store(now.UnixNano()) }

func (s *Session) LastActive() time.Time { return time.Unix(0, s.lastActive.Load()) }

// Info is a point in time summary of a session.
type Info struct {
	ID            string               `json:"id"`
	CreatedAt     time.Time            `json:"created_at"`
	LastActive    time.Time            `json:"last_active"`
	Document      *models.DocumentInfo `json:"document,omitempty"`
	Chunks        int                  `json:"chunks"`
	HistoryLength int                  `json:"history_length"`
}

type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	embedder    embeddings.Embedder
	llm         llms.Model
	newIndex    IndexFactory
	ragConfig   config.RAGConfig
	timeout     time.Duration
	maxSessions int

	now func() time.Time
}

func NewManager(embedder embeddings.Embedder, llm llms.Model, newIndex IndexFactory, ragConfig config.RAGConfig, serverConfig config.ServerConfig) *Manager {
	return &Manager{
		sessions:    make(map[string]*Session),
		embedder:    embedder,
		llm:         llm,
		newIndex:    newIndex,
		ragConfig:   ragConfig,
		timeout:     time.Duration(serverConfig.SessionTimeoutMinutes) * time.Minute,
		maxSessions: serverConfig.MaxSessions,
		now:         time.Now,
	}
}

// Create starts an empty session, evicting the least recently used one when
// the manager is full.
func (m *Manager) Create(ctx context.Context) (*Info, error) {
	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	now := m.now()
	s := &Session{ID: id, CreatedAt: now}
	s.touch(now)

	var evicted []*Session
	m.mu.Lock()
	for m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		oldest := m.oldestLocked()
		delete(m.sessions, oldest.ID)
		evicted = append(evicted, oldest)
	}
	m.sessions[id] = s
	m.mu.Unlock()

	for _, old := range evicted {
		log.Info().Str("session", old.ID).Msg("Evicted session, limit reached")
		m.closeSession(ctx, old)
	}
	log.Debug().Str("session", id).Msg("Created session")
	return m.info(s), nil
}

func (m *Manager) oldestLocked() *Session {
	var oldest *Session
	for _, s := range m.sessions {
		if oldest == nil || s.lastActive.Load() < oldest.lastActive.Load() {
			oldest = s
		}
	}
	return oldest
}

func (m *Manager) get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.touch(m.now())
	return s, nil
}

func (m *Manager) Info(id string) (*Info, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return m.info(s), nil
}

func (m *Manager) info(s *Session) *Info {
	s.state.RLock()
	defer s.state.RUnlock()
	return &Info{
		ID:            s.ID,
		CreatedAt:     s.CreatedAt,
		LastActive:    s.LastActive(),
		Document:      s.document,
		Chunks:        len(s.chunks),
		HistoryLength: len(s.history),
	}
}

// List returns every session, most recently created first.
func (m *Manager) List() []*Info {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	infos := make([]*Info, len(all))
	for i, s := range all {
		infos[i] = m.info(s)
	}
	return infos
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Delete drops the session and closes its index.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	m.closeSession(ctx, s)
	return nil
}

func (m *Manager) closeSession(ctx context.Context, s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.rag == nil {
		return
	}
	if err := s.rag.Close(ctx); err != nil {
		log.Warn().Err(err).Str("session", s.ID).Msg("Failed to close session index")
	}
	s.rag = nil
}

// Upload extracts the text of the file and rebuilds the session index from
// it. The document, chunks and index are replaced together; history is kept.
func (m *Manager) Upload(ctx context.Context, id, filename, contentType string, data []byte) (*models.DocumentInfo, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return m.upload(ctx, s, filename, contentType, data)
}

func (m *Manager) upload(ctx context.Context, s *Session, filename, contentType string, data []byte) (*models.DocumentInfo, error) {
	doc, err := parser.ExtractText(filename, contentType, data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// deleted or evicted while the text was being extracted
	if s.closed {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, s.ID)
	}
	if s.rag == nil {
		index, err := m.newIndex(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
		r, err := rag.NewRAG(m.embedder, m.llm, index, m.ragConfig)
		if err != nil {
			return nil, err
		}
		s.rag = r
	}

	// a failed build leaves a partially reset index behind
	s.setDocument(nil, nil)
	chunks, err := s.rag.Build(ctx, doc.Text)
	if err != nil {
		return nil, err
	}

	info := &models.DocumentInfo{
		Document:   *doc,
		Characters: utf8.RuneCountInString(doc.Text),
		Chunks:     len(chunks),
		IndexedAt:  m.now(),
	}
	s.setDocument(info, chunks)
	log.Info().Str("session", s.ID).Str("file", filename).Str("format", doc.Format).Int("chunks", len(chunks)).Msg("Indexed document")
	return info, nil
}

// Ask answers question against the session's document and records both turns.
func (m *Manager) Ask(ctx context.Context, id, question string, stream rag.StreamFunc) (*models.PromptResponse, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return m.ask(ctx, s, question, stream)
}

func (m *Manager) ask(ctx context.Context, s *Session, question string, stream rag.StreamFunc) (*models.PromptResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, s.ID)
	}
	if !s.hasDocument() || s.rag == nil {
		return nil, ErrNoDocument
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, rag.ErrEmptyQuestion
	}

	asked := m.now()
	resp, err := s.rag.Query(ctx, question, stream)
	if err != nil {
		return nil, err
	}
	s.state.Lock()
	s.history = append(s.history,
		models.ChatMessage{Speaker: models.SpeakerUser, Message: question, At: asked},
		models.ChatMessage{Speaker: models.SpeakerAssistant, Message: resp.Content, Sources: resp.Sources, At: m.now()},
	)
	s.state.Unlock()
	return resp, nil
}

func (s *Session) setDocument(doc *models.DocumentInfo, chunks []models.Chunk) {
	s.state.Lock()
	s.document, s.chunks = doc, chunks
	s.state.Unlock()
}

func (s *Session) hasDocument() bool {
	s.state.RLock()
	defer s.state.RUnlock()
	return s.document != nil
}

// History returns a copy of the chat history, oldest first.
func (m *Manager) History(id string) ([]models.ChatMessage, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	s.state.RLock()
	defer s.state.RUnlock()
	out := make([]models.ChatMessage, len(s.history))
	copy(out, s.history)
	return out, nil
}

func (m *Manager) ClearHistory(id string) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.state.Lock()
	s.history = nil
	s.state.Unlock()
	return nil
}

// CleanupOldSessions drops sessions idle for longer than the session timeout.
func (m *Manager) CleanupOldSessions(ctx context.Context) int {
	if m.timeout <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.timeout).UnixNano()

	var expired []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.lastActive.Load() < cutoff {
			delete(m.sessions, id)
			expired = append(expired, s)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		m.closeSession(ctx, s)
	}
	if len(expired) > 0 {
		log.Info().Int("sessions", len(expired)).Msg("Cleaned up idle sessions")
	}
	return len(expired)
}

// Run calls CleanupOldSessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupOldSessions(ctx)
		}
	}
}

// Close drops every session.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		m.closeSession(ctx, s)
	}
}
