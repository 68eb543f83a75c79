package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"document-qa/internal/chromemdb"
	"document-qa/internal/config"
	"document-qa/internal/models"
	"document-qa/internal/parser"
	"document-qa/internal/rag"
	"document-qa/internal/testutil"

	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const notes = "Invoices are due in thirty days.\nRefunds go to the original card.\nThe office closes at six."

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newManager(t *testing.T, maxSessions int) (*Manager, *testutil.FakeLLM, *clock) {
	t.Helper()
	db := chromem.NewDB()
	factory := func(ctx context.Context, id string) (rag.Index, error) {
		m, err := chromemdb.NewVectorDBManager(db, "session-"+id, false, "")
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	llm := &testutil.FakeLLM{Reply: func(string) string { return "thirty days" }}
	ragCfg := config.RAGConfig{ChunkStrategy: config.ChunkStrategySeparator, Separators: []string{"\n"}, ChunkSize: 40, TopK: 2}
	srvCfg := config.ServerConfig{SessionTimeoutMinutes: 30, MaxSessions: maxSessions}

	m := NewManager(&testutil.HashEmbedder{}, llm, factory, ragCfg, srvCfg)
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	m.now = c.Now
	return m, llm, c
}

func TestAskBeforeUpload(t *testing.T) {
	ctx := context.Background()
	m, llm, _ := newManager(t, 0)
	info, err := m.Create(ctx)
	require.NoError(t, err)

	_, err = m.Ask(ctx, info.ID, "when are invoices due?", nil)
	assert.ErrorIs(t, err, ErrNoDocument)
	assert.Equal(t, 0, llm.PromptCount())
}

func TestUploadAndAskRecordsHistory(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t, 0)
	info, err := m.Create(ctx)
	require.NoError(t, err)

	doc, err := m.Upload(ctx, info.ID, "notes.txt", "", []byte(notes))
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", doc.Filename)
	assert.Equal(t, 3, doc.Chunks)
	assert.Equal(t, len(notes), doc.Characters)

	resp, err := m.Ask(ctx, info.ID, " When are invoices due? ", nil)
	require.NoError(t, err)
	assert.Equal(t, "thirty days", resp.Content)
	assert.Len(t, resp.Sources, 2)

	history, err := m.History(info.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.SpeakerUser, history[0].Speaker)
	assert.Equal(t, "When are invoices due?", history[0].Message)
	assert.Equal(t, models.SpeakerAssistant, history[1].Speaker)
	assert.Equal(t, "thirty days", history[1].Message)
	assert.Equal(t, resp.Sources, history[1].Sources)

	got, err := m.Info(info.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Chunks)
	assert.Equal(t, 2, got.HistoryLength)

	require.NoError(t, m.ClearHistory(info.ID))
	history, err = m.History(info.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestUploadReplacesDocumentKeepsHistory(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t, 0)
	info, err := m.Create(ctx)
	require.NoError(t, err)

	_, err = m.Upload(ctx, info.ID, "notes.txt", "", []byte(notes))
	require.NoError(t, err)
	_, err = m.Ask(ctx, info.ID, "invoices?", nil)
	require.NoError(t, err)

	doc, err := m.Upload(ctx, info.ID, "other.md", "", []byte("# Rockets\n\nRockets need fuel."))
	require.NoError(t, err)
	assert.Equal(t, "md", doc.Format)

	resp, err := m.Ask(ctx, info.ID, "invoices?", nil)
	require.NoError(t, err)
	for _, s := range resp.Sources {
		assert.NotContains(t, s.Content, "Invoices")
	}

	history, err := m.History(info.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestUploadErrors(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t, 0)
	info, err := m.Create(ctx)
	require.NoError(t, err)

	_, err = m.Upload(ctx, info.ID, "image.png", "image/png", []byte{0x89, 'P', 'N', 'G'})
	assert.ErrorIs(t, err, parser.ErrUnsupportedFormat)

	_, err = m.Upload(ctx, info.ID, "blank.txt", "", []byte("  \n\t"))
	assert.ErrorIs(t, err, parser.ErrEmptyDocument)

	_, err = m.Upload(ctx, "missing", "notes.txt", "", []byte(notes))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAskEmptyQuestion(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t, 0)
	info, err := m.Create(ctx)
	require.NoError(t, err)
	_, err = m.Upload(ctx, info.ID, "notes.txt", "", []byte(notes))
	require.NoError(t, err)

	_, err = m.Ask(ctx, info.ID, "  ", nil)
	assert.ErrorIs(t, err, rag.ErrEmptyQuestion)
	history, err := m.History(info.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestFailedAnswerIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	m, llm, _ := newManager(t, 0)
	info, err := m.Create(ctx)
	require.NoError(t, err)
	_, err = m.Upload(ctx, info.ID, "notes.txt", "", []byte(notes))
	require.NoError(t, err)

	boom := errors.New("rate limited")
	llm.Err = boom
	_, err = m.Ask(ctx, info.ID, "invoices?", nil)
	assert.ErrorIs(t, err, boom)

	history, err := m.History(info.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t, 0)
	info, err := m.Create(ctx)
	require.NoError(t, err)
	_, err = m.Upload(ctx, info.ID, "notes.txt", "", []byte(notes))
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, info.ID))
	_, err = m.Info(info.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.Delete(ctx, info.ID), ErrSessionNotFound)
}

func TestCleanupOldSessions(t *testing.T) {
	ctx := context.Background()
	m, _, c := newManager(t, 0)
	stale, err := m.Create(ctx)
	require.NoError(t, err)

	c.Advance(20 * time.Minute)
	fresh, err := m.Create(ctx)
	require.NoError(t, err)

	c.Advance(15 * time.Minute)
	assert.Equal(t, 1, m.CleanupOldSessions(ctx))

	_, err = m.Info(stale.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Info(fresh.ID)
	assert.NoError(t, err)
}

func TestMaxSessionsEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	m, _, c := newManager(t, 2)

	first, err := m.Create(ctx)
	require.NoError(t, err)
	c.Advance(time.Minute)
	second, err := m.Create(ctx)
	require.NoError(t, err)
	c.Advance(time.Minute)

	_, err = m.Info(first.ID)
	require.NoError(t, err)
	c.Advance(time.Minute)

	third, err := m.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())

	_, err = m.Info(second.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Info(first.ID)
	assert.NoError(t, err)
	_, err = m.Info(third.ID)
	assert.NoError(t, err)

	infos := m.List()
	require.Len(t, infos, 2)
	assert.Equal(t, third.ID, infos[0].ID)
}

func TestConcurrentAsks(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t, 0)
	info, err := m.Create(ctx)
	require.NoError(t, err)
	_, err = m.Upload(ctx, info.ID, "notes.txt", "", []byte(notes))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Ask(ctx, info.ID, "refunds?", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := m.History(info.ID)
	require.NoError(t, err)
	require.Len(t, history, 16)
	for i := 0; i < len(history); i += 2 {
		assert.Equal(t, models.SpeakerUser, history[i].Speaker)
		assert.Equal(t, models.SpeakerAssistant, history[i+1].Speaker)
	}
}

func TestActionsOnClosedSessionFail(t *testing.T) {
	ctx := context.Background()
	m, llm, _ := newManager(t, 0)
	created := 0
	newIndex := m.newIndex
	m.newIndex = func(ctx context.Context, id string) (rag.Index, error) {
		created++
		return newIndex(ctx, id)
	}

	info, err := m.Create(ctx)
	require.NoError(t, err)
	m.mu.RLock()
	s := m.sessions[info.ID]
	m.mu.RUnlock()

	// the handle was looked up before the delete finished
	require.NoError(t, m.Delete(ctx, info.ID))

	_, err = m.upload(ctx, s, "notes.txt", "", []byte(notes))
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.ask(ctx, s, "invoices?", nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 0, created)
	assert.Nil(t, s.rag)
	assert.Equal(t, 0, llm.PromptCount())
}

func TestEvictedSessionRejectsUpload(t *testing.T) {
	ctx := context.Background()
	m, _, c := newManager(t, 1)
	first, err := m.Create(ctx)
	require.NoError(t, err)
	_, err = m.Upload(ctx, first.ID, "notes.txt", "", []byte(notes))
	require.NoError(t, err)
	m.mu.RLock()
	s := m.sessions[first.ID]
	m.mu.RUnlock()

	c.Advance(time.Minute)
	_, err = m.Create(ctx)
	require.NoError(t, err)

	_, err = m.upload(ctx, s, "notes.txt", "", []byte(notes))
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Nil(t, s.rag)
}

func TestReadsDoNotWaitForAnswer(t *testing.T) {
	ctx := context.Background()
	m, llm, _ := newManager(t, 0)
	info, err := m.Create(ctx)
	require.NoError(t, err)
	_, err = m.Upload(ctx, info.ID, "notes.txt", "", []byte(notes))
	require.NoError(t, err)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	llm.Reply = func(string) string {
		started <- struct{}{}
		<-release
		return "thirty days"
	}

	asked := make(chan error, 1)
	go func() {
		_, err := m.Ask(ctx, info.ID, "invoices?", nil)
		asked <- err
	}()
	<-started

	read := make(chan *Info, 1)
	go func() {
		m.List()
		_, _ = m.History(info.ID)
		got, _ := m.Info(info.ID)
		read <- got
	}()
	select {
	case got := <-read:
		require.NotNil(t, got)
		assert.Equal(t, 3, got.Chunks)
		assert.Equal(t, 0, got.HistoryLength)
	case <-time.After(2 * time.Second):
		t.Fatal("session reads blocked behind a running question")
	}

	close(release)
	require.NoError(t, <-asked)
	got, err := m.Info(info.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.HistoryLength)
}
