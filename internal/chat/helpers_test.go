package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/chat-relay/internal/ai"
	"gorm.io/gorm"
)

type providerFunc func(ctx context.Context, req ai.Request) (string, error)

func (f providerFunc) Chat(ctx context.Context, req ai.Request) (string, error) {
	return f(ctx, req)
}

func replyWith(text string) providerFunc {
	return func(context.Context, ai.Request) (string, error) { return text, nil }
}

// blockingProvider holds every call until unblock is closed.
type blockingProvider struct {
	started chan struct{}
	unblock chan struct{}
	reply   string
}

func newBlockingProvider(reply string) *blockingProvider {
	return &blockingProvider{
		started: make(chan struct{}, 8),
		unblock: make(chan struct{}),
		reply:   reply,
	}
}

func (p *blockingProvider) Chat(ctx context.Context, req ai.Request) (string, error) {
	p.started <- struct{}{}
	<-p.unblock
	return p.reply, nil
}

func (p *blockingProvider) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-p.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("provider was not called")
	}
}

type sentMessage struct {
	ChatID int64
	Text   string
}

type recordingSender struct {
	mu    sync.Mutex
	sent  []sentMessage
	panic bool
}

func (s *recordingSender) Send(_ context.Context, chatID int64, text string) error {
	if s.panic {
		panic("sender exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{ChatID: chatID, Text: text})
	return nil
}

func (s *recordingSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, m := range s.sent {
		out = append(out, m.Text)
	}
	return out
}

type fetcherFunc func(ctx context.Context, ref string) ([]byte, error)

func (f fetcherFunc) FetchBytes(ctx context.Context, ref string) ([]byte, error) {
	return f(ctx, ref)
}

type recordingPublisher struct {
	mu   sync.Mutex
	recs []DiagnosticRecord
}

func (p *recordingPublisher) PublishDiagnostic(_ context.Context, rec DiagnosticRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recs = append(p.recs, rec)
	return nil
}

// pngBytes is the smallest header mimetype recognizes as image/png.
var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type harness struct {
	store      *Store
	sender     *recordingSender
	publisher  *recordingPublisher
	dispatcher *Dispatcher
	service    *Service
}

type harnessOpts struct {
	provider ai.Provider
	fetcher  AttachmentFetcher
	timeout  time.Duration
	persist  Persister
	jobs     JobRecorder
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	log := zerolog.Nop()
	if o.fetcher == nil {
		o.fetcher = fetcherFunc(func(context.Context, string) ([]byte, error) { return pngBytes, nil })
	}
	if o.timeout == 0 {
		o.timeout = 2 * time.Second
	}

	h := &harness{
		store:     NewStore(o.persist, log),
		sender:    &recordingSender{},
		publisher: &recordingPublisher{},
	}
	builder := NewHistoryBuilder("", o.fetcher, time.Second)
	gateway := NewGateway(o.provider, o.timeout)
	relay := NewRelay(h.sender, h.publisher, log)

	var opts []Option
	if o.jobs != nil {
		opts = append(opts, WithJobRecorder(o.jobs))
	}
	h.dispatcher = NewDispatcher(h.store, builder, gateway, relay, log, opts...)
	h.service = NewService(h.store, h.dispatcher, h.sender, log)
	return h
}

func textEvent(userID int64, text string) Event {
	return Event{User: User{ID: userID, Name: "tester"}, ChatID: userID, Text: text}
}

func photoEvent(userID int64, caption string) Event {
	return Event{
		User:   User{ID: userID, Name: "tester"},
		ChatID: userID,
		Photo:  &Photo{FileRef: "file-1", Caption: caption},
	}
}

func roles(turns []Turn) []ai.Role {
	out := make([]ai.Role, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.Role)
	}
	return out
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// one connection, one in-memory database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := Migrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}
