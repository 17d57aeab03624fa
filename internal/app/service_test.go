package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"pinboard/api/internal/auth"
	"pinboard/api/internal/cache"
	"pinboard/api/internal/config"
	"pinboard/api/internal/store"
)

func TestCreateCardAppendsAfterLast(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	card, err := svc.CreateCard(ctx, "l1", "  four  ", nil)
	if err != nil {
		t.Fatalf("CreateCard() error = %v", err)
	}
	if card.Position != 3 || card.Title != "four" || card.Version != 1 {
		t.Fatalf("unexpected card %+v", card)
	}

	empty, err := svc.CreateCard(ctx, "l2", "first", nil)
	if err != nil {
		t.Fatalf("CreateCard(empty list) error = %v", err)
	}
	if empty.Position != 0 {
		t.Fatalf("first card position = %d, want 0", empty.Position)
	}
}

func TestCreateCardExplicitPositionDoesNotShift(t *testing.T) {
	svc, _ := newTestService(t)
	card, err := svc.CreateCard(context.Background(), "l1", "pinned", intPtr(0))
	if err != nil {
		t.Fatalf("CreateCard() error = %v", err)
	}
	got := cardOrder(t, svc, "b1")["l1"]
	if got["c1"] != 0 || got[card.ID] != 0 || got["c2"] != 1 {
		t.Fatalf("explicit position shifted siblings: %v", got)
	}
}

func TestCreateRejections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
		code string
	}{
		{name: "blank title", run: func() error { _, err := svc.CreateCard(ctx, "l1", "   ", nil); return err }, code: "VALIDATION_ERROR"},
		{name: "negative position", run: func() error { _, err := svc.CreateList(ctx, "b1", "x", intPtr(-2)); return err }, code: "VALIDATION_ERROR"},
		{name: "malformed board", run: func() error { _, err := svc.CreateList(ctx, "b 1", "x", nil); return err }, code: "VALIDATION_ERROR"},
		{name: "unknown list", run: func() error { _, err := svc.CreateCard(ctx, "nope", "x", nil); return err }, code: "NOT_FOUND"},
		{name: "unknown board", run: func() error { _, err := svc.CreateList(ctx, "nope", "x", nil); return err }, code: "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertDomainError(t, tt.run(), tt.code)
		})
	}
}

func TestCreateListAppends(t *testing.T) {
	svc, _ := newTestService(t)
	list, err := svc.CreateList(context.Background(), "b1", "Later", nil)
	if err != nil {
		t.Fatalf("CreateList() error = %v", err)
	}
	if list.Position != 2 || list.BoardID != "b1" || list.Cards == nil {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestDeleteCardClosesGap(t *testing.T) {
	svc, _ := newTestService(t)
	if err := svc.DeleteCard(context.Background(), "c1"); err != nil {
		t.Fatalf("DeleteCard() error = %v", err)
	}
	assertPositions(t, cardOrder(t, svc, "b1")["l1"], map[string]int{"c2": 0, "c3": 1})

	assertDomainError(t, svc.DeleteCard(context.Background(), "c1"), "NOT_FOUND")
}

func TestDeleteListClosesGap(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if err := svc.DeleteList(ctx, "l1"); err != nil {
		t.Fatalf("DeleteList() error = %v", err)
	}
	tree, err := svc.Tree(ctx, "b1")
	if err != nil {
		t.Fatalf("Tree() error = %v", err)
	}
	if len(tree.Lists) != 1 || tree.Lists[0].ID != "l2" || tree.Lists[0].Position != 0 {
		t.Fatalf("unexpected lists %+v", tree.Lists)
	}
}

func TestTreeUnknownBoard(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Tree(context.Background(), "missing")
	assertDomainError(t, err, "NOT_FOUND")
}

func TestTreeReadsThroughCache(t *testing.T) {
	redis := miniredis.RunT(t)
	treeCache, err := cache.NewRedisTreeCache("redis://"+redis.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("NewRedisTreeCache() error = %v", err)
	}
	t.Cleanup(func() { _ = treeCache.Close() })

	svc, _ := newTestService(t, WithTreeCache(treeCache))
	ctx := context.Background()

	if _, err := svc.Tree(ctx, "b1"); err != nil {
		t.Fatalf("Tree() error = %v", err)
	}
	if !redis.Exists("board-tree:b1") {
		t.Fatal("expected tree to be cached")
	}

	if _, err := svc.ReorderCard(ctx, "c1", CardMove{Position: 2}); err != nil {
		t.Fatalf("ReorderCard() error = %v", err)
	}
	if redis.Exists("board-tree:b1") {
		t.Fatal("expected reorder to evict the cached tree")
	}

	assertPositions(t, cardOrder(t, svc, "b1")["l1"], map[string]int{"c2": 0, "c3": 1, "c1": 2})

	if _, err := svc.CreateCard(ctx, "l2", "new", nil); err != nil {
		t.Fatalf("CreateCard() error = %v", err)
	}
	if redis.Exists("board-tree:b1") {
		t.Fatal("expected create to evict the cached tree")
	}
}

// pausingStore holds its first BoardTree result until resume is closed.
type pausingStore struct {
	*store.MemoryStore
	loaded chan struct{}
	resume chan struct{}
	once   sync.Once
}

func (p *pausingStore) BoardTree(ctx context.Context, boardID string) (store.BoardTree, error) {
	rows, err := p.MemoryStore.BoardTree(ctx, boardID)
	p.once.Do(func() {
		close(p.loaded)
		<-p.resume
	})
	return rows, err
}

func TestTreeLoadedBeforeReorderIsNotCached(t *testing.T) {
	redis := miniredis.RunT(t)
	treeCache, err := cache.NewRedisTreeCache("redis://"+redis.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("NewRedisTreeCache() error = %v", err)
	}
	t.Cleanup(func() { _ = treeCache.Close() })

	mem := store.NewMemoryStore()
	seedBoards(t, mem)
	paused := &pausingStore{MemoryStore: mem, loaded: make(chan struct{}), resume: make(chan struct{})}
	logger, _ := test.NewNullLogger()
	svc := New(config.Config{JWTSecret: testSecret}, paused, logger, WithTreeCache(treeCache))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := svc.Tree(ctx, "b1")
		done <- err
	}()

	<-paused.loaded
	if _, err := svc.ReorderCard(ctx, "c1", CardMove{Position: 2}); err != nil {
		t.Fatalf("ReorderCard() error = %v", err)
	}
	close(paused.resume)
	if err := <-done; err != nil {
		t.Fatalf("Tree() error = %v", err)
	}

	if redis.Exists("board-tree:b1") {
		t.Fatal("tree loaded before the reorder was written to the cache")
	}
	assertPositions(t, cardOrder(t, svc, "b1")["l1"], map[string]int{"c2": 0, "c3": 1, "c1": 2})
	if !redis.Exists("board-tree:b1") {
		t.Fatal("expected the fresh tree to be cached")
	}
	assertPositions(t, cardOrder(t, svc, "b1")["l1"], map[string]int{"c2": 0, "c3": 1, "c1": 2})
}

func TestTreeSurvivesCacheOutage(t *testing.T) {
	redis := miniredis.RunT(t)
	treeCache, err := cache.NewRedisTreeCache("redis://"+redis.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("NewRedisTreeCache() error = %v", err)
	}
	t.Cleanup(func() { _ = treeCache.Close() })
	svc, hook := newTestService(t, WithTreeCache(treeCache))

	redis.Close()

	tree, err := svc.Tree(context.Background(), "b1")
	if err != nil {
		t.Fatalf("Tree() error = %v", err)
	}
	if len(tree.Lists) != 2 {
		t.Fatalf("unexpected tree %+v", tree)
	}
	warned := false
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected a cache warning")
	}
}

func TestReorderLogsAndTraces(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	svc, hook := newTestService(t, WithTracer(tp.Tracer("test")))
	if _, err := svc.ReorderCard(context.Background(), "c1", CardMove{Position: 0, ListID: "l2"}); err != nil {
		t.Fatalf("ReorderCard() error = %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Message != "board.reorder" {
		t.Fatalf("unexpected last log entry %+v", entry)
	}
	if entry.Data["container_changed"] != true || entry.Data["from"] != 0 || entry.Data["to"] != 0 {
		t.Fatalf("unexpected log fields %v", entry.Data)
	}

	var found bool
	for _, span := range exporter.GetSpans() {
		if span.Name != "board.reorder" {
			continue
		}
		found = true
		attrs := map[attribute.Key]attribute.Value{}
		for _, kv := range span.Attributes {
			attrs[kv.Key] = kv.Value
		}
		if attrs["entity.id"].AsString() != "c1" || !attrs["reorder.moved"].AsBool() {
			t.Fatalf("unexpected span attributes %v", span.Attributes)
		}
	}
	if !found {
		t.Fatal("expected a board.reorder span")
	}
}

func TestBootstrapSeedsOnce(t *testing.T) {
	mem := store.NewMemoryStore()
	logger, _ := test.NewNullLogger()
	svc := New(config.Config{}, mem, logger)
	ctx := context.Background()

	if err := svc.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if err := svc.Bootstrap(ctx); err != nil {
		t.Fatalf("second Bootstrap() error = %v", err)
	}

	tree, err := svc.Tree(ctx, "board_demo")
	if err != nil {
		t.Fatalf("Tree() error = %v", err)
	}
	if len(tree.Lists) != 3 || len(tree.Lists[0].Cards) != 3 {
		t.Fatalf("unexpected seed tree %+v", tree)
	}
	for i, card := range tree.Lists[0].Cards {
		if card.Position != i {
			t.Fatalf("seed card %s at %d, want %d", card.ID, card.Position, i)
		}
	}
}

func TestSessionFromToken(t *testing.T) {
	svc, _ := newTestService(t)
	now := time.Now()
	token, err := auth.Issue([]byte(testSecret), auth.NewClaims("user-1", "member", time.Hour, now))
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	session, err := svc.SessionFromToken(context.Background(), token)
	if err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	if session.UserID != "user-1" || session.Role != "member" {
		t.Fatalf("unexpected session %+v", session)
	}

	forged, _ := auth.Issue([]byte("other"), auth.NewClaims("user-1", "admin", time.Hour, now))
	if _, err := svc.SessionFromToken(context.Background(), forged); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("SessionFromToken(forged) error = %v", err)
	}
}
