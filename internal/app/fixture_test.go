package app

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"pinboard/api/internal/config"
	"pinboard/api/internal/store"
)

const testSecret = "test-secret"

// seedBoards creates ws1 with boards b1 and b2:
//
//	b1: l1 [c1 c2 c3], l2 []
//	b2: l3 [x1]
func seedBoards(t *testing.T, mem *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	if err := mem.InsertWorkspace(ctx, store.Workspace{ID: "ws1", Name: "Workspace"}); err != nil {
		t.Fatalf("InsertWorkspace() error = %v", err)
	}
	for _, id := range []string{"b1", "b2"} {
		if err := mem.InsertBoard(ctx, store.Board{ID: id, WorkspaceID: "ws1", Name: id}); err != nil {
			t.Fatalf("InsertBoard(%s) error = %v", id, err)
		}
	}
	err := mem.WithinTx(ctx, func(tx store.PositionTx) error {
		inserts := []struct {
			kind   store.Kind
			entity store.Entity
		}{
			{store.KindList, store.Entity{ID: "l1", ContainerID: "b1", Title: "Todo", Position: 0}},
			{store.KindList, store.Entity{ID: "l2", ContainerID: "b1", Title: "Done", Position: 1}},
			{store.KindList, store.Entity{ID: "l3", ContainerID: "b2", Title: "Elsewhere", Position: 0}},
			{store.KindCard, store.Entity{ID: "c1", ContainerID: "l1", Title: "one", Position: 0}},
			{store.KindCard, store.Entity{ID: "c2", ContainerID: "l1", Title: "two", Position: 1}},
			{store.KindCard, store.Entity{ID: "c3", ContainerID: "l1", Title: "three", Position: 2}},
			{store.KindCard, store.Entity{ID: "x1", ContainerID: "l3", Title: "other", Position: 0}},
		}
		for _, item := range inserts {
			if _, err := tx.Insert(ctx, item.kind, item.entity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed boards: %v", err)
	}
}

func newTestService(t *testing.T, opts ...Option) (*Service, *test.Hook) {
	t.Helper()
	mem := store.NewMemoryStore()
	seedBoards(t, mem)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	svc := New(config.Config{JWTSecret: testSecret}, mem, logger, opts...)
	return svc, hook
}

// cardOrder returns each list's card ids in position order with positions.
func cardOrder(t *testing.T, svc *Service, boardID string) map[string]map[string]int {
	t.Helper()
	tree, err := svc.Tree(context.Background(), boardID)
	if err != nil {
		t.Fatalf("Tree(%s) error = %v", boardID, err)
	}
	out := map[string]map[string]int{}
	for _, list := range tree.Lists {
		out[list.ID] = map[string]int{}
		for _, card := range list.Cards {
			out[list.ID][card.ID] = card.Position
		}
	}
	return out
}

func assertPositions(t *testing.T, got, want map[string]int) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("positions = %v, want %v", got, want)
	}
	for id, pos := range want {
		if got[id] != pos {
			t.Fatalf("positions = %v, want %v", got, want)
		}
	}
}

func assertDomainError(t *testing.T, err error, code string) *DomainError {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("error = %v, want DomainError %s", err, code)
	}
	if domainErr.Code != code {
		t.Fatalf("error code = %s, want %s", domainErr.Code, code)
	}
	return domainErr
}

func intPtr(v int) *int {
	return &v
}
