package drag

import (
	"context"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"pinboard/api/internal/apiclient"
	"pinboard/api/internal/app"
	"pinboard/api/internal/auth"
	"pinboard/api/internal/boardtree"
	"pinboard/api/internal/config"
	"pinboard/api/internal/ordering"
	"pinboard/api/internal/store"
)

const e2eSecret = "drag-e2e-secret"

func newBoardServer(t *testing.T) *apiclient.Client {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemoryStore()
	if err := mem.InsertWorkspace(ctx, store.Workspace{ID: "ws1", Name: "Workspace"}); err != nil {
		t.Fatalf("InsertWorkspace() error = %v", err)
	}
	if err := mem.InsertBoard(ctx, store.Board{ID: "b1", WorkspaceID: "ws1", Name: "Board"}); err != nil {
		t.Fatalf("InsertBoard() error = %v", err)
	}
	err := mem.WithinTx(ctx, func(tx store.PositionTx) error {
		rows := []struct {
			kind   store.Kind
			entity store.Entity
		}{
			{store.KindList, store.Entity{ID: "l1", ContainerID: "b1", Title: "Todo", Position: 0}},
			{store.KindList, store.Entity{ID: "l2", ContainerID: "b1", Title: "Done", Position: 1}},
			{store.KindCard, store.Entity{ID: "c1", ContainerID: "l1", Title: "one", Position: 0}},
			{store.KindCard, store.Entity{ID: "c2", ContainerID: "l1", Title: "two", Position: 1}},
			{store.KindCard, store.Entity{ID: "c3", ContainerID: "l1", Title: "three", Position: 2}},
		}
		for _, row := range rows {
			if _, err := tx.Insert(ctx, row.kind, row.entity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	logger, _ := test.NewNullLogger()
	svc := app.New(config.Config{JWTSecret: e2eSecret}, mem, logger)
	server := httptest.NewServer(app.NewHTTPServer(svc, "*", logger).Handler())
	t.Cleanup(server.Close)

	token, err := auth.Issue([]byte(e2eSecret), auth.NewClaims("drag-user", "member", time.Hour, time.Now()))
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return apiclient.New(server.URL, token)
}

func TestDragAgainstServer(t *testing.T) {
	ctx := context.Background()
	client := newBoardServer(t)
	board := NewStore("b1", client)
	if err := board.Refetch(ctx); err != nil {
		t.Fatalf("Refetch() error = %v", err)
	}
	logger, _ := test.NewNullLogger()
	session := NewSession(board, client, logger)

	drop := func(activeID, overID string) Outcome {
		t.Helper()
		if err := session.Start(session.Classify(activeID)); err != nil {
			t.Fatalf("Start(%s) error = %v", activeID, err)
		}
		outcome, err := session.Drop(ctx, overID)
		if err != nil {
			t.Fatalf("Drop(%s) error = %v", overID, err)
		}
		return outcome
	}

	if got := drop("c1", "c3"); got != Moved {
		t.Fatalf("first drop = %s, want moved", got)
	}
	if got := drop("c1", "c2"); got != Moved {
		t.Fatalf("second drop = %s, want moved", got)
	}
	if got := drop("c3", ordering.EmptyContainerID("l2")); got != Moved {
		t.Fatalf("cross-list drop = %s, want moved", got)
	}

	local := board.Snapshot()
	server, err := client.FetchTree(ctx, "b1")
	if err != nil {
		t.Fatalf("FetchTree() error = %v", err)
	}
	for _, listID := range []string{"l1", "l2"} {
		if got, want := cardIDs(t, local, listID), cardIDs(t, server, listID); !reflect.DeepEqual(got, want) {
			t.Fatalf("%s local = %v, server = %v", listID, got, want)
		}
	}
	if got := cardIDs(t, server, "l1"); !reflect.DeepEqual(got, []string{"c1", "c2"}) {
		t.Fatalf("l1 = %v, want [c1 c2]", got)
	}
	assertDense(t, server)

	localCard, _ := local.Card("c1")
	serverCard, _ := server.Card("c1")
	if localCard.Version != serverCard.Version || serverCard.Version != 3 {
		t.Fatalf("c1 version local %d server %d, want 3", localCard.Version, serverCard.Version)
	}

	if got := drop("l2", "l1"); got != Moved {
		t.Fatalf("list drop = %s, want moved", got)
	}
	server, err = client.FetchTree(ctx, "b1")
	if err != nil {
		t.Fatalf("FetchTree() error = %v", err)
	}
	if !reflect.DeepEqual(server.ListIDs(), board.Snapshot().ListIDs()) {
		t.Fatalf("lists local = %v, server = %v", board.Snapshot().ListIDs(), server.ListIDs())
	}
}

func TestDragResyncsOnStaleVersion(t *testing.T) {
	ctx := context.Background()
	client := newBoardServer(t)
	board := NewStore("b1", client)
	if err := board.Refetch(ctx); err != nil {
		t.Fatalf("Refetch() error = %v", err)
	}

	if _, err := client.ReorderCard(ctx, "c2", boardtree.CardMove{Position: 0}); err != nil {
		t.Fatalf("concurrent ReorderCard() error = %v", err)
	}

	logger, hook := test.NewNullLogger()
	session := NewSession(board, client, logger)
	if err := session.Start(Target{Kind: KindCard, ID: "c2"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	outcome, err := session.Drop(ctx, "c3")
	if err != nil || outcome != Resynced {
		t.Fatalf("Drop() = %s, %v; want resynced", outcome, err)
	}
	if got := cardIDs(t, board.Snapshot(), "l1"); !reflect.DeepEqual(got, []string{"c2", "c1", "c3"}) {
		t.Fatalf("l1 after resync = %v, want [c2 c1 c3]", got)
	}
	if len(hook.Entries) == 0 {
		t.Fatal("rejected move was not logged")
	}
}
