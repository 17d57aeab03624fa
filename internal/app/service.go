package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pinboard/api/internal/auth"
	"pinboard/api/internal/boardtree"
	"pinboard/api/internal/config"
	"pinboard/api/internal/ordering"
	"pinboard/api/internal/rbac"
	"pinboard/api/internal/store"
	"pinboard/api/internal/util"
)

const maxTitleLength = 512

// maxPosition is the largest value the INTEGER position and version columns hold.
const maxPosition = math.MaxInt32

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type Session struct {
	Token     string
	UserID    string
	Role      string
	TokenID   string
	ExpiresAt time.Time
}

// BoardStore is implemented by store.PostgresStore and store.MemoryStore.
type BoardStore interface {
	WithinTx(ctx context.Context, fn func(store.PositionTx) error) error
	BoardTree(ctx context.Context, boardID string) (store.BoardTree, error)
	InsertWorkspace(ctx context.Context, workspace store.Workspace) error
	InsertBoard(ctx context.Context, board store.Board) error
	HasBoards(ctx context.Context) (bool, error)
	Ping(ctx context.Context) error
}

// treeCache only accepts a tree loaded under the generation read before the
// load, so a write racing an invalidation is dropped.
type treeCache interface {
	Get(ctx context.Context, boardID string) (boardtree.Tree, bool, error)
	Generation(ctx context.Context, boardID string) (int64, error)
	Set(ctx context.Context, tree boardtree.Tree, generation int64) (bool, error)
	Invalidate(ctx context.Context, boardIDs ...string) error
}

type Service struct {
	cfg    config.Config
	store  BoardStore
	cache  treeCache
	log    *logrus.Logger
	tracer trace.Tracer
	now    func() time.Time
	newID  func(prefix string) string
}

type Option func(*Service)

// WithTreeCache enables the read-through board tree cache.
func WithTreeCache(cache treeCache) Option {
	return func(s *Service) { s.cache = cache }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) { s.tracer = tracer }
}

func New(cfg config.Config, dataStore BoardStore, logger *logrus.Logger, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		store:  dataStore,
		log:    logger,
		tracer: otel.Tracer("pinboard/api/internal/app"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  util.NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	return s
}

// Bootstrap seeds a demo board when the store has none.
func (s *Service) Bootstrap(ctx context.Context) error {
	hasBoards, err := s.store.HasBoards(ctx)
	if err != nil {
		return err
	}
	if hasBoards {
		return nil
	}

	const workspaceID, boardID = "ws_demo", "board_demo"
	if err := s.store.InsertWorkspace(ctx, store.Workspace{ID: workspaceID, Name: "Demo workspace"}); err != nil {
		return err
	}
	if err := s.store.InsertBoard(ctx, store.Board{ID: boardID, WorkspaceID: workspaceID, Name: "Launch plan"}); err != nil {
		return err
	}

	seeds := []struct {
		Title string
		Cards []string
	}{
		{Title: "Todo", Cards: []string{"Draft announcement", "Book venue", "Collect feedback"}},
		{Title: "Doing", Cards: []string{"Build landing page"}},
		{Title: "Done", Cards: nil},
	}
	for _, seed := range seeds {
		list, err := s.CreateList(ctx, boardID, seed.Title, nil)
		if err != nil {
			return fmt.Errorf("seed list %q: %w", seed.Title, err)
		}
		for _, title := range seed.Cards {
			if _, err := s.CreateCard(ctx, list.ID, title, nil); err != nil {
				return fmt.Errorf("seed card %q: %w", title, err)
			}
		}
	}
	s.log.WithField("board_id", boardID).Info("seeded demo board")
	return nil
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.Parse([]byte(s.cfg.JWTSecret), token, s.now())
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Subject,
		Role:      string(rbac.Normalize(claims.Role)),
		TokenID:   claims.ID,
		ExpiresAt: time.Unix(claims.ExpiresAt, 0),
	}, nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Tree returns the authoritative board tree, reading through the cache.
func (s *Service) Tree(ctx context.Context, boardID string) (boardtree.Tree, error) {
	if err := validateID("boardId", boardID); err != nil {
		return boardtree.Tree{}, err
	}
	ctx, span := s.tracer.Start(ctx, "board.tree", trace.WithAttributes(attribute.String("board.id", boardID)))
	defer span.End()

	canStore := false
	var generation int64
	if s.cache != nil {
		tree, ok, err := s.cache.Get(ctx, boardID)
		if err != nil {
			s.log.WithError(err).WithField("board_id", boardID).Warn("board tree cache read failed")
		}
		if ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return tree, nil
		}
		generation, err = s.cache.Generation(ctx, boardID)
		if err != nil {
			s.log.WithError(err).WithField("board_id", boardID).Warn("board tree cache read failed")
		} else {
			canStore = true
		}
	}

	rows, err := s.store.BoardTree(ctx, boardID)
	if errors.Is(err, store.ErrNotFound) {
		return boardtree.Tree{}, boardNotFound(boardID)
	}
	if err != nil {
		recordSpanError(span, err)
		return boardtree.Tree{}, fmt.Errorf("load board tree: %w", err)
	}
	tree := toTree(rows)

	if canStore {
		stored, err := s.cache.Set(ctx, tree, generation)
		if err != nil {
			s.log.WithError(err).WithField("board_id", boardID).Warn("board tree cache write failed")
		} else if !stored {
			s.log.WithField("board_id", boardID).Debug("board tree changed while loading, not cached")
		}
	}
	return tree, nil
}

func (s *Service) CreateList(ctx context.Context, boardID, title string, position *int) (boardtree.List, error) {
	placed, err := s.create(ctx, store.KindList, boardID, title, position)
	if err != nil {
		return boardtree.List{}, err
	}
	return toList(placed), nil
}

func (s *Service) CreateCard(ctx context.Context, listID, title string, position *int) (boardtree.Card, error) {
	placed, err := s.create(ctx, store.KindCard, listID, title, position)
	if err != nil {
		return boardtree.Card{}, err
	}
	return toCard(placed), nil
}

// create appends after the current last position unless position is given,
// in which case it is stored as is without shifting siblings.
func (s *Service) create(ctx context.Context, kind store.Kind, containerID, title string, position *int) (store.Placement, error) {
	if err := validateID(containerField(kind), containerID); err != nil {
		return store.Placement{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Placement{}, validationError("title is required")
	}
	if len(title) > maxTitleLength {
		return store.Placement{}, validationError(fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	}
	if position != nil && (*position < 0 || *position > maxPosition) {
		return store.Placement{}, validationError(fmt.Sprintf("position must be an integer between 0 and %d", maxPosition))
	}

	ctx, span := s.tracer.Start(ctx, "board.create", trace.WithAttributes(
		attribute.String("entity.kind", string(kind)),
		attribute.String("container.id", containerID),
	))
	defer span.End()

	var placed store.Placement
	err := s.store.WithinTx(ctx, func(tx store.PositionTx) error {
		if _, err := tx.Container(ctx, kind, containerID); err != nil {
			return containerLookupError(kind, containerID, err)
		}
		var at int
		if position != nil {
			at = *position
		} else {
			highest, err := tx.MaxPosition(ctx, kind, containerID)
			if err != nil {
				return err
			}
			at = highest + 1
		}
		var err error
		placed, err = tx.Insert(ctx, kind, store.Entity{
			ID:          s.newID(string(kind)),
			ContainerID: containerID,
			Title:       title,
			Position:    at,
		})
		if errors.Is(err, store.ErrNotFound) {
			return containerLookupError(kind, containerID, err)
		}
		return err
	})
	if err != nil {
		recordSpanError(span, err)
		return store.Placement{}, err
	}
	s.invalidate(ctx, placed.BoardID)
	return placed, nil
}

func (s *Service) DeleteList(ctx context.Context, listID string) error {
	return s.remove(ctx, store.KindList, listID)
}

func (s *Service) DeleteCard(ctx context.Context, cardID string) error {
	return s.remove(ctx, store.KindCard, cardID)
}

// remove deletes the entity and closes the gap it leaves behind.
func (s *Service) remove(ctx context.Context, kind store.Kind, id string) error {
	if err := validateID(idField(kind), id); err != nil {
		return err
	}
	ctx, span := s.tracer.Start(ctx, "board.delete", trace.WithAttributes(
		attribute.String("entity.kind", string(kind)),
		attribute.String("entity.id", id),
	))
	defer span.End()

	var removed store.Placement
	err := s.store.WithinTx(ctx, func(tx store.PositionTx) error {
		current, err := tx.Lock(ctx, kind, id)
		if err != nil {
			return entityLookupError(kind, id, err)
		}
		if err := tx.Delete(ctx, kind, id); err != nil {
			return entityLookupError(kind, id, err)
		}
		if _, err := tx.Shift(ctx, kind, current.ContainerID, ordering.CloseGap(current.Position), id); err != nil {
			return err
		}
		removed = current
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	s.invalidate(ctx, removed.BoardID)
	return nil
}

func (s *Service) invalidate(ctx context.Context, boardIDs ...string) {
	if s.cache == nil || len(boardIDs) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, boardIDs...); err != nil {
		s.log.WithError(err).WithField("board_ids", boardIDs).Warn("board tree cache invalidation failed")
	}
}

func validateID(field, value string) error {
	if !idPattern.MatchString(value) {
		return validationError(fmt.Sprintf("%s is malformed", field))
	}
	return nil
}

func idField(kind store.Kind) string {
	if kind == store.KindCard {
		return "cardId"
	}
	return "listId"
}

func containerField(kind store.Kind) string {
	if kind == store.KindCard {
		return "listId"
	}
	return "boardId"
}

func entityLookupError(kind store.Kind, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound(kind, id)
	}
	return err
}

func containerLookupError(kind store.Kind, containerID string, err error) error {
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if kind == store.KindCard {
		return notFound(store.KindList, containerID)
	}
	return boardNotFound(containerID)
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func toTree(rows store.BoardTree) boardtree.Tree {
	tree := boardtree.Tree{BoardID: rows.Board.ID, Lists: make([]boardtree.List, 0, len(rows.Lists))}
	byList := make(map[string][]boardtree.Card, len(rows.Lists))
	for _, card := range rows.Cards {
		byList[card.ListID] = append(byList[card.ListID], boardtree.Card{
			ID:       card.ID,
			ListID:   card.ListID,
			Title:    card.Title,
			Position: card.Position,
			Version:  card.Version,
		})
	}
	for _, list := range rows.Lists {
		cards := byList[list.ID]
		if cards == nil {
			cards = []boardtree.Card{}
		}
		tree.Lists = append(tree.Lists, boardtree.List{
			ID:       list.ID,
			BoardID:  list.BoardID,
			Title:    list.Title,
			Position: list.Position,
			Version:  list.Version,
			Cards:    cards,
		})
	}
	return tree
}

func toCard(placed store.Placement) boardtree.Card {
	return boardtree.Card{
		ID:       placed.ID,
		ListID:   placed.ContainerID,
		Title:    placed.Title,
		Position: placed.Position,
		Version:  placed.Version,
	}
}

func toList(placed store.Placement) boardtree.List {
	return boardtree.List{
		ID:       placed.ID,
		BoardID:  placed.ContainerID,
		Title:    placed.Title,
		Position: placed.Position,
		Version:  placed.Version,
		Cards:    []boardtree.Card{},
	}
}
