package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"pinboard/api/internal/ordering"
)

const foreignKeyViolation = "23503"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// table maps a Kind onto its table, the column naming its container, and
// the container's own table and scope column.
type table struct {
	name           string
	container      string
	containerTable string
	scope          string
}

func tableFor(kind Kind) (table, error) {
	switch kind {
	case KindCard:
		return table{name: "cards", container: "list_id", containerTable: "lists", scope: "board_id"}, nil
	case KindList:
		return table{name: "lists", container: "board_id", containerTable: "boards", scope: "workspace_id"}, nil
	default:
		return table{}, fmt.Errorf("unknown kind %q", kind)
	}
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(PositionTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin position tx: %w", err)
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit position tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

// lockBoard serializes position writes per board for the rest of the tx.
func (t *pgTx) lockBoard(ctx context.Context, boardID string) error {
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, boardID); err != nil {
		return fmt.Errorf("lock board %s: %w", boardID, err)
	}
	return nil
}

func (t *pgTx) boardOf(ctx context.Context, kind Kind, id string) (string, error) {
	query := `SELECT board_id FROM lists WHERE id = $1`
	if kind == KindCard {
		query = `SELECT l.board_id FROM cards c JOIN lists l ON l.id = c.list_id WHERE c.id = $1`
	}
	var boardID string
	err := t.tx.QueryRowContext(ctx, query, id).Scan(&boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve board of %s %s: %w", kind, id, err)
	}
	return boardID, nil
}

func (t *pgTx) Lock(ctx context.Context, kind Kind, id string) (Placement, error) {
	if _, err := tableFor(kind); err != nil {
		return Placement{}, err
	}
	boardID, err := t.boardOf(ctx, kind, id)
	if err != nil {
		return Placement{}, err
	}
	if err := t.lockBoard(ctx, boardID); err != nil {
		return Placement{}, err
	}

	query := `SELECT id, board_id, board_id, title, position, version FROM lists WHERE id = $1 FOR UPDATE`
	if kind == KindCard {
		query = `
			SELECT c.id, c.list_id, l.board_id, c.title, c.position, c.version
			FROM cards c
			JOIN lists l ON l.id = c.list_id
			WHERE c.id = $1
			FOR UPDATE OF c
		`
	}
	placement, err := scanPlacement(kind, t.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Placement{}, ErrNotFound
	}
	if err != nil {
		return Placement{}, fmt.Errorf("lock %s %s: %w", kind, id, err)
	}
	return placement, nil
}

func (t *pgTx) Container(ctx context.Context, kind Kind, containerID string) (Scope, error) {
	tbl, err := tableFor(kind)
	if err != nil {
		return Scope{}, err
	}
	// A list's container is a board, which is its own board id.
	boardColumn := "id"
	if kind == KindCard {
		boardColumn = "board_id"
	}
	query := fmt.Sprintf(`SELECT id, %s, %s FROM %s WHERE id = $1`, tbl.scope, boardColumn, tbl.containerTable)

	var scope Scope
	err = t.tx.QueryRowContext(ctx, query, containerID).Scan(&scope.ContainerID, &scope.ScopeID, &scope.BoardID)
	if errors.Is(err, sql.ErrNoRows) {
		return Scope{}, ErrNotFound
	}
	if err != nil {
		return Scope{}, fmt.Errorf("load %s container %s: %w", kind, containerID, err)
	}
	if err := t.lockBoard(ctx, scope.BoardID); err != nil {
		return Scope{}, err
	}
	return scope, nil
}

func (t *pgTx) Shift(ctx context.Context, kind Kind, containerID string, shift ordering.Shift, excludeID string) (int, error) {
	if shift.Empty() {
		return 0, nil
	}
	tbl, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET position = position + $2, updated_at = NOW()
		WHERE %s = $1
		  AND id <> $3
		  AND position >= $4
		  AND ($5::int < 0 OR position <= $5::int)
	`, tbl.name, tbl.container)

	result, err := t.tx.ExecContext(ctx, query, containerID, shift.Delta, excludeID, shift.From, shift.To)
	if err != nil {
		return 0, fmt.Errorf("shift %s in %s: %w", tbl.name, containerID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (t *pgTx) Place(ctx context.Context, kind Kind, id, containerID string, position int) (Placement, error) {
	query := `
		UPDATE lists
		SET position = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND board_id = $2
		RETURNING id, board_id, board_id, title, position, version
	`
	if kind == KindCard {
		query = `
			UPDATE cards AS c
			SET list_id = $2, position = $3, version = c.version + 1, updated_at = NOW()
			FROM lists l
			WHERE c.id = $1 AND l.id = $2
			RETURNING c.id, c.list_id, l.board_id, c.title, c.position, c.version
		`
	}
	placement, err := scanPlacement(kind, t.tx.QueryRowContext(ctx, query, id, containerID, position))
	if errors.Is(err, sql.ErrNoRows) {
		return Placement{}, ErrNotFound
	}
	if err != nil {
		return Placement{}, fmt.Errorf("place %s %s: %w", kind, id, err)
	}
	return placement, nil
}

func (t *pgTx) MaxPosition(ctx context.Context, kind Kind, containerID string) (int, error) {
	tbl, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`SELECT COALESCE(MAX(position), -1) FROM %s WHERE %s = $1`, tbl.name, tbl.container)
	var highest int
	if err := t.tx.QueryRowContext(ctx, query, containerID).Scan(&highest); err != nil {
		return 0, fmt.Errorf("max position in %s: %w", containerID, err)
	}
	return highest, nil
}

func (t *pgTx) Insert(ctx context.Context, kind Kind, entity Entity) (Placement, error) {
	tbl, err := tableFor(kind)
	if err != nil {
		return Placement{}, err
	}
	scope, err := t.Container(ctx, kind, entity.ContainerID)
	if err != nil {
		return Placement{}, err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, %s, title, position)
		VALUES ($1, $2, $3, $4)
		RETURNING id, %s, title, position, version
	`, tbl.name, tbl.container, tbl.container)

	placement := Placement{Kind: kind, BoardID: scope.BoardID}
	err = t.tx.QueryRowContext(ctx, query, entity.ID, entity.ContainerID, entity.Title, entity.Position).
		Scan(&placement.ID, &placement.ContainerID, &placement.Title, &placement.Position, &placement.Version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return Placement{}, ErrNotFound
		}
		return Placement{}, fmt.Errorf("insert %s: %w", kind, err)
	}
	return placement, nil
}

func (t *pgTx) Delete(ctx context.Context, kind Kind, id string) error {
	tbl, err := tableFor(kind)
	if err != nil {
		return err
	}
	result, err := t.tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, tbl.name), id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPlacement(kind Kind, row *sql.Row) (Placement, error) {
	placement := Placement{Kind: kind}
	err := row.Scan(
		&placement.ID,
		&placement.ContainerID,
		&placement.BoardID,
		&placement.Title,
		&placement.Position,
		&placement.Version,
	)
	return placement, err
}

func (s *PostgresStore) GetBoard(ctx context.Context, boardID string) (Board, error) {
	var board Board
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, created_at FROM boards WHERE id = $1
	`, boardID).Scan(&board.ID, &board.WorkspaceID, &board.Name, &board.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Board{}, ErrNotFound
	}
	if err != nil {
		return Board{}, fmt.Errorf("get board: %w", err)
	}
	return board, nil
}

func (s *PostgresStore) BoardTree(ctx context.Context, boardID string) (BoardTree, error) {
	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return BoardTree{}, err
	}
	tree := BoardTree{Board: board}

	listRows, err := s.db.QueryContext(ctx, `
		SELECT id, board_id, title, position, version, created_at, updated_at
		FROM lists
		WHERE board_id = $1
		ORDER BY position ASC, created_at ASC, id ASC
	`, boardID)
	if err != nil {
		return BoardTree{}, fmt.Errorf("list lists: %w", err)
	}
	defer listRows.Close()

	for listRows.Next() {
		var item List
		if err := listRows.Scan(&item.ID, &item.BoardID, &item.Title, &item.Position, &item.Version, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return BoardTree{}, err
		}
		tree.Lists = append(tree.Lists, item)
	}
	if err := listRows.Err(); err != nil {
		return BoardTree{}, err
	}

	cardRows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.list_id, c.title, c.position, c.version, c.created_at, c.updated_at
		FROM cards c
		JOIN lists l ON l.id = c.list_id
		WHERE l.board_id = $1
		ORDER BY c.list_id ASC, c.position ASC, c.created_at ASC, c.id ASC
	`, boardID)
	if err != nil {
		return BoardTree{}, fmt.Errorf("list cards: %w", err)
	}
	defer cardRows.Close()

	for cardRows.Next() {
		var item Card
		if err := cardRows.Scan(&item.ID, &item.ListID, &item.Title, &item.Position, &item.Version, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return BoardTree{}, err
		}
		tree.Cards = append(tree.Cards, item)
	}
	return tree, cardRows.Err()
}

func (s *PostgresStore) InsertWorkspace(ctx context.Context, workspace Workspace) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, workspace.ID, workspace.Name)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertBoard(ctx context.Context, board Board) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO boards (id, workspace_id, name) VALUES ($1, $2, $3)
	`, board.ID, board.WorkspaceID, board.Name)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return ErrNotFound
		}
		return fmt.Errorf("insert board: %w", err)
	}
	return nil
}

func (s *PostgresStore) HasBoards(ctx context.Context) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM boards)`).Scan(&exists); err != nil {
		return false, fmt.Errorf("check boards: %w", err)
	}
	return exists, nil
}

// Anomalies reports every container whose positions are not exactly 0..n-1.
func (s *PostgresStore) Anomalies(ctx context.Context) ([]Anomaly, error) {
	var anomalies []Anomaly
	for _, kind := range []Kind{KindList, KindCard} {
		tbl, _ := tableFor(kind)
		query := fmt.Sprintf(`
			SELECT %[2]s, COUNT(*), MIN(position), MAX(position), COUNT(DISTINCT position)
			FROM %[1]s
			GROUP BY %[2]s
			HAVING MIN(position) <> 0
			    OR MAX(position) <> COUNT(*) - 1
			    OR COUNT(DISTINCT position) <> COUNT(*)
			ORDER BY %[2]s
		`, tbl.name, tbl.container)
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("scan %s positions: %w", tbl.name, err)
		}
		for rows.Next() {
			item := Anomaly{Kind: kind}
			if err := rows.Scan(&item.ContainerID, &item.Count, &item.MinPosition, &item.MaxPosition, &item.Distinct); err != nil {
				rows.Close()
				return nil, err
			}
			anomalies = append(anomalies, item)
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
	}
	return anomalies, nil
}

// Compact renumbers every container to 0..n-1 keeping the current order. It
// takes every board's position lock first, in id order, so it serializes
// with reorders, creates and deletes.
func (s *PostgresStore) Compact(ctx context.Context) (Compaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Compaction{}, fmt.Errorf("begin compact tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext(id)) FROM (SELECT id FROM boards ORDER BY id) b`); err != nil {
		return Compaction{}, fmt.Errorf("lock boards: %w", err)
	}

	var result Compaction
	boards := map[string]bool{}
	for _, kind := range []Kind{KindList, KindCard} {
		tbl, _ := tableFor(kind)
		boardExpr := "t.board_id"
		if kind == KindCard {
			boardExpr = "(SELECT l.board_id FROM lists l WHERE l.id = t.list_id)"
		}
		query := fmt.Sprintf(`
			UPDATE %[1]s AS t
			SET position = r.rn - 1, updated_at = NOW()
			FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY %[2]s ORDER BY position, created_at, id) AS rn
				FROM %[1]s
			) r
			WHERE t.id = r.id AND t.position <> r.rn - 1
			RETURNING %[3]s
		`, tbl.name, tbl.container, boardExpr)
		rows, err := tx.QueryContext(ctx, query)
		if err != nil {
			return Compaction{}, fmt.Errorf("compact %s: %w", tbl.name, err)
		}
		for rows.Next() {
			var boardID string
			if err := rows.Scan(&boardID); err != nil {
				rows.Close()
				return Compaction{}, err
			}
			boards[boardID] = true
			result.Rows++
		}
		if err := rows.Close(); err != nil {
			return Compaction{}, err
		}
		if err := rows.Err(); err != nil {
			return Compaction{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Compaction{}, fmt.Errorf("commit compact tx: %w", err)
	}
	result.Boards = sortedKeys(boards)
	return result, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
