package store

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

// Kind selects which sibling set a position operation targets.
type Kind string

const (
	KindCard Kind = "card"
	KindList Kind = "list"
)

type Workspace struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

type Board struct {
	ID          string
	WorkspaceID string
	Name        string
	CreatedAt   time.Time
}

type List struct {
	ID        string
	BoardID   string
	Title     string
	Position  int
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Card struct {
	ID        string
	ListID    string
	Title     string
	Position  int
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BoardTree is a board with its lists and cards, each ordered by position.
type BoardTree struct {
	Board Board
	Lists []List
	Cards []Card
}

// Placement is where an ordered entity currently sits. For a card the
// container is its list; for a list it is its board.
type Placement struct {
	Kind        Kind
	ID          string
	ContainerID string
	BoardID     string
	Title       string
	Position    int
	Version     int
}

// Scope describes a container and the parent scope moves must stay within:
// the board for a list of cards, the workspace for a board of lists.
type Scope struct {
	ContainerID string
	ScopeID     string
	BoardID     string
}

// Entity is a new list or card to insert.
type Entity struct {
	ID          string
	ContainerID string
	Title       string
	Position    int
}

// Anomaly is a container whose positions are not exactly {0..n-1}.
type Anomaly struct {
	Kind        Kind
	ContainerID string
	Count       int
	MinPosition int
	MaxPosition int
	Distinct    int
}

// Compaction is the outcome of a Compact run.
type Compaction struct {
	Rows   int
	Boards []string
}
