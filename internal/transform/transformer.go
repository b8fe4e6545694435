package transform

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/haasonsaas/boardsync/pkg/models"
)

var (
	// ErrVersionPruned means an operation's parentVersion predates the
	// board's retained history; the client must resynchronize from a fresh
	// snapshot rather than have the server guess.
	ErrVersionPruned = errors.New("transform: parent version pruned from history")

	// ErrVersionAhead means an operation claims a parentVersion the board
	// has never assigned. Accepting it would let one malformed client skew
	// the pruning watermark for every member, so it is rejected outright.
	ErrVersionAhead = errors.New("transform: parent version ahead of board version")
)

// Transformer owns per-board operation histories and is the single
// serialization point for version assignment. Operations are stored in a
// primary table keyed by id with a per-board version-ordered index alongside,
// so pruning and lookups stay explicit and bounded.
type Transformer struct {
	mu        sync.Mutex
	byID      map[string]models.Operation
	boards    map[string]*boardIndex
	logger    *slog.Logger
	onDegrade func()
}

type boardIndex struct {
	order          []string // operation ids, version ascending
	currentVersion int64
	prunedBelow    int64
}

// New creates an empty transformer. The logger may be nil.
func New(logger *slog.Logger) *Transformer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transformer{
		byID:   map[string]models.Operation{},
		boards: map[string]*boardIndex{},
		logger: logger.With("component", "transform"),
	}
}

// OnDegrade registers a hook called whenever a malformed operation is
// degraded to a no-op instead of rejected.
func (t *Transformer) OnDegrade(fn func()) {
	t.mu.Lock()
	t.onDegrade = fn
	t.mu.Unlock()
}

// Apply folds a client operation through every accepted operation since its
// parentVersion, assigns it the next board version, and appends it to
// history. Returns the transformed operation and whether any fold changed it.
//
// Re-submitting an already-accepted operation id returns the accepted value
// unchanged; the channel is at-least-once and duplicates must not re-apply.
//
// A move or resize missing the numeric fields its transform needs can never
// fold correctly, so it is degraded to a versioned no-op rather than either
// rejected (which would strand the client's optimistic state) or applied
// blind.
func (t *Transformer) Apply(boardID string, op models.Operation) (models.Operation, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byID[op.ID]; ok {
		t.logger.Debug("duplicate operation id, returning accepted value", "op_id", op.ID)
		return existing, false, nil
	}

	b := t.boards[boardID]
	if b == nil {
		b = &boardIndex{}
		t.boards[boardID] = b
	}

	if op.ParentVersion < b.prunedBelow {
		return models.Operation{}, false, ErrVersionPruned
	}
	if op.ParentVersion > b.currentVersion {
		return models.Operation{}, false, ErrVersionAhead
	}

	if reason := noopReason(op); reason != "" {
		t.logger.Warn("degrading malformed operation to no-op",
			"op_id", op.ID, "type", string(op.Type), "reason", reason)
		op.Type = models.OpUpdate
		op.Data = nil
		if t.onDegrade != nil {
			t.onDegrade()
		}
	}

	folded := op
	transformed := false
	for _, id := range b.order {
		accepted, ok := t.byID[id]
		if !ok || accepted.Version <= op.ParentVersion {
			continue
		}
		next, changed := TransformAgainst(folded, accepted)
		if changed {
			folded = next
			transformed = true
		}
	}

	folded.BoardID = boardID
	folded.Version = b.currentVersion + 1
	b.currentVersion = folded.Version
	b.order = append(b.order, folded.ID)
	t.byID[folded.ID] = folded

	return folded, transformed, nil
}

// OpsSince returns accepted operations with version greater than the given
// one, ordered by version ascending.
func (t *Transformer) OpsSince(boardID string, version int64) []models.Operation {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.boards[boardID]
	if b == nil {
		return nil
	}
	var out []models.Operation
	for _, id := range b.order {
		if op, ok := t.byID[id]; ok && op.Version > version {
			out = append(out, op)
		}
	}
	return out
}

// CurrentVersion returns the board's latest assigned version, 0 if empty.
func (t *Transformer) CurrentVersion(boardID string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b := t.boards[boardID]; b != nil {
		return b.currentVersion
	}
	return 0
}

// Seed loads previously accepted operations into a board's history, e.g. from
// the durable store at startup. Input must be version ascending.
func (t *Transformer) Seed(boardID string, ops []models.Operation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.boards[boardID]
	if b == nil {
		b = &boardIndex{}
		t.boards[boardID] = b
	}
	for _, op := range ops {
		if _, ok := t.byID[op.ID]; ok {
			continue
		}
		t.byID[op.ID] = op
		b.order = append(b.order, op.ID)
		if op.Version > b.currentVersion {
			b.currentVersion = op.Version
		}
	}
}

// Cleanup drops history entries below the given version. Callers must only
// invoke this once no connected client could still transform against the
// dropped range, e.g. the lowest acknowledged version across members.
func (t *Transformer) Cleanup(boardID string, beforeVersion int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.boards[boardID]
	if b == nil {
		return
	}
	kept := b.order[:0]
	dropped := 0
	for _, id := range b.order {
		op, ok := t.byID[id]
		if !ok {
			continue
		}
		if op.Version < beforeVersion {
			delete(t.byID, id)
			dropped++
			continue
		}
		kept = append(kept, id)
	}
	b.order = kept
	if beforeVersion > b.prunedBelow {
		b.prunedBelow = beforeVersion
	}
	if dropped > 0 {
		t.logger.Debug("pruned operation history",
			"board_id", boardID, "below_version", beforeVersion, "dropped", dropped)
	}
}

// noopReason reports why an operation cannot participate in transformation,
// empty when it can.
func noopReason(op models.Operation) string {
	requireNumbers := func(keys ...string) string {
		for _, k := range keys {
			if _, ok := op.DataNumber(k); !ok {
				return "missing numeric field " + k
			}
		}
		return ""
	}
	switch op.Type {
	case models.OpMove:
		return requireNumbers("x", "y", "originalX", "originalY")
	case models.OpResize:
		return requireNumbers("width", "height", "originalWidth", "originalHeight")
	default:
		return ""
	}
}

// Boards returns the ids of all boards with history, sorted for determinism.
func (t *Transformer) Boards() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.boards))
	for id := range t.boards {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HistoryLen returns the number of retained operations for a board.
func (t *Transformer) HistoryLen(boardID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b := t.boards[boardID]; b != nil {
		return len(b.order)
	}
	return 0
}
