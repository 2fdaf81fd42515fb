package store

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// idColumns maps each table with allocated ids to its primary key column.
var idColumns = map[string]string{
	"contacts": "contact_id",
	"history":  "history_id",
}

const (
	// maxAllocAttempts bounds the collision re-check loop.
	maxAllocAttempts = 32

	// maxID is the legacy engine's long integer ceiling.
	maxID = math.MaxInt32
)

// idAllocator hands out primary keys for tables that have no native
// sequence. The check-then-reserve sequence runs under mu, and every id
// handed out is remembered so it is never issued twice by this process,
// even when the transaction that used it rolled back.
type idAllocator struct {
	mu         sync.Mutex
	lastIssued map[string]int64
}

func newIDAllocator() *idAllocator {
	return &idAllocator{lastIssued: make(map[string]int64)}
}

func (a *idAllocator) allocate(
	ctx context.Context, q querier, d Dialect, table string,
) (int64, error) {
	col, ok := idColumns[table]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	maxInTable, _, err := queryInt(ctx, q, fmt.Sprintf("SELECT MAX(%s) FROM %s", col, table))
	if err != nil {
		return 0, fmt.Errorf("reading max %s.%s: %w", table, col, err)
	}

	candidate := max(maxInTable, a.lastIssued[table]) + 1
	for attempt := 0; attempt < maxAllocAttempts; attempt++ {
		if candidate > maxID {
			break
		}

		taken, err := idTaken(ctx, q, d, table, col, candidate)
		if err != nil {
			return 0, err
		}
		if !taken {
			a.lastIssued[table] = candidate
			return candidate, nil
		}
		candidate++
	}

	return 0, fmt.Errorf("%w: %s after %d attempts", ErrIDAllocationExhausted, table, maxAllocAttempts)
}

// idTaken re-checks a candidate immediately before it is handed out.
func idTaken(
	ctx context.Context, q querier, d Dialect, table, col string, id int64,
) (bool, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = %s",
		col, table, col, d.MustFormat(KindInt, id),
	)
	rows, err := q.QueryxContext(ctx, query)
	if err != nil {
		return false, classify("checking id "+table, err)
	}
	n, err := RowCount(rows)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
