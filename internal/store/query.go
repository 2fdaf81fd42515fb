package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// QueryOne runs query and returns the first column of its only row,
// coerced to kind. It reports found=false, with no error, when the query
// yields no rows, and fails with ErrTooManyRows when it yields more than
// one. A NULL column is returned as a nil value with found=true.
func QueryOne(ctx context.Context, q sqlx.QueryerContext, query string, kind Kind) (any, bool, error) {
	rows, err := q.QueryxContext(ctx, query)
	if err != nil {
		return nil, false, classify("querying", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, false, classify("reading rows", err)
		}
		return nil, false, nil
	}

	cols, err := rows.SliceScan()
	if err != nil {
		return nil, false, classify("scanning row", err)
	}
	if len(cols) == 0 {
		return nil, false, fmt.Errorf("query returned no columns")
	}

	if rows.Next() {
		return nil, false, ErrTooManyRows
	}
	if err := rows.Err(); err != nil {
		return nil, false, classify("reading rows", err)
	}

	v, err := coerce(cols[0], kind)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// RowCount consumes rows and returns how many there were. rows is closed
// on return.
func RowCount(rows *sqlx.Rows) (int, error) {
	defer rows.Close()

	n := 0
	for rows.Next() {
		n++
	}
	if err := rows.Err(); err != nil {
		return n, classify("counting rows", err)
	}
	return n, nil
}

// coerce converts a driver value to the Go type for kind: string, int64,
// time.Time, bool or float64.
func coerce(v any, kind Kind) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}

	switch kind {
	case KindString:
		switch x := v.(type) {
		case string:
			return x, nil
		case time.Time:
			return x.UTC().Format(dateTimeLayout), nil
		default:
			return fmt.Sprint(x), nil
		}

	case KindInt:
		switch x := v.(type) {
		case int64:
			return x, nil
		case float64:
			return int64(x), nil
		case bool:
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("coercing %q to int: %w", x, err)
			}
			return n, nil
		}

	case KindDate, KindDateTime:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), nil
		case string:
			return ParseDate(x)
		}

	case KindBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case float64:
			return x != 0, nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return strconv.ParseBool(x)
			}
			return n != 0, nil
		}

	case KindCurrency:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int64:
			return float64(x), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, fmt.Errorf("coercing %q to currency: %w", x, err)
			}
			return f, nil
		}
	}

	return nil, fmt.Errorf("cannot coerce %T to %s", v, kind)
}

// queryInt is QueryOne for integer results, mapping absent and NULL to
// zero.
func queryInt(ctx context.Context, q sqlx.QueryerContext, query string) (int64, bool, error) {
	v, found, err := QueryOne(ctx, q, query, KindInt)
	if err != nil || !found || v == nil {
		return 0, found && v != nil, err
	}
	return v.(int64), true, nil
}
