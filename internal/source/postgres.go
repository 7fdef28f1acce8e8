package source

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/andresuchdata/mixopt/internal/normalize"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresLoader reads each input table with a plain SELECT. Column names
// become the header, so the usual column resolution applies.
type PostgresLoader struct {
	tables
	db    *sqlx.DB
	names map[string]string
}

// OpenPostgresLoader connects through the pgx stdlib driver.
func OpenPostgresLoader(dsn string, names map[string]string) (*PostgresLoader, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewPostgresLoader(db, names), nil
}

func NewPostgresLoader(db *sqlx.DB, names map[string]string) *PostgresLoader {
	l := &PostgresLoader{db: db, names: names}
	l.fetch = l.read
	return l
}

func (l *PostgresLoader) Close() error {
	return l.db.Close()
}

func (l *PostgresLoader) read(ctx context.Context, table string) (*normalize.Table, error) {
	name, ok := l.names[table]
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: no relation configured for %s", ErrTableMissing, table)
	}

	var exists bool
	if err := l.db.GetContext(ctx, &exists, `SELECT to_regclass($1) IS NOT NULL`, name); err != nil {
		return nil, fmt.Errorf("check relation %s: %w", name, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: relation %s", ErrTableMissing, name)
	}

	rows, err := l.db.QueryxContext(ctx, "SELECT * FROM "+pq.QuoteIdentifier(name))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	defer rows.Close()

	header, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	t := &normalize.Table{Name: table, Source: "postgres:" + name, Locale: normalize.LocalePlain, Header: header}
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", name, err)
		}
		rec := make([]string, len(values))
		for i, v := range values {
			rec[i] = cellText(v)
		}
		t.Rows = append(t.Rows, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", name, err)
	}
	return t, nil
}

// cellText renders a database value the way the normalizer parses it:
// numbers without grouping, dates as ISO days.
func cellText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
