package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmayes77/clientflow/internal/config"
)

// placeholder returns the correct bind variable for the given index based on DB type.
// Postgres uses $1, $2... while MySQL and SQLite use ?
func placeholder(i int) string {
	db := config.GetSystemSettingString(config.DATABASE_TYPE)
	if db == config.DATABASE_TYPE_POSTGRES {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// placeholders returns n comma separated bind variables starting at index from.
func placeholders(from, n int) string {
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ", "
		}
		s += placeholder(from + i)
	}
	return s
}

// dateNotAfter returns a DB-specific SQL predicate that checks the datetime column is at or
// before the bound time. SQLite coerces both sides via julianday() so TEXT timestamps compare
// as instants rather than strings.
func dateNotAfter(column string, i int) string {
	db := config.GetSystemSettingString(config.DATABASE_TYPE)
	switch db {
	case config.DATABASE_TYPE_POSTGRES, config.DATABASE_TYPE_MYSQL:
		return fmt.Sprintf("%s <= %s", column, placeholder(i))
	default:
		return fmt.Sprintf("julianday(%s) <= julianday(%s)", column, placeholder(i))
	}
}

// dateBefore is the strict variant of dateNotAfter.
func dateBefore(column string, i int) string {
	db := config.GetSystemSettingString(config.DATABASE_TYPE)
	switch db {
	case config.DATABASE_TYPE_POSTGRES, config.DATABASE_TYPE_MYSQL:
		return fmt.Sprintf("%s < %s", column, placeholder(i))
	default:
		return fmt.Sprintf("julianday(%s) < julianday(%s)", column, placeholder(i))
	}
}

// dateAfter is the strict reverse of dateNotAfter.
func dateAfter(column string, i int) string {
	db := config.GetSystemSettingString(config.DATABASE_TYPE)
	switch db {
	case config.DATABASE_TYPE_POSTGRES, config.DATABASE_TYPE_MYSQL:
		return fmt.Sprintf("%s > %s", column, placeholder(i))
	default:
		return fmt.Sprintf("julianday(%s) > julianday(%s)", column, placeholder(i))
	}
}

func supportsReturning() bool {
	return config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_POSTGRES
}

func formatDateInDatabase(t time.Time) string {
	if config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_SQLLITE {
		return t.UTC().Format("2006-01-02 15:04:05.000")
	}
	if config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_MYSQL {
		return t.UTC().Format("2006-01-02 15:04:05.000000")
	}
	// PostgreSQL supports RFC3339
	return t.UTC().Format(time.RFC3339Nano)
}

func formatDateInDatabaseNull(t sql.NullTime) interface{} {
	if !t.Valid {
		return nil
	}
	return formatDateInDatabase(t.Time)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// insertReturningID runs an INSERT on a table with a generated integer key, using RETURNING
// where supported and LastInsertId otherwise.
func insertReturningID(ctx context.Context, db *sql.DB, base string, vals ...interface{}) (int64, error) {
	var id int64
	if supportsReturning() {
		err := db.QueryRowContext(ctx, base+" RETURNING id", vals...).Scan(&id)
		return id, err
	}
	res, err := db.ExecContext(ctx, base, vals...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
