package db

import (
	"errors"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// PostgreSQLDialect targets PostgreSQL 12+.
var PostgreSQLDialect Dialect = postgresDialect{}

// NewPostgreSQL opens a PostgreSQL pool.
// DSN format: "user=postgres password=password host=localhost port=5432 dbname=dbname sslmode=disable"
func NewPostgreSQL(cfg *Config) (*SQLDatabase, error) {
	return open("postgres", PostgreSQLDialect, cfg)
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

// Rebind rewrites '?' placeholders to $1..$n, leaving quoted literals alone.
func (postgresDialect) Rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			inQuote = !inQuote
			b.WriteByte(ch)
		case ch == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

func (postgresDialect) UniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pqErr.Constraint, true
	}
	return "", false
}

func (postgresDialect) InsertIgnore(insert string) string {
	return strings.TrimRight(strings.TrimSpace(insert), ";") + " ON CONFLICT DO NOTHING"
}
