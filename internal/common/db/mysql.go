package db

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// MySQLDialect targets MySQL 8.
var MySQLDialect Dialect = mysqlDialect{}

// NewMySQL opens a MySQL pool.
// DSN format: "user:password@tcp(host:port)/dbname?parseTime=true&loc=Local"
func NewMySQL(cfg *Config) (*SQLDatabase, error) {
	return open("mysql", MySQLDialect, cfg)
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return "mysql" }

func (mysqlDialect) Rebind(query string) string { return query }

func (mysqlDialect) UniqueViolation(err error) (string, bool) {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return ExtractDuplicateKeyName(myErr.Message), true
	}
	return "", false
}

func (mysqlDialect) InsertIgnore(insert string) string {
	return strings.Replace(insert, "INSERT INTO", "INSERT IGNORE INTO", 1)
}

// ExtractDuplicateKeyName parses duplicate key name from MySQL error message.
func ExtractDuplicateKeyName(message string) string {
	if message == "" {
		return ""
	}
	const marker = "for key "
	idx := strings.LastIndex(message, marker)
	if idx == -1 {
		return ""
	}
	key := strings.TrimSpace(message[idx+len(marker):])
	return strings.Trim(key, " `\"'")
}
