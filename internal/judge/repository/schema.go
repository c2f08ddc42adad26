package repository

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"judgecore/internal/common/db"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Migrate creates the tables used by the pipeline if they do not exist.
func Migrate(ctx context.Context, database db.Database) error {
	name := "schema/" + database.Dialect().Name() + ".sql"
	data, err := schemaFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("load schema %s: %w", name, err)
	}
	for _, stmt := range strings.Split(string(data), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := database.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
