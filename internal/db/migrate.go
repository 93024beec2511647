package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed sql/pre_automigrate.sql
var preAutoMigrateSQL string

//go:embed sql/post_automigrate.sql
var postAutoMigrateSQL string

// autoMigrate runs the schema/extension bootstrap, gorm's table sync, then
// the constraints gorm cannot express.
func (p *Pool) autoMigrate(ctx context.Context) error {
	if p == nil || p.db == nil {
		return errPoolNotInitialized
	}

	if err := executeMigrationSQL(ctx, p, "pre-auto-migrate", preAutoMigrateSQL); err != nil {
		return err
	}
	if err := p.db.WithContext(ctx).AutoMigrate(autoMigrateModels()...); err != nil {
		return fmt.Errorf("gorm auto-migrate models: %w", err)
	}
	return executeMigrationSQL(ctx, p, "post-auto-migrate", postAutoMigrateSQL)
}

func executeMigrationSQL(ctx context.Context, q Querier, label, sqlText string) error {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return nil
	}
	if _, err := q.Exec(ctx, trimmed); err != nil {
		return fmt.Errorf("execute %s SQL: %w", label, err)
	}
	return nil
}
