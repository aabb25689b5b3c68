package db

import (
	"fmt"

	"taskflow/internal/auth"
	"taskflow/internal/board"
	"taskflow/internal/jobs"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

// Models lists every table the service owns.
func Models() []any {
	models := []any{&auth.User{}, &jobs.Job{}}
	return append(models, board.Models()...)
}

// AutoMigrateAndIndexes creates the tables, then the postgres-only indexes.
// Other dialects only get the tables.
func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(Models()...); err != nil {
		return err
	}
	if gdb.Dialector.Name() != "postgres" {
		return nil
	}

	stmts := []string{
		`create index if not exists idx_columns_project_pos on columns(project_id, position);`,
		`create index if not exists idx_tasks_column_pos on tasks(column_id, position);`,
		// label filter (GIN for text[])
		`create index if not exists idx_tasks_labels on tasks using gin (labels);`,
		`create index if not exists idx_comments_task_created on comments(task_id, created_at);`,
		`create index if not exists idx_jobs_due on jobs(status, run_at);`,
		`create index if not exists idx_jobs_lock on jobs(status, locked_at);`,
		`create index if not exists idx_jobs_ref_pending on jobs(type, ref_key) where status = 'PENDING';`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	return nil
}
