// Package schema owns the relational layout of the contest service and applies
// it to any supported dialect.
package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"eduoj/internal/common/db"

	"github.com/go-sql-driver/mysql"
)

// Column type fragments substituted into the DDL templates below.
type dialectTypes struct {
	pk       string
	time     string
	boolean  string
	longText string
	suffix   string
}

var typesByDialect = map[db.Dialect]dialectTypes{
	db.DialectMySQL: {
		pk:       "BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY",
		time:     "DATETIME(6)",
		boolean:  "TINYINT(1)",
		longText: "MEDIUMTEXT",
		suffix:   " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
	},
	db.DialectPostgres: {
		pk:       "BIGSERIAL PRIMARY KEY",
		time:     "TIMESTAMPTZ",
		boolean:  "BOOLEAN",
		longText: "TEXT",
	},
	db.DialectSQLite: {
		pk:       "INTEGER PRIMARY KEY AUTOINCREMENT",
		time:     "DATETIME",
		boolean:  "BOOLEAN",
		longText: "TEXT",
	},
}

var tables = []string{
	`CREATE TABLE IF NOT EXISTS code_artifacts (
		id {PK},
		author_id BIGINT NOT NULL,
		language VARCHAR(32) NOT NULL,
		filename VARCHAR(255) NOT NULL,
		object_key VARCHAR(255) NOT NULL,
		digest CHAR(64) NOT NULL,
		size_bytes BIGINT NOT NULL,
		code {LONGTEXT} NOT NULL,
		created_at {TIME} NOT NULL
	){SUFFIX}`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id {PK},
		owner_id BIGINT NOT NULL,
		title VARCHAR(255) NOT NULL,
		statement {LONGTEXT} NOT NULL,
		input_example TEXT NOT NULL,
		output_example TEXT NOT NULL,
		time_limit_sec INT NOT NULL,
		memory_limit_mb INT NOT NULL,
		answer_type VARCHAR(16) NOT NULL,
		execute_type VARCHAR(16) NOT NULL,
		grading VARCHAR(32) NOT NULL,
		version INT NOT NULL,
		is_validated {BOOL} NOT NULL,
		reference_artifact_id BIGINT NULL,
		course_id BIGINT NULL,
		difficulty INT NOT NULL,
		visible {BOOL} NOT NULL,
		created_at {TIME} NOT NULL,
		updated_at {TIME} NOT NULL
	){SUFFIX}`,
	`CREATE TABLE IF NOT EXISTS task_tests (
		id {PK},
		task_id BIGINT NOT NULL,
		content {LONGTEXT} NOT NULL,
		answer {LONGTEXT} NOT NULL,
		max_points INT NOT NULL,
		created_at {TIME} NOT NULL
	){SUFFIX}`,
	`CREATE TABLE IF NOT EXISTS contests (
		id {PK},
		owner_id BIGINT NOT NULL,
		course_id BIGINT NULL,
		title VARCHAR(255) NOT NULL,
		description TEXT NOT NULL,
		start_time {TIME} NOT NULL,
		duration_sec BIGINT NOT NULL,
		status VARCHAR(32) NOT NULL,
		created_at {TIME} NOT NULL,
		updated_at {TIME} NOT NULL
	){SUFFIX}`,
	`CREATE TABLE IF NOT EXISTS contest_tasks (
		contest_id BIGINT NOT NULL,
		task_id BIGINT NOT NULL,
		position INT NOT NULL,
		PRIMARY KEY (contest_id, task_id)
	){SUFFIX}`,
	`CREATE TABLE IF NOT EXISTS contest_participants (
		id {PK},
		contest_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		penalty BIGINT NOT NULL,
		deleted {BOOL} NOT NULL,
		delete_reason TEXT NOT NULL,
		created_at {TIME} NOT NULL,
		updated_at {TIME} NOT NULL,
		CONSTRAINT uk_contest_user UNIQUE (contest_id, user_id)
	){SUFFIX}`,
	`CREATE TABLE IF NOT EXISTS submissions (
		id {PK},
		author_id BIGINT NOT NULL,
		task_id BIGINT NOT NULL,
		artifact_id BIGINT NOT NULL,
		contest_id BIGINT NULL,
		participant_id BIGINT NULL,
		course_id BIGINT NULL,
		event_type VARCHAR(32) NOT NULL,
		status VARCHAR(32) NOT NULL,
		verdict VARCHAR(32) NOT NULL,
		verdict_text TEXT NOT NULL,
		points BIGINT NOT NULL,
		current_test_index INT NOT NULL,
		attempt INT NOT NULL,
		task_version INT NOT NULL DEFAULT 0,
		created_at {TIME} NOT NULL,
		updated_at {TIME} NOT NULL
	){SUFFIX}`,
}

var indexes = []string{
	`CREATE INDEX idx_task_tests_task ON task_tests (task_id, id)`,
	`CREATE INDEX idx_submissions_participant_task ON submissions (contest_id, participant_id, task_id)`,
	`CREATE INDEX idx_submissions_task_status ON submissions (task_id, status)`,
	`CREATE INDEX idx_participants_contest ON contest_participants (contest_id, deleted)`,
}

// Statements renders the DDL for a dialect in apply order.
func Statements(dialect db.Dialect) ([]string, error) {
	types, ok := typesByDialect[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	replacer := strings.NewReplacer(
		"{PK}", types.pk,
		"{TIME}", types.time,
		"{BOOL}", types.boolean,
		"{LONGTEXT}", types.longText,
		"{SUFFIX}", types.suffix,
	)
	out := make([]string, 0, len(tables)+len(indexes))
	for _, stmt := range tables {
		out = append(out, replacer.Replace(stmt))
	}
	for _, stmt := range indexes {
		if dialect != db.DialectMySQL {
			stmt = strings.Replace(stmt, "CREATE INDEX", "CREATE INDEX IF NOT EXISTS", 1)
		}
		out = append(out, stmt)
	}
	return out, nil
}

// Migrate creates missing tables and indexes. It is safe to run repeatedly.
func Migrate(ctx context.Context, database db.Database) error {
	stmts, err := Statements(database.Dialect())
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := database.Exec(ctx, stmt); err != nil {
			if isDuplicateIndex(err) {
				continue
			}
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// MySQL has no CREATE INDEX IF NOT EXISTS; error 1061 means it is already there.
func isDuplicateIndex(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1061
}
