package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// NewMySQL opens a MySQL pool with default settings.
// DSN format: "user:password@tcp(host:port)/dbname?parseTime=true&loc=UTC"
func NewMySQL(dsn string) (*SQLDatabase, error) {
	return NewMySQLWithConfig(&PoolConfig{DSN: dsn})
}

// NewMySQLWithConfig opens a MySQL pool. DATETIME columns are scanned into
// time.Time, so the DSN must enable parseTime.
func NewMySQLWithConfig(config *PoolConfig) (*SQLDatabase, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	parsed, err := mysql.ParseDSN(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	if !parsed.ParseTime {
		return nil, fmt.Errorf("mysql dsn must set parseTime=true")
	}
	return open(DialectMySQL, config)
}

// mysqlDuplicateKey inspects a MySQL duplicate key error and returns the key name.
func mysqlDuplicateKey(err error) (string, bool) {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return extractDuplicateKeyName(myErr.Message), true
	}
	return "", false
}

// extractDuplicateKeyName parses duplicate key name from MySQL error message.
func extractDuplicateKeyName(message string) string {
	const marker = "for key "
	idx := strings.LastIndex(message, marker)
	if idx == -1 {
		return ""
	}
	key := strings.TrimSpace(message[idx+len(marker):])
	key = strings.Trim(key, " `\"'")
	// MySQL 8 prefixes the table name: 'contest_participants.uk_contest_user'
	if dot := strings.LastIndex(key, "."); dot != -1 {
		key = key[dot+1:]
	}
	return key
}
