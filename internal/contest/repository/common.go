package repository

import (
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Optional references are stored as NULL and surface as zero in the model.
func nullableID(id int64) interface{} {
	if id <= 0 {
		return nil
	}
	return id
}

func idOrZero(v sql.NullInt64) int64 {
	if !v.Valid {
		return 0
	}
	return v.Int64
}

func now() time.Time {
	return time.Now().UTC()
}

// placeholders renders "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func idKey(prefix string, id int64) string {
	return prefix + strconv.FormatInt(id, 10)
}

func marshalJSON[T any](v T) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalJSON[T any](raw string) (T, error) {
	var v T
	err := json.Unmarshal([]byte(raw), &v)
	return v, err
}
