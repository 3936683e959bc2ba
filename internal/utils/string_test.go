package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"select 1", 20, "select 1"},
		{"select 1", 0, "select 1"},
		{"SELECT * FROM users", 10, "SELECT ..."},
		{"héllo wörld", 8, "héllo..."},
		{"abcdef", 2, "ab"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Truncate(tt.in, tt.max), tt.in)
	}
}

func TestMaskDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"postgres://app:secret@db:5432/main?sslmode=disable", "postgres://app:xxxxx@db:5432/main?sslmode=disable"},
		{"mongodb://localhost:27017", "mongodb://localhost:27017"},
		{"app:secret@tcp(db:3306)/main?parseTime=true", "app:xxxxx@tcp(db:3306)/main?parseTime=true"},
		{"host=db user=app password=secret dbname=main", "host=db user=app password=xxxxx dbname=main"},
		{"file:test.db?cache=shared", "file:test.db?cache=shared"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskDSN(tt.in), tt.in)
	}
}
