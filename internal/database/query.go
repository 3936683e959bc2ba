package database

import (
	"strings"
	"unicode"
)

// QueryType is the coarse statement family used to tag metrics
type QueryType string

const (
	QueryTypeSelect      QueryType = "SELECT"
	QueryTypeInsert      QueryType = "INSERT"
	QueryTypeUpdate      QueryType = "UPDATE"
	QueryTypeDelete      QueryType = "DELETE"
	QueryTypeDDL         QueryType = "DDL"
	QueryTypeTransaction QueryType = "TRANSACTION"
	QueryTypeOther       QueryType = "OTHER"
)

var leadingKeywords = map[string]QueryType{
	"SELECT":   QueryTypeSelect,
	"INSERT":   QueryTypeInsert,
	"UPDATE":   QueryTypeUpdate,
	"DELETE":   QueryTypeDelete,
	"CREATE":   QueryTypeDDL,
	"ALTER":    QueryTypeDDL,
	"DROP":     QueryTypeDDL,
	"BEGIN":    QueryTypeTransaction,
	"COMMIT":   QueryTypeTransaction,
	"ROLLBACK": QueryTypeTransaction,
}

// ClassifyQuery maps the leading keyword of query to a QueryType.
// It is only used for tagging and never drives behaviour.
func ClassifyQuery(query string) QueryType {
	if qt, ok := leadingKeywords[leadingKeyword(query)]; ok {
		return qt
	}
	return QueryTypeOther
}

// leadingKeyword returns the first word of query, upper-cased
func leadingKeyword(query string) string {
	query = strings.TrimSpace(query)
	end := strings.IndexFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if end >= 0 {
		query = query[:end]
	}
	return strings.ToUpper(query)
}
