// Package sqlguard screens free-form admin SQL before it reaches the
// database. It is a keyword deny-list over the upper-cased query text, not a
// parser: it rejects statements that modify data or schema, statements that
// are not SELECTs, and queries that never mention the allowed table.
//
// The table check is a substring match, so a query that names the table in
// an unrelated position still passes. Callers that need stronger guarantees
// must also run the query through a read-only transaction (see package query)
// or a restricted database role.
package sqlguard

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Rejection reasons, matchable with errors.Is
var (
	ErrForbiddenKeyword = errors.New("forbidden keyword")
	ErrNotSelect        = errors.New("not a select query")
	ErrTableNotAllowed  = errors.New("table not allowed")
)

// BlockedKeywords are rejected anywhere in the comment-stripped query,
// including inside identifiers and string literals.
var BlockedKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER", "TRUNCATE",
	"REPLACE", "MERGE", "EXEC", "EXECUTE", "CALL", "UNION",
	"ATTACH", "DETACH", "PRAGMA",
}

var (
	lineComment  = regexp.MustCompile(`(?m)--.*$`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// RejectionError describes why a query was refused. Its message is meant to
// be shown to the admin as is.
type RejectionError struct {
	Reason  error
	Message string
}

func (e *RejectionError) Error() string {
	return e.Message
}

func (e *RejectionError) Unwrap() error {
	return e.Reason
}

// Guard validates queries against a single allowed table
type Guard struct {
	table string
	upper string
}

// New creates a Guard that only admits queries mentioning table
func New(table string) *Guard {
	return &Guard{table: table, upper: strings.ToUpper(table)}
}

// Table returns the allowed table name
func (g *Guard) Table() string {
	return g.table
}

// Validate returns nil when query is acceptable and a *RejectionError
// otherwise
func (g *Guard) Validate(query string) error {
	normalized := Normalize(query)

	for _, keyword := range BlockedKeywords {
		if strings.Contains(normalized, keyword) {
			return &RejectionError{
				Reason:  ErrForbiddenKeyword,
				Message: "Forbidden keyword: " + keyword,
			}
		}
	}

	if !strings.HasPrefix(normalized, "SELECT") {
		return &RejectionError{
			Reason:  ErrNotSelect,
			Message: "Only SELECT queries are allowed",
		}
	}

	if !strings.Contains(normalized, g.upper) {
		return &RejectionError{
			Reason:  ErrTableNotAllowed,
			Message: fmt.Sprintf("Only %s table is allowed", g.table),
		}
	}

	return nil
}

// Normalize upper-cases query and removes "--" line comments and "/* */"
// block comments
func Normalize(query string) string {
	q := strings.ToUpper(strings.TrimSpace(query))
	q = lineComment.ReplaceAllString(q, "")
	q = blockComment.ReplaceAllString(q, "")
	return strings.TrimSpace(q)
}
