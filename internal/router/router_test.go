package router

import (
	"testing"
)

func TestRouter_Route(t *testing.T) {
	r := NewRouter()

	tests := []struct {
		name     string
		query    string
		expected Destination
	}{
		{
			name:     "Basic SELECT",
			query:    "SELECT * FROM users",
			expected: Replica,
		},
		{
			name:     "Basic INSERT",
			query:    "INSERT INTO users (name) VALUES ('alice')",
			expected: Primary,
		},
		{
			name:     "SELECT FOR UPDATE",
			query:    "SELECT * FROM users FOR UPDATE",
			expected: Primary,
		},
		{
			name:     "CTE SELECT",
			query:    "WITH active_users AS (SELECT * FROM users WHERE active = true) SELECT * FROM active_users",
			expected: Replica,
		},
		{
			name:     "CTE INSERT",
			query:    "WITH moved_users AS (DELETE FROM users_temp RETURNING *) INSERT INTO users_active SELECT * FROM moved_users",
			expected: Primary,
		},
		{
			name:     "SHOW command",
			query:    "SHOW max_connections",
			expected: Replica,
		},
		{
			name:     "Mixed case query",
			query:    "select * FROM users",
			expected: Replica,
		},
		{
			name:     "Query with leading whitespace",
			query:    "   SELECT 1",
			expected: Replica,
		},
		{
			name:     "SELECT INTO",
			query:    "SELECT * INTO users_backup FROM users",
			expected: Primary,
		},
		{
			name:     "FOR UPDATE inside a literal",
			query:    "SELECT 'for update' AS note",
			expected: Replica,
		},
		{
			name:     "SELECT FOR SHARE",
			query:    "select id from accounts where id = 1 for share",
			expected: Primary,
		},
		{
			name:     "EXPLAIN",
			query:    "EXPLAIN SELECT * FROM users",
			expected: Replica,
		},
		{
			name:     "EXPLAIN ANALYZE",
			query:    "EXPLAIN ANALYZE DELETE FROM users",
			expected: Primary,
		},
		{
			name:     "Column named like a keyword",
			query:    "WITH t AS (SELECT updated_at FROM users) SELECT * FROM t",
			expected: Replica,
		},
		{
			name:     "Read followed by a write",
			query:    "SELECT 1; DELETE FROM whoami",
			expected: Primary,
		},
		{
			name:     "Two reads",
			query:    "SELECT 1; SELECT 2",
			expected: Primary,
		},
		{
			name:     "Trailing semicolon",
			query:    "SELECT * FROM users;",
			expected: Replica,
		},
		{
			name:     "Semicolon inside a literal",
			query:    "SELECT 'a; DELETE FROM users' AS note",
			expected: Replica,
		},
		{
			name:     "Empty query",
			query:    "   ",
			expected: Primary,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Route(tt.query); got != tt.expected {
				t.Errorf("Router.Route() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestIsTransactionStart(t *testing.T) {
	tests := []struct {
		query    string
		expected bool
	}{
		{"BEGIN", true},
		{"START TRANSACTION", true},
		{"SELECT 1", false},
		{"  begin  ", true},
		{"start transaction read only", true},
		{"SELECT 1; BEGIN", true},
		{"SELECT 'begin'", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsTransactionStart(tt.query); got != tt.expected {
			t.Errorf("IsTransactionStart(%q) = %v, want %v", tt.query, got, tt.expected)
		}
	}
}

func TestIsTransactionEnd(t *testing.T) {
	tests := []struct {
		query    string
		expected bool
	}{
		{"COMMIT", true},
		{"ROLLBACK", true},
		{"ABORT", true},
		{"end", true},
		{"INSERT INTO t VALUES (1); COMMIT", true},
		{"SELECT 1", false},
	}

	for _, tt := range tests {
		if got := IsTransactionEnd(tt.query); got != tt.expected {
			t.Errorf("IsTransactionEnd(%q) = %v, want %v", tt.query, got, tt.expected)
		}
	}
}

func TestIsSessionModification(t *testing.T) {
	tests := []struct {
		query    string
		expected bool
	}{
		{"SET search_path TO myschema", true},
		{"RESET ALL", true},
		{"  set names utf8mb4", true},
		{"USE reports", true},
		{"SELECT 1; SET autocommit = 0", true},
		{"SELECT 'set x'", false},
		{"SELECT 1", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsSessionModification(tt.query); got != tt.expected {
			t.Errorf("IsSessionModification(%q) = %v, want %v", tt.query, got, tt.expected)
		}
	}
}

func TestDestinationString(t *testing.T) {
	if Primary.String() != "primary" || Replica.String() != "replica" {
		t.Errorf("Destination.String() = %q/%q", Primary, Replica)
	}
}
