package router

import (
	"strings"
	"unicode"
)

type Destination int

const (
	Primary Destination = iota
	Replica
)

func (d Destination) String() string {
	if d == Replica {
		return "replica"
	}
	return "primary"
}

type Router struct {
}

func NewRouter() *Router {
	return &Router{}
}

// Route decides whether a statement can run on a read handle. Anything it
// does not recognise as read-only goes to the primary, and so does a query
// holding more than one statement.
func (r *Router) Route(query string) Destination {
	stmts := statements(query)
	if len(stmts) != 1 {
		return Primary
	}
	words := stmts[0]

	if hasSequence(words, "FOR", "UPDATE") || hasSequence(words, "FOR", "SHARE") {
		return Primary
	}

	switch words[0] {
	case "SELECT", "VALUES", "TABLE":
		if contains(words, "INTO") {
			return Primary
		}
		return Replica
	case "SHOW", "DESCRIBE", "DESC":
		return Replica
	case "EXPLAIN":
		if contains(words, "ANALYZE") {
			return Primary
		}
		return Replica
	case "WITH":
		// a CTE is read-only unless one of its parts modifies data
		for _, w := range words {
			switch w {
			case "INSERT", "UPDATE", "DELETE", "MERGE", "INTO":
				return Primary
			}
		}
		return Replica
	}
	return Primary
}

// IsTransactionStart reports whether any statement in query opens a
// transaction.
func IsTransactionStart(query string) bool {
	return anyStatement(query, func(words []string) bool {
		return words[0] == "BEGIN" || hasSequence(words[:min(2, len(words))], "START", "TRANSACTION")
	})
}

// IsTransactionEnd reports whether any statement in query ends a transaction.
func IsTransactionEnd(query string) bool {
	return anyStatement(query, func(words []string) bool {
		switch words[0] {
		case "COMMIT", "ROLLBACK", "ABORT", "END":
			return true
		}
		return false
	})
}

// IsSessionModification reports statements that change per-connection state,
// which must not land on a connection handed back to a shared pool unnoticed.
func IsSessionModification(query string) bool {
	return anyStatement(query, func(words []string) bool {
		switch words[0] {
		case "SET", "RESET", "DISCARD", "LISTEN", "UNLISTEN", "USE":
			return true
		}
		return false
	})
}

func anyStatement(query string, match func(words []string) bool) bool {
	for _, words := range statements(query) {
		if match(words) {
			return true
		}
	}
	return false
}

// statements upper-cases the query, splits it into statements on semicolons
// and each statement into words on anything that is not a letter, digit or
// underscore. Quoted literals are dropped and empty statements skipped.
func statements(query string) [][]string {
	var out [][]string
	var b strings.Builder
	flush := func() {
		if words := strings.Fields(b.String()); len(words) > 0 {
			out = append(out, words)
		}
		b.Reset()
	}

	inQuote := rune(0)
	for _, r := range query {
		switch {
		case inQuote != 0:
			if r == inQuote {
				inQuote = 0
			}
			b.WriteRune(' ')
		case r == '\'' || r == '"' || r == '`':
			inQuote = r
			b.WriteRune(' ')
		case r == ';':
			flush()
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			b.WriteRune(unicode.ToUpper(r))
		default:
			b.WriteRune(' ')
		}
	}
	flush()
	return out
}

func contains(words []string, w string) bool {
	for _, x := range words {
		if x == w {
			return true
		}
	}
	return false
}

func hasSequence(words []string, a, b string) bool {
	for i := 0; i+1 < len(words); i++ {
		if words[i] == a && words[i+1] == b {
			return true
		}
	}
	return false
}
