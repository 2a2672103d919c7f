package matching

import (
	"strconv"
	"strings"
)

// QueryFingerprint derives the identifier shared by mock lookup and
// deduplication for database queries. It combines the owning proxy port,
// the whitespace-normalized query text, and any bound parameter values.
// Two queries with identical SQL text but different parameters fingerprint
// differently.
func QueryFingerprint(port int, query string, params []string) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(port))
	b.WriteByte('|')
	b.WriteString(CollapseWhitespace(query))
	for _, p := range params {
		b.WriteByte('|')
		b.WriteString(p)
	}
	return b.String()
}
