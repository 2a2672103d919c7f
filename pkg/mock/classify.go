package mock

import (
	"regexp"
	"strings"
)

// sqlVerbs maps a leading SQL keyword to its kind.
var sqlVerbs = map[string]QueryKind{
	"select": KindSelect,
	"insert": KindInsert,
	"update": KindUpdate,
	"delete": KindDelete,
	"create": KindCreate,
	"drop":   KindDrop,
	"alter":  KindAlter,
}

// shellRe matches MongoDB shell-style invocations: db.<collection>.<verb>(...)
var shellRe = regexp.MustCompile(`(?i)^db\.([\w.]+)\.(find|findone|insert|insertone|insertmany|update|updateone|updatemany|delete|deleteone|deletemany|remove|aggregate|count|countdocuments|distinct)\s*\(`)

// shellKinds folds shell verb variants into canonical kinds.
var shellKinds = map[string]QueryKind{
	"find": KindFind, "findone": KindFind,
	"insert": KindInsert, "insertone": KindInsert, "insertmany": KindInsert,
	"update": KindUpdate, "updateone": KindUpdate, "updatemany": KindUpdate,
	"delete": KindDelete, "deleteone": KindDelete, "deletemany": KindDelete,
	"remove":    KindDelete,
	"aggregate": KindAggregate,
	"count":     KindCount, "countdocuments": KindCount,
	"distinct": KindDistinct,
}

// ClassifyQuery determines the operation kind and target resource (table or
// collection) from raw query text. Layered matching: SQL verbs first, then
// MongoDB shell syntax. Unresolvable text yields KindUnknown with an empty
// resource; callers must surface that, not coerce it.
func ClassifyQuery(text string) (QueryKind, string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return KindUnknown, ""
	}

	if m := shellRe.FindStringSubmatch(trimmed); m != nil {
		return shellKinds[strings.ToLower(m[2])], m[1]
	}

	fields := strings.Fields(trimmed)
	verb := strings.ToLower(fields[0])
	kind, ok := sqlVerbs[verb]
	if !ok {
		return KindUnknown, ""
	}
	return kind, sqlResource(kind, fields)
}

// sqlResource extracts the table name following the verb's positional
// keyword. Best effort: quoting and schema prefixes are stripped, complex
// statements fall back to empty.
func sqlResource(kind QueryKind, fields []string) string {
	lower := make([]string, len(fields))
	for i, f := range fields {
		lower[i] = strings.ToLower(f)
	}

	pick := func(i int) string {
		if i < 0 || i >= len(fields) {
			return ""
		}
		return cleanIdentifier(fields[i])
	}

	after := func(keywords ...string) string {
		for i, f := range lower {
			for _, kw := range keywords {
				if f == kw && i+1 < len(fields) {
					return pick(i + 1)
				}
			}
		}
		return ""
	}

	switch kind {
	case KindSelect, KindDelete:
		return after("from")
	case KindInsert:
		return after("into")
	case KindUpdate:
		return pick(1)
	case KindCreate, KindDrop, KindAlter:
		// CREATE TABLE x, DROP TABLE IF EXISTS x, ALTER TABLE x
		for i, f := range lower {
			if f == "table" || f == "index" || f == "view" {
				j := i + 1
				for j < len(lower) && (lower[j] == "if" || lower[j] == "not" || lower[j] == "exists") {
					j++
				}
				return pick(j)
			}
		}
	}
	return ""
}

// cleanIdentifier strips quoting, a schema prefix, and trailing punctuation
// from a SQL identifier.
func cleanIdentifier(s string) string {
	s = strings.Trim(s, "`\"'[]();,")
	if idx := strings.LastIndex(s, "."); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.IndexByte(s, '('); idx >= 0 {
		s = s[:idx]
	}
	return s
}
