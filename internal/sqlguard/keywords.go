package sqlguard

import "strings"

// forbiddenKeywords reject the statement wherever they appear as bare words.
var forbiddenKeywords = setOf(
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "CREATE", "TRUNCATE", "ATTACH", "DETACH",
	"COPY", "PRAGMA", "EXEC", "EXECUTE", "CALL", "SET", "RESET", "INSTALL", "LOAD", "EXPORT",
	"IMPORT", "VACUUM", "CHECKPOINT", "GRANT", "REVOKE", "MERGE", "INTO", "USE", "BEGIN",
	"COMMIT", "ROLLBACK", "PREPARE", "DEALLOCATE", "DESCRIBE", "SUMMARIZE", "SHOW", "PIVOT",
	"UNPIVOT",
)

// reservedWords are never column references.
var reservedWords = setOf(
	"SELECT", "FROM", "WHERE", "GROUP", "BY", "ORDER", "HAVING", "LIMIT", "OFFSET", "AS", "AND",
	"OR", "NOT", "NULL", "IS", "IN", "BETWEEN", "LIKE", "ILIKE", "GLOB", "SIMILAR", "ESCAPE",
	"CASE", "WHEN", "THEN", "ELSE", "END", "DISTINCT", "ALL", "ANY", "SOME", "EXISTS", "UNION",
	"INTERSECT", "EXCEPT", "JOIN", "INNER", "LEFT", "RIGHT", "FULL", "OUTER", "CROSS", "NATURAL",
	"ON", "USING", "WITH", "RECURSIVE", "ASC", "DESC", "NULLS", "FIRST", "LAST", "TRUE", "FALSE",
	"INTERVAL", "DATE", "TIME", "TIMESTAMP", "TIMESTAMPTZ", "VARCHAR", "TEXT", "STRING", "CHAR",
	"INTEGER", "INT", "BIGINT", "SMALLINT", "TINYINT", "HUGEINT", "UBIGINT", "UINTEGER", "DOUBLE",
	"FLOAT", "REAL", "DECIMAL", "NUMERIC", "BOOLEAN", "BOOL", "BLOB", "UUID", "OVER", "PARTITION",
	"ROWS", "RANGE", "GROUPS", "PRECEDING", "FOLLOWING", "CURRENT", "ROW", "UNBOUNDED", "FILTER",
	"WINDOW", "QUALIFY", "LATERAL", "YEAR", "YEARS", "MONTH", "MONTHS", "DAY", "DAYS", "WEEK",
	"WEEKS", "QUARTER", "QUARTERS", "HOUR", "HOURS", "MINUTE", "MINUTES", "SECOND", "SECONDS",
	"MILLISECOND", "MILLISECONDS", "MICROSECOND", "MICROSECONDS", "DOW", "DOY", "EPOCH", "ISODOW",
	"ISOYEAR", "CENTURY", "DECADE", "AT", "ZONE", "COLLATE", "ASOF", "POSITIONAL", "SEMI", "ANTI",
	"FETCH", "NEXT", "ONLY", "TIES", "PERCENT", "EXCLUDE", "REPLACE", "CURRENT_DATE",
	"CURRENT_TIMESTAMP", "CURRENT_TIME", "LOCALTIMESTAMP", "LOCALTIME", "VALUES", "TOP", "BOTH",
	"LEADING", "TRAILING", "FOR",
)

// clauseWords end a FROM list at the same nesting level.
var clauseWords = setOf(
	"WHERE", "GROUP", "ORDER", "HAVING", "LIMIT", "OFFSET", "QUALIFY", "WINDOW", "UNION",
	"INTERSECT", "EXCEPT", "ON", "USING", "SELECT", "FETCH",
)

// joinModifiers may precede JOIN or follow a table reference without being an alias.
var joinModifiers = setOf(
	"LEFT", "RIGHT", "FULL", "OUTER", "INNER", "CROSS", "NATURAL", "ASOF", "POSITIONAL", "SEMI",
	"ANTI", "JOIN",
)

var blockedFunctions = setOf(
	"GETENV", "GLOB", "CURRENT_SETTING", "QUERY", "QUERY_TABLE", "SNIFF_CSV", "LOAD_EXTENSION",
	"WHICH_SECRET", "SQLITE_ATTACH", "ICEBERG_METADATA", "DELTA_SCAN", "UNNEST", "RANGE",
	"GENERATE_SERIES", "REPEAT_ROW",
)

var blockedFunctionPrefixes = []string{"READ_", "DUCKDB_", "PRAGMA_", "PARQUET_", "SQLITE_", "POSTGRES_", "MYSQL_", "ICEBERG_"}

// isBlockedFunction reports functions that reach outside the loaded dataset.
func isBlockedFunction(name string) bool {
	upper := strings.ToUpper(name)
	if _, ok := blockedFunctions[upper]; ok {
		return true
	}
	for _, prefix := range blockedFunctionPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return strings.HasSuffix(upper, "_SCAN")
}

func isReserved(tok token) bool {
	if tok.kind != tokIdent {
		return false
	}
	_, ok := reservedWords[tok.upper()]
	return ok
}

func inSet(set map[string]struct{}, tok token) bool {
	if tok.kind != tokIdent {
		return false
	}
	_, ok := set[tok.upper()]
	return ok
}

func setOf(values ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, value := range values {
		out[value] = struct{}{}
	}
	return out
}
