package sqltoken

// keywords is the reserved-word set recognized by the parser's statement and
// expression grammar. Lower-cased lookups only; the lexer folds case before
// checking membership. Shaped after the flat reserved-word map convention in
// vippsas-sqlcode's T-SQL scanner, trimmed to the subset this dialect
// actually parses (see sqlast.Parser).
var keywords = map[string]struct{}{
	"select": {}, "distinct": {}, "from": {}, "where": {}, "group": {},
	"by": {}, "having": {}, "order": {}, "limit": {}, "offset": {},
	"join": {}, "left": {}, "right": {}, "inner": {}, "outer": {}, "on": {},
	"insert": {}, "into": {}, "values": {}, "update": {}, "set": {},
	"delete": {}, "returning": {}, "create": {}, "table": {}, "index": {},
	"unique": {}, "if": {}, "not": {}, "exists": {}, "alter": {}, "add": {},
	"column": {}, "rename": {}, "to": {}, "drop": {}, "pragma": {},
	"and": {}, "or": {}, "like": {}, "in": {}, "between": {}, "is": {},
	"null": {}, "case": {}, "when": {}, "then": {}, "else": {}, "end": {},
	"as": {}, "asc": {}, "desc": {}, "primary": {}, "key": {}, "foreign": {},
	"references": {}, "default": {}, "check": {}, "constraint": {},
	"true": {}, "false": {},
}

// IsKeyword reports whether the lower-cased word is a reserved word.
func IsKeyword(lower string) bool {
	_, ok := keywords[lower]
	return ok
}

// functions is the set of recognized built-in function names. A word is
// classified as Function only when it is both in this set and followed by
// '(', after optional whitespace (see Lexer.scanWord).
var functions = map[string]struct{}{
	"count": {}, "sum": {}, "avg": {}, "min": {}, "max": {},
	"coalesce": {}, "nullif": {}, "abs": {}, "length": {}, "lower": {},
	"upper": {}, "substr": {}, "trim": {}, "round": {}, "cast": {},
	"ifnull": {}, "random": {}, "strftime": {}, "datetime": {}, "date": {},
	"time": {}, "json": {}, "json_extract": {}, "group_concat": {},
	"total": {}, "typeof": {}, "hex": {}, "instr": {}, "replace": {},
}

// IsFunction reports whether the lower-cased word names a known function.
func IsFunction(lower string) bool {
	_, ok := functions[lower]
	return ok
}

// typeKeywords is the set of words recognized as SQL data types when they
// appear in a column-definition or CAST(... AS <type>) position, rather than
// as a bare identifier.
var typeKeywords = map[string]struct{}{
	"integer": {}, "int": {}, "text": {}, "real": {}, "blob": {},
	"numeric": {}, "varchar": {}, "boolean": {}, "date": {}, "datetime": {},
	"bigint": {}, "double": {}, "float": {}, "char": {},
}

// IsTypeKeyword reports whether the lower-cased word is a recognized column
// type name.
func IsTypeKeyword(lower string) bool {
	_, ok := typeKeywords[lower]
	return ok
}
