package query

import "strings"

// Select assembles a single SELECT statement from pre-quoted fragments.
type Select struct {
	columns  string
	from     string
	distinct bool
	joins    []string
	where    []string
	order    []string
	limit    *int64
	offset   *int64
}

// NewSelect starts a statement reading columns from a quoted table reference.
func NewSelect(columns, from string) *Select {
	return &Select{columns: columns, from: from}
}

// Distinct emits SELECT DISTINCT.
func (s *Select) Distinct() *Select {
	s.distinct = true
	return s
}

// InnerJoin appends an INNER JOIN clause; on must already be built from quoted fragments.
func (s *Select) InnerJoin(table, on string) *Select {
	s.joins = append(s.joins, "INNER JOIN "+table+" ON "+on)
	return s
}

// Where appends a predicate; all predicates are AND-ed.
func (s *Select) Where(predicate string) *Select {
	if strings.TrimSpace(predicate) != "" {
		s.where = append(s.where, predicate)
	}
	return s
}

// OrderBy appends an ordering term such as `"updatedAt" DESC`.
func (s *Select) OrderBy(term string) *Select {
	s.order = append(s.order, term)
	return s
}

// Limit sets the LIMIT literal.
func (s *Select) Limit(value int64) *Select {
	s.limit = &value
	return s
}

// Offset sets the OFFSET literal.
func (s *Select) Offset(value int64) *Select {
	s.offset = &value
	return s
}

// String renders the statement.
func (s *Select) String() string {
	var builder strings.Builder
	builder.WriteString("SELECT ")
	if s.distinct {
		builder.WriteString("DISTINCT ")
	}
	builder.WriteString(s.columns)
	builder.WriteString(" FROM ")
	builder.WriteString(s.from)
	for _, join := range s.joins {
		builder.WriteString(" ")
		builder.WriteString(join)
	}
	if len(s.where) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(s.where, " AND "))
	}
	if len(s.order) > 0 {
		builder.WriteString(" ORDER BY ")
		builder.WriteString(strings.Join(s.order, ", "))
	}
	if s.limit != nil {
		builder.WriteString(" LIMIT ")
		builder.WriteString(QuoteInt(*s.limit))
	}
	if s.offset != nil {
		builder.WriteString(" OFFSET ")
		builder.WriteString(QuoteInt(*s.offset))
	}
	return builder.String()
}

// AnyOf joins predicates with OR inside parentheses.
func AnyOf(predicates ...string) string {
	if len(predicates) == 0 {
		return ""
	}
	return "(" + strings.Join(predicates, " OR ") + ")"
}

const likeEscape = `\`

var likeEscaper = strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")

// Like renders `<expr> LIKE '<pattern>' ESCAPE '\'` with the pattern string-quoted.
// Literal parts of pattern must go through EscapeLike.
func Like(expr, pattern string) string {
	return expr + " LIKE " + QuoteString(pattern) + " ESCAPE " + QuoteString(likeEscape)
}

// EscapeLike makes %, _ and the escape character match themselves inside a Like pattern.
func EscapeLike(value string) string {
	return likeEscaper.Replace(value)
}

// Contains matches expr against value as a literal substring.
func Contains(expr, value string) string {
	return Like(expr, "%"+EscapeLike(value)+"%")
}
