// AngelaMos | 2026
// scope.go

package tenant

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/carterperez-dev/templates/crm-backend/internal/core"
)

type Mode int

const (
	// ModeTenant restricts every helper-built query to one company.
	ModeTenant Mode = iota
	// ModeGlobal applies no tenant predicate at all. Only reachable by the
	// top-level role.
	ModeGlobal
)

func (m Mode) String() string {
	if m == ModeGlobal {
		return "global"
	}
	return "tenant"
}

// Scope is the resolved tenant context of one request.
type Scope struct {
	tenantID       int64
	mode           Mode
	bypass         bool
	originalTenant *int64
	principal      *Principal
	column         string
	logger         *slog.Logger
}

func (s *Scope) TenantID() (int64, bool) {
	if s.mode == ModeGlobal {
		return 0, false
	}
	return s.tenantID, true
}

func (s *Scope) Mode() Mode {
	return s.mode
}

func (s *Scope) IsGlobal() bool {
	return s.mode == ModeGlobal
}

func (s *Scope) Bypass() bool {
	return s.bypass
}

// OriginalTenant is the principal's own tenant, which differs from the
// effective tenant only under bypass.
func (s *Scope) OriginalTenant() *int64 {
	return s.originalTenant
}

func (s *Scope) Principal() *Principal {
	return s.principal
}

// Binding is what every executor call made on behalf of this request
// carries.
func (s *Scope) Binding() core.Binding {
	if s.mode == ModeGlobal {
		return core.Unbound
	}
	return core.BindTenant(s.tenantID)
}

func (s *Scope) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("mode", s.mode.String()),
		slog.Bool("bypass", s.bypass),
	}
	if s.mode == ModeTenant {
		attrs = append(attrs, slog.Int64("company_id", s.tenantID))
	}
	if s.principal != nil {
		attrs = append(attrs, slog.String("principal", s.principal.ID))
	}
	return slog.GroupValue(attrs...)
}

// Apply adds "<tenant column> = $n" to fragment, where n follows the last
// placeholder in args. An existing top-level WHERE condition is wrapped in
// parentheses and AND-ed with the tenant predicate. Trailing GROUP BY,
// HAVING, ORDER BY, LIMIT, OFFSET, RETURNING and FOR clauses stay after it.
// In global mode fragment and args come back unchanged.
func (s *Scope) Apply(fragment string, args []any) (string, []any) {
	return s.ApplyColumn(s.column, fragment, args)
}

// ApplyColumn is Apply with an explicit, possibly alias-qualified, column.
func (s *Scope) ApplyColumn(column, fragment string, args []any) (string, []any) {
	if s.mode == ModeGlobal {
		s.logger.Warn("unscoped query helper used",
			"principal", s.principalID(),
			"bypass", s.bypass,
		)
		return fragment, args
	}

	out := make([]any, len(args), len(args)+1)
	copy(out, args)
	out = append(out, s.tenantID)

	predicate := column + " = $" + strconv.Itoa(len(out))
	return injectPredicate(fragment, predicate), out
}

func (s *Scope) principalID() string {
	if s.principal == nil {
		return ""
	}
	return s.principal.ID
}

var trailingClauses = [][]string{
	{"group", "by"},
	{"having"},
	{"window"},
	{"order", "by"},
	{"limit"},
	{"offset"},
	{"fetch"},
	{"returning"},
	{"for"},
	{"on", "conflict"},
}

type sqlWord struct {
	text  string
	start int
	end   int
}

func injectPredicate(fragment, predicate string) string {
	words := topLevelWords(fragment)

	where := -1
	for i, w := range words {
		if w.text == "where" {
			where = i
			break
		}
	}

	tail := len(fragment)
	from := 0
	if where >= 0 {
		from = where + 1
	}
	for i := from; i < len(words); i++ {
		if matchesClause(words, i) {
			tail = words[i].start
			break
		}
	}

	head := strings.TrimSpace(fragment[:tail])
	rest := strings.TrimSpace(fragment[tail:])

	var b strings.Builder
	if where >= 0 {
		w := words[where]
		cond := strings.TrimSpace(fragment[w.end:tail])
		b.WriteString(strings.TrimSpace(fragment[:w.start]))
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(fragment[w.start:w.end])
		b.WriteByte(' ')
		if cond != "" {
			b.WriteString("(" + cond + ") AND ")
		}
		b.WriteString(predicate)
	} else {
		b.WriteString(head)
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("WHERE " + predicate)
	}

	if rest != "" {
		b.WriteByte(' ')
		b.WriteString(rest)
	}
	return b.String()
}

func matchesClause(words []sqlWord, i int) bool {
	for _, clause := range trailingClauses {
		if i+len(clause) > len(words) {
			continue
		}
		ok := true
		for j, part := range clause {
			if words[i+j].text != part {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// topLevelWords returns lower-cased bare words outside parentheses,
// quotes and comments.
func topLevelWords(sql string) []sqlWord {
	var words []sqlWord
	depth := 0

	for i := 0; i < len(sql); {
		c := sql[i]
		switch {
		case c == '\'' || c == '"':
			i = skipQuoted(sql, i, c)
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				i = len(sql)
			} else {
				i += end + 4
			}
		case c == '(':
			depth++
			i++
		case c == ')':
			if depth > 0 {
				depth--
			}
			i++
		case isWordByte(c):
			start := i
			for i < len(sql) && isWordByte(sql[i]) {
				i++
			}
			if depth == 0 {
				words = append(words, sqlWord{
					text:  strings.ToLower(sql[start:i]),
					start: start,
					end:   i,
				})
			}
		default:
			i++
		}
	}

	return words
}

func skipQuoted(sql string, i int, quote byte) int {
	i++
	for i < len(sql) {
		if sql[i] == quote {
			if i+1 < len(sql) && sql[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || c == '.' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
