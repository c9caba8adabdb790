package statement

import (
	"fmt"
	"strings"
	"unicode"
)

// readPrefixes are the leading keywords accepted for a plain statement.
// Callable statements are instead wrapped in braces: "{call proc(:id)}".
var readPrefixes = []string{"select", "with", "show", "describe", "call"}

// Template is one registered SQL statement: the configured text, the
// positional form handed to the executor, the parameter signature derived
// from the SQL, and the polling interval policy.
type Template struct {
	name       string
	rawSQL     string
	sql        string
	paramOrder []string
	sig        Signature
	policy     IntervalPolicy
	callable   bool
}

// NewTemplate parses and validates a configured statement. The SQL text must
// carry a trailing interval directive, which is stripped before storage.
func NewTemplate(name, sqlText string) (*Template, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("statement name cannot be empty")
	}

	stripped, policy, err := ParseDirective(sqlText)
	if err != nil {
		return nil, fmt.Errorf("statement %q: %w", name, err)
	}

	body, callable, err := unwrapCallable(stripped)
	if err != nil {
		return nil, fmt.Errorf("statement %q: %w", name, err)
	}

	if !callable {
		if err := validateReadPrefix(body); err != nil {
			return nil, fmt.Errorf("statement %q: %w", name, err)
		}
	}

	positional, order := parameterize(body)

	return &Template{
		name:       name,
		rawSQL:     sqlText,
		sql:        positional,
		paramOrder: order,
		sig:        NewSignature(order),
		policy:     policy,
		callable:   callable,
	}, nil
}

// unwrapCallable strips a matching leading/trailing brace pair.
func unwrapCallable(sqlText string) (string, bool, error) {
	if !strings.HasPrefix(sqlText, "{") {
		return sqlText, false, nil
	}

	if !strings.HasSuffix(sqlText, "}") {
		return "", false, fmt.Errorf("unbalanced callable braces in %q", sqlText)
	}

	body := strings.TrimSpace(sqlText[1 : len(sqlText)-1])
	if body == "" {
		return "", false, fmt.Errorf("empty callable statement")
	}

	return body, true, nil
}

// validateReadPrefix rejects SQL that does not start with a read-style keyword.
func validateReadPrefix(body string) error {
	fields := strings.Fields(strings.ToLower(body))
	if len(fields) == 0 {
		return fmt.Errorf("statement SQL cannot be empty")
	}

	for _, prefix := range readPrefixes {
		if fields[0] == prefix {
			return nil
		}
	}

	return fmt.Errorf("statement must start with one of %v, got %q", readPrefixes, fields[0])
}

// parameterize rewrites named ":param" placeholders into positional "?"
// markers, returning the lower-cased parameter names in bind order. Colons
// inside single-quoted literals are left untouched.
func parameterize(body string) (string, []string) {
	var (
		sb       strings.Builder
		order    []string
		inQuote  bool
		i        int
		runeBody = []rune(body)
	)

	for i < len(runeBody) {
		ch := runeBody[i]

		if ch == '\'' {
			inQuote = !inQuote

			sb.WriteRune(ch)
			i++

			continue
		}

		if !inQuote && ch == ':' && i+1 < len(runeBody) && isParamStart(runeBody[i+1]) {
			j := i + 1
			for j < len(runeBody) && isParamRune(runeBody[j]) {
				j++
			}

			order = append(order, strings.ToLower(string(runeBody[i+1:j])))
			sb.WriteByte('?')
			i = j

			continue
		}

		sb.WriteRune(ch)
		i++
	}

	return sb.String(), order
}

func isParamStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isParamRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// Name returns the configured statement name.
func (t *Template) Name() string {
	return t.name
}

// SQL returns the positional form executed against the database.
func (t *Template) SQL() string {
	return t.sql
}

// RawSQL returns the statement exactly as configured, directive included.
func (t *Template) RawSQL() string {
	return t.rawSQL
}

// ParamOrder returns the lower-cased parameter names in bind order.
// A parameter referenced twice in the SQL appears twice.
func (t *Template) ParamOrder() []string {
	out := make([]string, len(t.paramOrder))
	copy(out, t.paramOrder)

	return out
}

// Signature returns the template's parameter signature.
func (t *Template) Signature() Signature {
	return t.sig
}

// Policy returns the polling interval policy.
func (t *Template) Policy() IntervalPolicy {
	return t.policy
}

// Callable reports whether the statement was configured in callable form.
func (t *Template) Callable() bool {
	return t.callable
}

// BindArgs resolves the template's ordered parameters against a concrete
// value map. Keys are matched case-insensitively.
func (t *Template) BindArgs(values map[string]string) ([]any, error) {
	lowered := make(map[string]string, len(values))
	for k, v := range values {
		lowered[strings.ToLower(k)] = v
	}

	args := make([]any, 0, len(t.paramOrder))

	for _, name := range t.paramOrder {
		v, ok := lowered[name]
		if !ok {
			return nil, fmt.Errorf("missing value for parameter %q", name)
		}

		args = append(args, v)
	}

	return args, nil
}
