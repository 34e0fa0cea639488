// Package template substitutes flow variables into node templates.
//
// Two placeholder styles are supported:
//
//	{{name}}  {{ user.name }}   double braces, optional spaces, dotted paths
//	$name                       dollar prefix, plain identifiers
//
// By default a missing {{var}} renders as the empty string while a missing
// $var is kept verbatim, so prices such as "$USD" in prose survive.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// placeholderPattern matches {{name}} / {{ a.b.c }} (group 1) or $name (group 2).
// Both styles are expanded in a single pass so substituted values are never re-expanded.
var placeholderPattern = regexp.MustCompile(
	`\{\{\s*([a-zA-Z_][a-zA-Z0-9_\-]*(?:\.[a-zA-Z0-9_\-]+)*)\s*\}\}` +
		`|\$([a-zA-Z_][a-zA-Z0-9_]*)\b`,
)

// MissingAction controls what happens to a placeholder whose variable is absent.
type MissingAction int

const (
	// MissingKeep leaves the placeholder untouched.
	MissingKeep MissingAction = iota
	// MissingEmpty replaces the placeholder with "".
	MissingEmpty
	// MissingError reports an UndefinedVariableError.
	MissingError
)

// Expander renders templates against a variable set.
// It is safe for concurrent use after construction.
type Expander struct {
	braceMissing  MissingAction
	dollarMissing MissingAction
	dollarStyle   bool
}

// Option configures an Expander.
type Option func(*Expander)

// WithMissingAction applies the same missing-variable policy to both styles.
func WithMissingAction(a MissingAction) Option {
	return func(e *Expander) {
		e.braceMissing = a
		e.dollarMissing = a
	}
}

// WithDollarStyle toggles $var substitution.
func WithDollarStyle(enabled bool) Option {
	return func(e *Expander) {
		e.dollarStyle = enabled
	}
}

// NewExpander creates an Expander. See the package documentation for defaults.
func NewExpander(opts ...Option) *Expander {
	e := &Expander{
		braceMissing:  MissingEmpty,
		dollarMissing: MissingKeep,
		dollarStyle:   true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand renders s against vars.
// An error is only returned with MissingError.
func (e *Expander) Expand(s string, vars map[string]any) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	resolve := func(match, name string, action MissingAction) string {
		if val, ok := Lookup(vars, name); ok {
			return Stringify(val)
		}
		switch action {
		case MissingEmpty:
			return ""
		case MissingError:
			missing = append(missing, name)
		}
		return match
	}

	result := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		if sub[1] != "" {
			return resolve(match, sub[1], e.braceMissing)
		}
		if !e.dollarStyle {
			return match
		}
		return resolve(match, sub[2], e.dollarMissing)
	})

	if len(missing) > 0 {
		return result, &UndefinedVariableError{Names: missing}
	}
	return result, nil
}

// Lookup resolves a dotted path ("a.b.c") inside nested maps.
// A key containing dots is matched before the path is split.
func Lookup(vars map[string]any, path string) (any, bool) {
	if v, ok := vars[path]; ok {
		return v, true
	}
	head, rest, found := strings.Cut(path, ".")
	if !found {
		return nil, false
	}
	v, ok := vars[head]
	if !ok {
		return nil, false
	}
	switch next := v.(type) {
	case map[string]any:
		return Lookup(next, rest)
	case map[string]string:
		s, ok := next[rest]
		return s, ok
	}
	return nil, false
}

// Stringify renders a variable value for inclusion in text.
// Maps and slices are rendered as JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	case map[string]any, []any, []string, map[string]string:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// UndefinedVariableError is returned when MissingError is set and
// one or more variables are not found.
type UndefinedVariableError struct {
	Names []string
}

func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("undefined variable: %s", e.Names[0])
	}
	return fmt.Sprintf("undefined variables: %s", strings.Join(e.Names, ", "))
}

var defaultExpander = NewExpander()

// Render expands s with the default policy. It never fails.
func Render(s string, vars map[string]any) string {
	out, _ := defaultExpander.Expand(s, vars)
	return out
}
