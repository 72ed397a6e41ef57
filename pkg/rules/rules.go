// Package rules provides ready-made validator rule factories for the common
// constraints a schema declares: numeric bounds, length limits, patterns,
// enumerations, plus tag-based checks delegated to go-playground/validator.
package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/goliatone/go-formstate/pkg/form"
)

// validate is the shared validator instance behind Tag rules.
var validate = validator.New()

// Min fails when a numeric value is below the threshold.
func Min(threshold float64) form.Rule {
	return form.Rule{
		ID:    fmt.Sprintf("min:%v", threshold),
		Level: form.LevelError,
		Check: func(value any, _ form.Values) string {
			n, ok := asFloat(value)
			if !ok || n >= threshold {
				return ""
			}
			return fmt.Sprintf("must be at least %v", threshold)
		},
	}
}

// Max fails when a numeric value exceeds the threshold.
func Max(threshold float64) form.Rule {
	return form.Rule{
		ID:    fmt.Sprintf("max:%v", threshold),
		Level: form.LevelError,
		Check: func(value any, _ form.Values) string {
			n, ok := asFloat(value)
			if !ok || n <= threshold {
				return ""
			}
			return fmt.Sprintf("must be at most %v", threshold)
		},
	}
}

// MinLength fails when a string is shorter than limit. Empty values pass; the
// required tier owns emptiness.
func MinLength(limit int) form.Rule {
	return form.Rule{
		ID:    fmt.Sprintf("minLength:%d", limit),
		Level: form.LevelError,
		Check: func(value any, _ form.Values) string {
			s, ok := value.(string)
			if !ok || s == "" || len([]rune(s)) >= limit {
				return ""
			}
			return fmt.Sprintf("must be at least %d characters", limit)
		},
	}
}

// MaxLength fails when a string exceeds limit characters.
func MaxLength(limit int) form.Rule {
	return form.Rule{
		ID:    fmt.Sprintf("maxLength:%d", limit),
		Level: form.LevelError,
		Check: func(value any, _ form.Values) string {
			s, ok := value.(string)
			if !ok || len([]rune(s)) <= limit {
				return ""
			}
			return fmt.Sprintf("must be at most %d characters", limit)
		},
	}
}

// Pattern fails when a non-empty string does not match the expression. The
// expression is compiled eagerly so a bad pattern surfaces at load time.
func Pattern(expr string) form.Rule {
	re := regexp.MustCompile(expr)
	return form.Rule{
		ID:    "pattern:" + expr,
		Level: form.LevelError,
		Check: func(value any, _ form.Values) string {
			s, ok := value.(string)
			if !ok || s == "" || re.MatchString(s) {
				return ""
			}
			return "has an invalid format"
		},
	}
}

// OneOf fails when the value is not among the allowed set.
func OneOf(allowed ...any) form.Rule {
	return form.Rule{
		ID:    "enum",
		Level: form.LevelError,
		Check: func(value any, _ form.Values) string {
			if form.IsEmpty(value) {
				return ""
			}
			for _, a := range allowed {
				if a == value {
					return ""
				}
			}
			return "is not an allowed value"
		},
	}
}

// Tag delegates to go-playground/validator single-variable validation, e.g.
// Tag("email"), Tag("url"), Tag("uuid4"). Empty values pass.
func Tag(tag string) form.Rule {
	return form.Rule{
		ID:    "tag:" + tag,
		Level: form.LevelError,
		Check: func(value any, _ form.Values) string {
			if form.IsEmpty(value) {
				return ""
			}
			if err := validate.Var(value, tag); err != nil {
				return failureMessage(tag)
			}
			return ""
		},
	}
}

func failureMessage(tag string) string {
	base := tag
	if i := strings.IndexAny(base, ",=:"); i >= 0 {
		base = base[:i]
	}
	switch base {
	case "email":
		return "must be a valid email address"
	case "url", "uri":
		return "must be a valid URL"
	default:
		return fmt.Sprintf("must satisfy %q", base)
	}
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case string:
		if v == "" {
			return 0, false
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
