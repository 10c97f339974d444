package privacy

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Classifier applies the rule table to individual fields.
type Classifier struct {
	table *RuleTable
}

// NewClassifier wraps a built rule table.
func NewClassifier(table *RuleTable) *Classifier {
	return &Classifier{table: table}
}

// Classify returns the category for one field, or false when the value is
// null, blank, non-primitive, or simply matches nothing. Classification
// never fails: any value it cannot understand is "none".
func (c *Classifier) Classify(field string, value any) (Category, bool) {
	s, ok := coerceValue(value)
	if !ok {
		return "", false
	}
	return c.classifyString(field, s)
}

func (c *Classifier) classifyString(field, value string) (Category, bool) {
	if strings.TrimSpace(value) == "" {
		return "", false
	}
	return c.table.classify(field, value)
}

// coerceValue renders a primitive field value as the string the matchers
// operate on. Nulls and nested structures report ok=false; they are never
// classified and pass through untouched.
func coerceValue(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return "", false
	}
}
