package expr

import (
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"github.com/warriorguo/flowgraph/types"
)

var (
	_ types.ExpressionEvaluator = Fallback{}
)

// Fallback only understands `field == "literal"`. Anything else evaluates to
// true and is logged.
type Fallback struct{}

func (Fallback) Evaluate(expression string, bindings types.Data) (bool, error) {
	left, literal, ok := parseEquality(expression)
	if !ok {
		log.WithField("expression", expression).Warn("fallback evaluator can't parse expression, defaulting to true")
		return true, nil
	}

	value, found := bindings.Lookup(left)
	if !found {
		return false, nil
	}
	return cast.ToString(value) == literal, nil
}

func parseEquality(expression string) (string, string, bool) {
	left, right, found := strings.Cut(expression, "==")
	if !found {
		return "", "", false
	}
	left = strings.TrimSpace(left)
	right = strings.TrimSpace(right)
	if left == "" || strings.ContainsAny(left, " !<>=\"'") || len(right) < 2 {
		return "", "", false
	}

	quote := right[0]
	if (quote != '"' && quote != '\'') || right[len(right)-1] != quote {
		return "", "", false
	}
	literal := right[1 : len(right)-1]
	if strings.ContainsRune(literal, rune(quote)) {
		return "", "", false
	}
	return left, literal, true
}
