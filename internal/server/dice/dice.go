// Package dice implements dice-expression parsing and rolling for the table.
package dice

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

// ErrInvalidExpression indicates an expression does not match NdS(+/-M).
var ErrInvalidExpression = errors.New("invalid dice expression")

const (
	maxDiceCount = 100
	maxDiceSides = 1000
)

// Expression is a parsed dice expression such as "2d6+3".
type Expression struct {
	Count    int
	Sides    int
	Modifier int
}

// Parse parses expressions of the form NdS, NdS+M, and NdS-M. The count
// defaults to 1 when omitted ("d20" rolls one d20).
func Parse(raw string) (Expression, error) {
	text := strings.ToLower(strings.TrimSpace(raw))
	if text == "" {
		return Expression{}, fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	}

	modifier := 0
	dicePart := text
	if idx := strings.IndexAny(text, "+-"); idx > 0 {
		value, err := strconv.Atoi(text[idx:])
		if err != nil {
			return Expression{}, fmt.Errorf("%w: bad modifier in %q", ErrInvalidExpression, raw)
		}
		modifier = value
		dicePart = text[:idx]
	}

	countPart, sidesPart, ok := strings.Cut(dicePart, "d")
	if !ok {
		return Expression{}, fmt.Errorf("%w: %q must use NdS form", ErrInvalidExpression, raw)
	}

	count := 1
	if countPart != "" {
		value, err := strconv.Atoi(countPart)
		if err != nil {
			return Expression{}, fmt.Errorf("%w: bad dice count in %q", ErrInvalidExpression, raw)
		}
		count = value
	}
	sides, err := strconv.Atoi(sidesPart)
	if err != nil {
		return Expression{}, fmt.Errorf("%w: bad dice sides in %q", ErrInvalidExpression, raw)
	}

	if count <= 0 || count > maxDiceCount {
		return Expression{}, fmt.Errorf("%w: dice count must be between 1 and %d", ErrInvalidExpression, maxDiceCount)
	}
	if sides <= 0 || sides > maxDiceSides {
		return Expression{}, fmt.Errorf("%w: dice sides must be between 1 and %d", ErrInvalidExpression, maxDiceSides)
	}

	return Expression{Count: count, Sides: sides, Modifier: modifier}, nil
}

// Result captures the outcome of rolling an expression.
type Result struct {
	Total int
	Rolls []int
}

// Roll rolls the expression deterministically with respect to seed: the same
// seed and expression always produce the same result. Individual die values
// appear in Rolls in roll order; Total includes the modifier.
func (e Expression) Roll(seed int64) Result {
	rng := rand.New(rand.NewSource(seed))
	rolls := make([]int, e.Count)
	total := e.Modifier
	for i := range rolls {
		value := rng.Intn(e.Sides) + 1
		rolls[i] = value
		total += value
	}
	return Result{Total: total, Rolls: rolls}
}

// RollExpression parses and rolls raw in one step.
func RollExpression(raw string, seed int64) (Result, error) {
	expr, err := Parse(raw)
	if err != nil {
		return Result{}, err
	}
	return expr.Roll(seed), nil
}
