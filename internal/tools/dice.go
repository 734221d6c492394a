package tools

import (
	"context"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
)

// Dice rolls dice. Intn draws uniformly from [0, n); nil uses math/rand.
type Dice struct {
	Intn func(n int) int
}

func (Dice) Name() string { return "roll_dice" }

func (Dice) Description() string {
	return "Roll one or more dice and return individual rolls and total."
}

func (Dice) Parameters() map[string]any {
	return schema([]string{"sides", "count"}, map[string]any{
		"sides": map[string]any{"type": "integer", "description": "Number of sides per die"},
		"count": map[string]any{"type": "integer", "description": "How many dice to roll"},
	})
}

func (d Dice) Call(_ context.Context, input string) (string, error) {
	args := parseArgs(input)
	sides := clampInt(args["sides"], 2, 1000, 6)
	count := clampInt(args["count"], 1, 20, 1)

	intn := d.Intn
	if intn == nil {
		intn = rand.IntN
	}

	rolls := make([]int, count)
	total := 0
	for i := range rolls {
		rolls[i] = intn(sides) + 1
		total += rolls[i]
	}

	return encodeResult(map[string]any{
		"sides": sides,
		"count": count,
		"rolls": rolls,
		"total": total,
	})
}

// clampInt reads an integer from a JSON value, truncating fractions, and
// clamps it to [min, max]. Unusable values yield def.
func clampInt(raw any, min, max, def int) int {
	var v float64
	switch x := raw.(type) {
	case float64:
		v = x
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return def
		}
		v = f
	default:
		return def
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	n := int(math.Trunc(v))
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
