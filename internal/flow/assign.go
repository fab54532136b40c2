package flow

import (
	"math/rand/v2"

	"github.com/BTreeMap/EvaluBot/internal/models"
)

// ModeAssigner picks the dialogue mode of a new conversation from the modes
// its domain allows. allowed is never empty.
type ModeAssigner interface {
	Assign(allowed []models.Mode) models.Mode
}

// FixedMode always assigns one mode, or the domain's first mode when it is not allowed.
type FixedMode models.Mode

// Assign implements ModeAssigner.
func (f FixedMode) Assign(allowed []models.Mode) models.Mode {
	for _, m := range allowed {
		if m == models.Mode(f) {
			return m
		}
	}
	return allowed[0]
}

// RandomMode picks among the allowed modes by weight. A mode without a
// weight counts as 1; with no weights the choice is uniform.
type RandomMode struct {
	Weights map[models.Mode]int
	intN    func(n int) int
}

// NewRandomMode creates a weighted random assigner. A nil intN uses math/rand/v2.
func NewRandomMode(weights map[models.Mode]int, intN func(n int) int) *RandomMode {
	if intN == nil {
		intN = rand.IntN
	}
	return &RandomMode{Weights: weights, intN: intN}
}

func (r *RandomMode) weight(m models.Mode) int {
	w, ok := r.Weights[m]
	if !ok {
		return 1
	}
	if w < 0 {
		return 0
	}
	return w
}

// Assign implements ModeAssigner.
func (r *RandomMode) Assign(allowed []models.Mode) models.Mode {
	total := 0
	for _, m := range allowed {
		total += r.weight(m)
	}
	if total == 0 {
		return allowed[0]
	}
	pick := r.intN(total)
	for _, m := range allowed {
		pick -= r.weight(m)
		if pick < 0 {
			return m
		}
	}
	return allowed[len(allowed)-1]
}
