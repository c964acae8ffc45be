// Package elo turns a pair of team ratings into match probabilities.
package elo

import "math"

// Outcome holds the three-way result probabilities of a group match from
// the first team's point of view.
type Outcome struct {
	Win  float64 `json:"win"`
	Draw float64 `json:"draw"`
	Loss float64 `json:"loss"`

	// WinExpectancy is the raw logistic value before the draw is carved out.
	WinExpectancy float64 `json:"winExpectancy"`
}

// Model carries the constants of the rating model. The zero value is not
// usable; start from DefaultModel.
type Model struct {
	// Scale is the rating difference that multiplies the odds by ten.
	Scale float64 `yaml:"scale" json:"scale" validate:"gt=0"`

	// DrawBase is the draw probability between equally rated teams.
	DrawBase float64 `yaml:"drawBase" json:"drawBase" validate:"gte=0,lt=1"`

	// DrawSlope is subtracted from DrawBase per rating point of difference.
	DrawSlope float64 `yaml:"drawSlope" json:"drawSlope" validate:"gte=0"`

	// DrawFloor is the lowest draw probability the model will return.
	DrawFloor float64 `yaml:"drawFloor" json:"drawFloor" validate:"gte=0,lt=1"`
}

const (
	DefaultScale     = 400.0
	DefaultDrawBase  = 0.27
	DefaultDrawSlope = 0.0004
	DefaultDrawFloor = 0.15
)

// DefaultModel returns the model used throughout the forecast.
func DefaultModel() Model {
	return Model{
		Scale:     DefaultScale,
		DrawBase:  DefaultDrawBase,
		DrawSlope: DefaultDrawSlope,
		DrawFloor: DefaultDrawFloor,
	}
}

// WinExpectancy is the standard logistic rating formula.
func (m Model) WinExpectancy(ratingA, ratingB float64) float64 {
	return 1 / (1 + math.Pow(10, (ratingB-ratingA)/m.Scale))
}

// DrawProbability shrinks linearly with the rating gap down to DrawFloor.
func (m Model) DrawProbability(ratingA, ratingB float64) float64 {
	return math.Max(m.DrawFloor, m.DrawBase-math.Abs(ratingA-ratingB)*m.DrawSlope)
}

// MatchOutcome splits the win expectancy of team A across win, draw and
// loss. The three probabilities always sum to one.
func (m Model) MatchOutcome(ratingA, ratingB float64) Outcome {
	we := m.WinExpectancy(ratingA, ratingB)
	draw := m.DrawProbability(ratingA, ratingB)
	return Outcome{
		Win:           we * (1 - draw),
		Draw:          draw,
		Loss:          (1 - we) * (1 - draw),
		WinExpectancy: we,
	}
}

// KnockoutWin is the probability that A beats B when a draw is not a
// possible outcome.
func (m Model) KnockoutWin(ratingA, ratingB float64) float64 {
	return m.WinExpectancy(ratingA, ratingB)
}

var defaultModel = DefaultModel()

// MatchOutcomeProbabilities evaluates MatchOutcome with the default model.
func MatchOutcomeProbabilities(ratingA, ratingB float64) Outcome {
	return defaultModel.MatchOutcome(ratingA, ratingB)
}

// KnockoutWinProbability evaluates KnockoutWin with the default model.
func KnockoutWinProbability(ratingA, ratingB float64) float64 {
	return defaultModel.KnockoutWin(ratingA, ratingB)
}
