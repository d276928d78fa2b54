package fsrs

// Parameters is the FSRS-6 weight vector w0...w20 plus the per-deployment
// desired-retention target. The zero value is invalid; use DefaultParameters.
type Parameters struct {
	W                [21]float64
	RequestRetention float64
}

// FSRS6Weights are the published FSRS-6 default weights, with w20 (the
// decay exponent) overridden to this deployment's default of 0.1542.
var FSRS6Weights = [21]float64{
	0.2172, 1.1771, 3.2602, 16.1507, 7.0114, 0.57, 2.0966, 0.0069,
	1.5261, 0.112, 1.0178, 1.849, 0.1133, 0.3127, 2.2934, 0.2191,
	3.0004, 0.7536, 0.3332, 0.1437, DefaultDecay,
}

const (
	// DefaultDecay is w20, the per-user decay exponent.
	DefaultDecay = 0.1542
	// DefaultRetention is the target retrievability used to compute the
	// next review interval absent a caller override.
	DefaultRetention = 0.9

	MinStability  = 0.01
	MaxStability  = 36500.0
	MinDifficulty = 1.0
	MaxDifficulty = 10.0

	// MaxIntervalDays is the configurable ceiling on scheduled_days.
	MaxIntervalDays = 36500

	// EmotionalBoostK is the default sentiment-magnitude stability
	// multiplier coefficient.
	EmotionalBoostK = 0.5
)

// DefaultParameters returns FSRS6Weights paired with DefaultRetention.
func DefaultParameters() Parameters {
	return Parameters{W: FSRS6Weights, RequestRetention: DefaultRetention}
}

// Factor is FACTOR = 0.9^(-1/w20) - 1, the constant tying retrievability to
// elapsed time and stability under the given decay exponent.
func (p Parameters) Factor() float64 {
	return factor(p.W[20])
}
