package feedback

import "math"

// z for a 95% two-sided interval.
const defaultZ = 1.96

// wilsonLowerBound returns the Wilson score lower bound of a win rate:
// a conservative estimate of the true proportion that stays low on small
// samples, so point-estimate noise alone never flags a group.
func wilsonLowerBound(wins, samples int, z float64) float64 {
	if samples == 0 {
		return 0
	}
	if z <= 0 {
		z = defaultZ
	}

	n := float64(samples)
	p := float64(wins) / n
	z2 := z * z

	numerator := p + z2/(2*n) - z*math.Sqrt(p*(1-p)/n+z2/(4*n*n))
	lower := numerator / (1 + z2/n)

	if lower < 0 {
		return 0
	}
	return lower
}
