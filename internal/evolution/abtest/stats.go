package abtest

import "math"

// maxConfidence caps the reported confidence; a finite sample never
// justifies certainty.
const maxConfidence = 0.99

// twoProportionConfidence computes the confidence that the two pass
// proportions differ, via a pooled two-proportion z-test. The confidence
// is the normal CDF of z, so identical proportions sit at the 0.5
// no-evidence baseline.
func twoProportionConfidence(passA, nA, passB, nB int) float64 {
	if nA == 0 || nB == 0 {
		return 0
	}
	pA := float64(passA) / float64(nA)
	pB := float64(passB) / float64(nB)
	pooled := float64(passA+passB) / float64(nA+nB)

	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(nA) + 1/float64(nB)))
	if se == 0 {
		// Degenerate pooled variance: every trial agreed. Equal
		// proportions carry no evidence of a difference (z = 0).
		if pA == pB {
			return normalCDF(0)
		}
		return maxConfidence
	}

	z := math.Abs(pA-pB) / se
	confidence := normalCDF(z)
	if confidence > maxConfidence {
		confidence = maxConfidence
	}
	return confidence
}

// normalCDF is the standard normal cumulative distribution function.
func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}
