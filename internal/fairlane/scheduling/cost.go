package scheduling

// CostAggregator collapses a multi-dimensional cost estimate into the single
// scalar job size used by the fairness tag computation. Injectable because
// whether dimensions should combine additively or by dominance is a policy
// choice, not a property of the algorithm.
type CostAggregator func(estimate map[string]float64) float64

// SumCost sizes a job as the sum of its cost dimensions.
func SumCost(estimate map[string]float64) float64 {
	var total float64
	for _, c := range estimate {
		total += c
	}
	return total
}

// DominantCost sizes a job by its largest cost dimension.
func DominantCost(estimate map[string]float64) float64 {
	var max float64
	for _, c := range estimate {
		if c > max {
			max = c
		}
	}
	return max
}
