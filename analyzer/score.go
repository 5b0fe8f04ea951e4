package analyzer

// Score applies the fixed deduction rule. Each check is independent.
func Score(f Features) int {
	score := 100
	if f.Title == Missing {
		score -= 20
	}
	if f.Description == Missing {
		score -= 20
	}
	if f.H1Count == 0 {
		score -= 10
	}
	if f.ImgAltMissing > 5 {
		score -= 10
	}
	if score < 0 {
		score = 0
	}
	return score
}
