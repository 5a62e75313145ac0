package engine

import "pathfinder/internal/domain"

// Overlap records one sample identifier matched by more than one rule of a family.
// Params: family, owning rule, other matching rule, sample, and whether the other rule comes first.
// Returns: maintenance finding; Shadowed means the owning rule can never win for this sample.
type Overlap struct {
	Family   string `json:"family"`
	Rule     string `json:"rule"`
	Other    string `json:"other"`
	Example  string `json:"example"`
	Shadowed bool   `json:"shadowed"`
}

// findOverlaps checks every rule example against sibling rules.
// Params: compiled families.
// Returns: findings in family/rule order.
func findOverlaps(families []Family) []Overlap {
	var out []Overlap
	for _, family := range families {
		for i, rule := range family.Rules {
			for _, example := range rule.Examples {
				normalized, err := domain.Normalize(example)
				if err != nil {
					continue
				}
				for j, other := range family.Rules {
					if i == j || !other.Pattern.MatchString(normalized) {
						continue
					}
					out = append(out, Overlap{
						Family:   family.Name,
						Rule:     rule.ID,
						Other:    other.ID,
						Example:  normalized,
						Shadowed: j < i,
					})
				}
			}
		}
	}
	return out
}

