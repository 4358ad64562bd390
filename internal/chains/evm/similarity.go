package evm

// Similarity is a discrete tier derived from a fingerprint distance.
type Similarity int

const (
	Identical       Similarity = iota // distance 0
	SameContract                      // 1-30: same contract, different immutables
	SameFamily                        // 31-100: same protocol family or fork
	PossiblyRelated                   // 101-150
	Different                         // above 150
)

// SimilarityFromDistance maps a distance onto its tier. Negative distances
// are not valid and map to Different.
func SimilarityFromDistance(distance int) Similarity {
	switch {
	case distance < 0:
		return Different
	case distance == 0:
		return Identical
	case distance <= 30:
		return SameContract
	case distance <= 100:
		return SameFamily
	case distance <= 150:
		return PossiblyRelated
	default:
		return Different
	}
}

// IsSameFamily reports whether the tier indicates the same protocol family.
func (s Similarity) IsSameFamily() bool {
	return s == Identical || s == SameContract || s == SameFamily
}

func (s Similarity) String() string {
	switch s {
	case Identical:
		return "Identical"
	case SameContract:
		return "SameContract"
	case SameFamily:
		return "SameFamily"
	case PossiblyRelated:
		return "PossiblyRelated"
	default:
		return "Different"
	}
}
