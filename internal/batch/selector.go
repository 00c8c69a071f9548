package batch

import "sort"

// SelectReference picks the reference file for a batch.
//
// A non-empty explicitKey always wins and is used verbatim; it must still be
// one of the candidates. Otherwise strategy decides: smallest by size or
// newest by modification time, with ties going to the lexicographically
// smallest key. The result depends only on the inputs, so repeated calls on
// an unchanged listing return the same selection.
func SelectReference(candidates []CandidateFile, strategy Strategy, explicitKey string) (ReferenceSelection, error) {
	if len(candidates) == 0 {
		return ReferenceSelection{}, Errorf(KindNoCandidate, "no candidate files to choose a reference from")
	}

	if explicitKey != "" {
		for _, c := range candidates {
			if c.Key == explicitKey {
				return ReferenceSelection{Key: c.Key, SizeBytes: c.SizeBytes, Strategy: StrategyExplicit}, nil
			}
		}
		return ReferenceSelection{}, Errorf(KindReferenceNotFound, "reference %q is not among the %d candidate files", explicitKey, len(candidates))
	}

	var better func(a, b CandidateFile) bool
	switch strategy {
	case StrategyNewest:
		better = func(a, b CandidateFile) bool {
			if !a.LastModified.Equal(b.LastModified) {
				return a.LastModified.After(b.LastModified)
			}
			return a.Key < b.Key
		}
	case StrategySmallest, "":
		strategy = StrategySmallest
		better = func(a, b CandidateFile) bool {
			if a.SizeBytes != b.SizeBytes {
				return a.SizeBytes < b.SizeBytes
			}
			return a.Key < b.Key
		}
	default:
		return ReferenceSelection{}, Errorf(KindInvalidRequest, "unknown reference strategy %q", strategy)
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if better(c, best) {
			best = c
		}
	}
	return ReferenceSelection{Key: best.Key, SizeBytes: best.SizeBytes, Strategy: strategy}, nil
}

// ExcludeReference returns the candidates minus the reference, sorted by key.
func ExcludeReference(candidates []CandidateFile, ref ReferenceSelection) []CandidateFile {
	remaining := make([]CandidateFile, 0, len(candidates))
	for _, c := range candidates {
		if c.Key != ref.Key {
			remaining = append(remaining, c)
		}
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].Key < remaining[j].Key })
	return remaining
}
