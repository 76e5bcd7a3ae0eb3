// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package similarity

import "github.com/sevakavakians/kato-sub008/internal/pattern"

// Result is the output of matching one candidate pattern P against an
// STM S: the similarity ratio plus the temporal segmentation of §4.9.
type Result struct {
	Similarity float64

	// Past, Present, Future are P's events, partitioned by the
	// matched region: Past strictly precedes the first aligned symbol
	// in P, Future strictly follows the last, Present spans the
	// aligned region inclusive of both ends.
	Past, Present, Future pattern.STM

	// Matches are the symbols common to S and P inside Present.
	Matches []string

	// Missing are Present-region symbols of P not matched in S.
	Missing []string

	// Extras are symbols present in S but outside the matched Present
	// region in P.
	Extras []string
}

// Mode selects token (atomic symbols) or character (flattened string)
// matching, per §4.9's use_token_matching switch.
type Mode int

const (
	// ModeToken treats each symbol as an atomic unit (default).
	ModeToken Mode = iota
	// ModeCharacter flattens symbols to a character string (legacy).
	ModeCharacter
)

// flattenToChars renders a flat token sequence as a slice of
// single-character strings, joining tokens with no separator — this
// mirrors treating the observation stream as one contiguous string
// the way the legacy character-mode matcher in the source system did.
func flattenToChars(tokens []string) []string {
	n := 0
	for _, t := range tokens {
		n += len(t)
	}
	out := make([]string, 0, n)
	for _, t := range tokens {
		for _, r := range t {
			out = append(out, string(r))
		}
	}
	return out
}

// sequencesFor returns the comparison sequences for S and P's flattened
// forms under the given mode.
func sequencesFor(sFlat, pFlat []string, mode Mode) (s, p []string) {
	if mode == ModeCharacter {
		return flattenToChars(sFlat), flattenToChars(pFlat)
	}
	return sFlat, pFlat
}

// Match aligns STM s against candidate pattern events p (already in
// canonical, original-learned-order form) and returns the similarity
// ratio and temporal segmentation. |S|=0 or |P|=0 yields similarity 0
// with no segmentation, per §4.9's edge case.
func Match(s pattern.STM, p pattern.STM, mode Mode) Result {
	sFlat := s.Flatten()
	pFlat := p.Flatten()

	if len(sFlat) == 0 || len(pFlat) == 0 {
		return Result{Similarity: 0}
	}

	seqS, seqP := sequencesFor(sFlat, pFlat, mode)
	matcher := NewMatcher(seqS, seqP)
	blocks := matcher.MatchingBlocks()

	matched := 0
	firstP, lastP := -1, -1
	for _, blk := range blocks {
		if blk.Size == 0 {
			continue
		}
		matched += blk.Size
		if firstP == -1 || blk.B < firstP {
			firstP = blk.B
		}
		if blk.B+blk.Size-1 > lastP {
			lastP = blk.B + blk.Size - 1
		}
	}

	similarity := 2 * float64(matched) / float64(len(seqS)+len(seqP))

	if firstP == -1 {
		// No overlap at all: everything is future, nothing matched.
		return Result{Similarity: similarity, Future: p.Clone()}
	}

	// In token mode, firstP/lastP index directly into pFlat, and we
	// can map back to event boundaries. In character mode the indices
	// refer to a character stream with no direct event-boundary
	// meaning for P, so the temporal segmentation is only computed for
	// token mode; character mode is used purely for the ratio/ gating
	// decision, consistent with its role as the legacy compatibility
	// path in spec §9 ("Character-vs-token LCS is configurable, but
	// performance and semantics differ dramatically").
	var past, present, future pattern.STM
	var matchesSyms, missingSyms, extrasSyms []string

	if mode == ModeToken {
		past, present, future = segmentEvents(p, firstP, lastP)
		matchesSyms, missingSyms = matchesAndMissing(blocks, seqP, firstP, lastP)
		extrasSyms = extras(blocks, seqS)
	}

	return Result{
		Similarity: similarity,
		Past:       past,
		Present:    present,
		Future:     future,
		Matches:    matchesSyms,
		Missing:    missingSyms,
		Extras:     extrasSyms,
	}
}

// segmentEvents partitions p's events into past/present/future based
// on the flattened-index boundaries [firstP, lastP] of the matched
// region.
func segmentEvents(p pattern.STM, firstP, lastP int) (past, present, future pattern.STM) {
	idx := 0
	for _, ev := range p {
		start := idx
		end := idx + len(ev)
		idx = end
		switch {
		case end <= firstP:
			past = append(past, ev.Clone())
		case start > lastP:
			future = append(future, ev.Clone())
		default:
			present = append(present, ev.Clone())
		}
	}
	return
}

// matchesAndMissing derives the Present-region matched symbols and the
// Present-region symbols of P that were not matched, treating
// duplicates within an event as multisets per §4.9.
func matchesAndMissing(blocks []Match, seqP []string, firstP, lastP int) (matches, missing []string) {
	matchedIdx := make(map[int]bool, lastP-firstP+1)
	for _, blk := range blocks {
		for k := 0; k < blk.Size; k++ {
			j := blk.B + k
			if j >= firstP && j <= lastP {
				matchedIdx[j] = true
			}
		}
	}
	for j := firstP; j <= lastP; j++ {
		if matchedIdx[j] {
			matches = append(matches, seqP[j])
		} else {
			missing = append(missing, seqP[j])
		}
	}
	return
}

// extras returns symbols of S that fall outside any matching block,
// i.e. present in S but not aligned to P's matched region.
func extras(blocks []Match, seqS []string) []string {
	matchedIdx := make(map[int]bool, len(seqS))
	for _, blk := range blocks {
		for k := 0; k < blk.Size; k++ {
			matchedIdx[blk.A+k] = true
		}
	}
	var out []string
	for i, sym := range seqS {
		if !matchedIdx[i] {
			out = append(out, sym)
		}
	}
	return out
}
