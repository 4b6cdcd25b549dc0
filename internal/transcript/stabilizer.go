// Package transcript stabilizes streaming speech-to-text output into a single
// committable utterance per turn.
//
// Streaming recognizers emit interim partials and revisable finals for the
// same audio region. The [Stabilizer] reconciles them using word end-times:
// a final result only replaces the held text when it covers audio beyond the
// last accepted segment, so late re-emissions of already-processed audio can
// never roll the utterance back.
//
// A Stabilizer is safe for concurrent use; in practice each live call owns
// one and resets it after every committed turn.
package transcript

import (
	"sync"

	"github.com/voxline/voxline/pkg/types"
)

// Stabilizer folds a stream of recognition results into the current best
// utterance text. The zero value is ready to use.
type Stabilizer struct {
	mu sync.Mutex

	// lastEnd is the end-time of the last word of the most recently accepted
	// final result. Results ending at or before this fence are stale.
	lastEnd int64 // nanoseconds, types.WordDetail.End
	current string
}

// NewStabilizer returns an empty Stabilizer.
func NewStabilizer() *Stabilizer {
	return &Stabilizer{}
}

// Process feeds one recognition result and returns the current stabilized
// utterance text.
//
// Interim (non-final) results never change state and always yield the empty
// string. Final results without word detail are no-ops that return the held
// text: with no end-time there is no way to order them against what was
// already accepted. A final result is accepted only when its last word ends
// strictly after the current fence; accepting it replaces the held text
// wholesale, matching recognizers that re-send the full utterance on each
// revision.
func (s *Stabilizer) Process(tr types.Transcript) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !tr.IsFinal {
		return ""
	}
	if len(tr.Words) == 0 {
		return s.current
	}

	end := int64(tr.Words[len(tr.Words)-1].End)
	if end > s.lastEnd {
		s.current = tr.Text
		s.lastEnd = end
	}
	return s.current
}

// Current returns the stabilized utterance without feeding a result.
func (s *Stabilizer) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Reset clears the utterance and the end-time fence, returning the Stabilizer
// to its initial state. A reset Stabilizer is indistinguishable from a fresh
// one.
func (s *Stabilizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = ""
	s.lastEnd = 0
}
