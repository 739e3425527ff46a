// ABOUTME: Per-client session state: declared sequences, byte counts and predictions.
// ABOUTME: Correlates backend utterance ids to client sequences with a sticky current sequence.

package session

import (
	"math"
	"math/bits"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PredictionSeparator joins accumulated predictions for persistence.
const PredictionSeparator = ", "

// SequenceRecord is one declared unit of audio.
type SequenceRecord struct {
	ID          int       `json:"sequence_id"`
	InputWord   string    `json:"input_word"`
	StartedAt   time.Time `json:"started_at"`
	ByteCount   int64     `json:"byte_count"`
	Predictions []string  `json:"predictions"`
}

// State is the bookkeeping for one client connection.
type State struct {
	ID        string
	CreatedAt time.Time

	mu            sync.Mutex
	authenticated bool
	slot          int
	pending       []int
	current       int
	hasCurrent    bool
	sequences     map[int]*SequenceRecord
	utterances    map[string]int
}

// New creates a session with a fresh UUID.
func New(now time.Time) *State {
	return &State{
		ID:         uuid.New().String(),
		CreatedAt:  now,
		sequences:  make(map[int]*SequenceRecord),
		utterances: make(map[string]int),
	}
}

// SetAuthenticated marks the session as having passed authorization.
func (s *State) SetAuthenticated() {
	s.mu.Lock()
	s.authenticated = true
	s.mu.Unlock()
}

// Authenticated reports whether the session passed authorization.
func (s *State) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// BindSlot records the pool slot bound to this session. Zero clears it.
func (s *State) BindSlot(index int) {
	s.mu.Lock()
	s.slot = index
	s.mu.Unlock()
}

// Slot returns the bound pool slot and whether one is bound.
func (s *State) Slot() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slot, s.slot != 0
}

// DeclareSequence registers a sequence and queues it for audio attribution.
// The first declaration of an id wins; later ones are ignored and return false.
func (s *State) DeclareSequence(seqID int, inputWord string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sequences[seqID]; exists {
		return false
	}
	s.sequences[seqID] = &SequenceRecord{
		ID:        seqID,
		InputWord: inputWord,
		StartedAt: at,
	}
	s.pending = append(s.pending, seqID)
	return true
}

// CurrentSequence pops the next pending sequence if there is one, otherwise it
// returns the last popped sequence. ok is false if no sequence was ever popped.
func (s *State) CurrentSequence() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked()
}

func (s *State) currentLocked() (int, bool) {
	if len(s.pending) > 0 {
		s.current = s.pending[0]
		s.pending = s.pending[1:]
		s.hasCurrent = true
	}
	return s.current, s.hasCurrent
}

// PendingSequences returns the declared sequences not yet consumed by audio.
func (s *State) PendingSequences() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.pending))
	copy(out, s.pending)
	return out
}

// AccumulateBytes adds n audio bytes to a sequence and returns its new total.
// Unknown sequences and negative counts are ignored.
func (s *State) AccumulateBytes(seqID int, n int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sequences[seqID]
	if !ok {
		return 0
	}
	if n > 0 {
		rec.ByteCount += int64(n)
	}
	return rec.ByteCount
}

// CorrelateUtterance maps a backend utterance id to a sequence. The first
// mapping is memoized. ok is false when there is no current sequence to bind to.
func (s *State) CorrelateUtterance(uttID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq, ok := s.utterances[uttID]; ok {
		return seq, true
	}
	seq, ok := s.currentLocked()
	if !ok {
		return 0, false
	}
	s.utterances[uttID] = seq
	return seq, true
}

// AppendPrediction appends a result to a sequence and returns all of its
// predictions joined with PredictionSeparator.
func (s *State) AppendPrediction(seqID int, text string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sequences[seqID]
	if !ok {
		return "", false
	}
	rec.Predictions = append(rec.Predictions, text)
	return strings.Join(rec.Predictions, PredictionSeparator), true
}

// Snapshot returns a copy of a sequence record.
func (s *State) Snapshot(seqID int) (SequenceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sequences[seqID]
	if !ok {
		return SequenceRecord{}, false
	}
	cp := *rec
	cp.Predictions = append([]string(nil), rec.Predictions...)
	return cp, true
}

// SequenceCount returns how many sequences have been declared.
func (s *State) SequenceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sequences)
}

// Duration converts a byte count of PCM audio into playback time, rounded to
// the millisecond. The byte rate is sampleRate * bytesPerSample, so 16-bit
// audio at 16 kHz plays 32000 bytes per second. Passing bytesPerSample 1
// reproduces a plain bytes / sampleRate reading.
func Duration(bytes int64, sampleRate, bytesPerSample int) time.Duration {
	if bytes <= 0 || sampleRate <= 0 || bytesPerSample <= 0 {
		return 0
	}
	perSecond := uint64(sampleRate) * uint64(bytesPerSample)
	whole, rem := uint64(bytes)/perSecond, uint64(bytes)%perSecond
	if whole >= uint64(math.MaxInt64/int64(time.Second)) {
		return time.Duration(math.MaxInt64)
	}
	// rem < perSecond, so the quotient always fits in 64 bits.
	hi, lo := bits.Mul64(rem, uint64(time.Second))
	frac, _ := bits.Div64(hi, lo, perSecond)
	d := time.Duration(whole)*time.Second + time.Duration(frac)
	return d.Round(time.Millisecond)
}
