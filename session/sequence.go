package session

// HalfRange splits the 16-bit sequence space into "ahead" and "behind".
const HalfRange = 0x7fff

// SeqResult classifies an inbound sequence number.
type SeqResult int

const (
	// SeqInOrder is exactly the expected number.
	SeqInOrder SeqResult = iota
	// SeqLoss is ahead of the expected number; the frames in between were lost.
	SeqLoss
	// SeqStale is behind the expected number: a duplicate, a late reorder or a replay.
	SeqStale
)

func (r SeqResult) String() string {
	switch r {
	case SeqInOrder:
		return "in_order"
	case SeqLoss:
		return "loss"
	case SeqStale:
		return "stale"
	default:
		return "invalid"
	}
}

// Classify compares seq with the expected sequence number using wrapping
// 16-bit arithmetic. For SeqLoss, lost is the forward distance seq - expected:
// the number of missing frames, not the gap from the previous frame. After
// 100, seq 105 reports 4 lost (101 to 104).
func Classify(expected, seq uint16) (result SeqResult, lost uint16) {
	diff := seq - expected
	switch {
	case diff == 0:
		return SeqInOrder, 0
	case diff <= HalfRange:
		return SeqLoss, diff
	default:
		return SeqStale, 0
	}
}

// SequenceTracker holds the next expected sequence number of one inbound
// stream and cumulative statistics. The zero value expects sequence 0.
type SequenceTracker struct {
	expected uint16
	received uint64
	lost     uint64
	stale    uint64
}

// Check classifies seq and advances the expected number unless seq is stale.
func (s *SequenceTracker) Check(seq uint16) (SeqResult, uint16) {
	result, lost := Classify(s.expected, seq)
	if result == SeqStale {
		s.stale++
		return result, 0
	}

	s.received++
	s.lost += uint64(lost)
	s.expected = seq + 1
	return result, lost
}

// Expected returns the next expected sequence number.
func (s *SequenceTracker) Expected() uint16 {
	return s.expected
}

// SetExpected overrides the next expected sequence number.
func (s *SequenceTracker) SetExpected(seq uint16) {
	s.expected = seq
}

// Stats returns cumulative counters.
func (s *SequenceTracker) Stats() (received, lost, stale uint64) {
	return s.received, s.lost, s.stale
}

// Reset clears all tracking state.
func (s *SequenceTracker) Reset() {
	*s = SequenceTracker{}
}
