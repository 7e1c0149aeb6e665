package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		expected uint16
		seq      uint16
		want     SeqResult
		wantLost uint16
	}{
		{"in order", 10, 10, SeqInOrder, 0},
		{"one ahead", 10, 11, SeqLoss, 1},
		{"edge of half range", 0, HalfRange, SeqLoss, HalfRange},
		{"just past half range", 0, HalfRange + 1, SeqStale, 0},
		{"duplicate", 11, 10, SeqStale, 0},
		{"loss across wrap", 65535, 2, SeqLoss, 3},
		{"stale across wrap", 1, 65535, SeqStale, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, lost := Classify(tt.expected, tt.seq)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantLost, lost)
		})
	}
}

// TestSequenceTrackerWraparound feeds a stream across the 16-bit boundary.
func TestSequenceTrackerWraparound(t *testing.T) {
	var tr SequenceTracker
	tr.SetExpected(65534)

	for _, seq := range []uint16{65534, 65535, 0, 1} {
		result, lost := tr.Check(seq)
		assert.Equal(t, SeqInOrder, result, "seq %d", seq)
		assert.Zero(t, lost)
	}
	assert.Equal(t, uint16(2), tr.Expected())
}

func TestSequenceTrackerStale(t *testing.T) {
	var tr SequenceTracker
	tr.SetExpected(100)

	result, _ := tr.Check(100)
	assert.Equal(t, SeqInOrder, result)

	result, _ = tr.Check(50)
	assert.Equal(t, SeqStale, result)
	assert.Equal(t, uint16(101), tr.Expected(), "stale frame must not move expected")
}

func TestSequenceTrackerLoss(t *testing.T) {
	var tr SequenceTracker
	tr.SetExpected(100)
	tr.Check(100)

	// 101..104 were skipped: the distance from the expected 101 to 105 is 4
	result, lost := tr.Check(105)
	assert.Equal(t, SeqLoss, result)
	assert.Equal(t, uint16(4), lost)
	assert.Equal(t, uint16(106), tr.Expected())

	received, totalLost, stale := tr.Stats()
	assert.Equal(t, uint64(2), received)
	assert.Equal(t, uint64(4), totalLost)
	assert.Zero(t, stale)
}

func TestSequenceTrackerZeroValue(t *testing.T) {
	var tr SequenceTracker
	result, _ := tr.Check(0)
	assert.Equal(t, SeqInOrder, result)

	tr.Check(9)
	tr.Reset()
	assert.Zero(t, tr.Expected())
	received, _, _ := tr.Stats()
	assert.Zero(t, received)
}
