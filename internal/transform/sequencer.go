package transform

// Sequencer hands out the 1-based positions of a parent's ordered children.
// A Sequencer belongs to exactly one way or relation and is dropped with it.
type Sequencer struct {
	next int64
}

// NewSequencer returns a sequencer whose first position is 1
func NewSequencer() *Sequencer {
	return &Sequencer{next: 1}
}

// Next returns the next position
func (s *Sequencer) Next() int64 {
	n := s.next
	s.next++
	return n
}
