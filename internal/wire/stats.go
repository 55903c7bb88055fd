// Running compression statistics.
package wire

// Stats accumulates bytes before/after compression.
type Stats struct {
	Frames      uint64 `json:"frames"`
	BytesBefore uint64 `json:"bytes_before"`
	BytesAfter  uint64 `json:"bytes_after"`
}

func (s *Stats) record(before, after int) {
	s.Frames++
	s.BytesBefore += uint64(before)
	s.BytesAfter += uint64(after)
}

// Ratio returns compressed/original size, or 1 before any frame.
func (s Stats) Ratio() float64 {
	if s.BytesBefore == 0 {
		return 1
	}
	return float64(s.BytesAfter) / float64(s.BytesBefore)
}
