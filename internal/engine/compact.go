package engine

// compact drops filled and vacated slots while keeping survivors in their
// original relative order, since position is time priority. It walks every
// slot exactly once, then clears the tail, and returns the new count.
func compact(slots []Order, count int) int {
	w := 0
	for r := 0; r < len(slots); r++ {
		if r < count && slots[r].Quantity > 0 {
			if r != w {
				slots[w] = slots[r]
			}
			w++
		}
	}
	for i := 0; i < len(slots); i++ {
		if i >= w {
			slots[i] = Order{}
		}
	}
	return w
}

func (s *bookSide) compact() {
	s.count = compact(s.slots, s.count)
}
