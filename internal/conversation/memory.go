package conversation

// TurnMemory is an append-only ring buffer of the most recent turns of one
// session. Older turns are silently dropped once the cap is reached.
type TurnMemory struct {
	turns    []Turn
	capacity int
	total    int
}

func NewTurnMemory(capacity int) *TurnMemory {
	if capacity <= 0 {
		capacity = 20
	}
	return &TurnMemory{
		turns:    make([]Turn, 0, capacity),
		capacity: capacity,
	}
}

func (m *TurnMemory) Append(turn Turn) {
	m.total++
	m.turns = append(m.turns, turn)
	if len(m.turns) > m.capacity {
		m.turns = m.turns[len(m.turns)-m.capacity:]
	}
}

// Recent returns up to n most-recent turns, oldest first.
func (m *TurnMemory) Recent(n int) []Turn {
	if n <= 0 || len(m.turns) == 0 {
		return nil
	}
	if n > len(m.turns) {
		n = len(m.turns)
	}
	out := make([]Turn, n)
	copy(out, m.turns[len(m.turns)-n:])
	return out
}

func (m *TurnMemory) Last() (Turn, bool) {
	if len(m.turns) == 0 {
		return Turn{}, false
	}
	return m.turns[len(m.turns)-1], true
}

// Len is the number of retained turns; TotalTurns counts every turn ever
// appended, which drives the relaxation stage even after eviction.
func (m *TurnMemory) Len() int {
	return len(m.turns)
}

func (m *TurnMemory) TotalTurns() int {
	return m.total
}
