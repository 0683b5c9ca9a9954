package iterator

var _ Iterator = (*lineSlice)(nil)

type lineSlice struct {
	lines []Line
	next  int
}

func (e *lineSlice) Next() (Line, int, error) {
	cur := e.next
	if len(e.lines) > cur {
		e.next += 1
		return e.lines[cur], cur, nil
	}
	return End()
}

func (e *lineSlice) Iterate(iter func(line Line, i int) error) error {
	return iterate(e, iter)
}
