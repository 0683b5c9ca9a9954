package iterator

var _ Iterator = (*lineChannel)(nil)

type lineChannel struct {
	ch   <-chan Line
	next int
}

func (e *lineChannel) Next() (Line, int, error) {
	line, ok := <-e.ch
	if !ok {
		return End()
	}
	cur := e.next
	e.next += 1
	return line, cur, nil
}

func (e *lineChannel) Iterate(iter func(line Line, i int) error) error {
	return iterate(e, iter)
}
