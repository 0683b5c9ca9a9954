package iterator

import (
	"context"
	"sync"
)

// Cancellable wraps an iterator and makes it cancellable by context.
// Once the context is cancelled, Next reports the end of the stream and the remaining lines are forwarded to Drain.
func Cancellable(ctx context.Context, iter Iterator) Iterator {
	var drain sync.Once
	return Func(func() (Line, int, error) {
		if ctx.Err() != nil {
			drain.Do(func() {
				Drain(iter)
			})
			return End()
		}
		return iter.Next()
	})
}

// Concat will return lines from next after base has been exhausted.
// Offsets continue from where base left off.
func Concat(base, next Iterator) Iterator {
	var (
		idx      int
		baseDone bool
	)
	return Func(func() (Line, int, error) {
		if !baseDone {
			l, i, err := base.Next()
			if err == nil {
				idx++
				return l, i, nil
			}
			if !IsEnd(err) {
				return l, i, err
			}
			baseDone = true
		}
		l, i, err := next.Next()
		if err != nil {
			return l, i, err
		}
		return l, i + idx, nil
	})
}

// Head limits iter to its first n lines. Once the budget is spent, Head reports the end of the stream without reading
// from iter again, so no line beyond position n is ever consumed.
// A negative n means no limit.
func Head(iter Iterator, n int) Iterator {
	if n < 0 {
		return iter
	}
	var read int
	return Func(func() (Line, int, error) {
		if read >= n {
			return End()
		}
		l, i, err := iter.Next()
		if err != nil {
			return l, i, err
		}
		read++
		return l, i, nil
	})
}

// Merge will take over the passed in Iterators and forward all of their lines to the new Iterator as they arrive.
// Lines from one source keep their relative order, but there's no ordering between sources.
// It's advised not to read from an iterator that has been passed to Merge.
func Merge(iters ...Iterator) Iterator {
	switch len(iters) {
	case 0:
		return Empty()
	case 1:
		return iters[0]
	}
	outCh := make(chan Line)
	var wg sync.WaitGroup
	for _, iter := range iters {
		ch := AsChannel(iter)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for line := range ch {
				outCh <- line
			}
		}()
	}
	go func() {
		wg.Wait()
		close(outCh)
	}()
	return FromChannel(outCh)
}
