package postprocess

import "sync"

// forEach runs fn over [0,n), fanning out to workers goroutines when
// workers > 1. Errors are collected per index; a failing index never
// stops the others.
func forEach(n, workers int, fn func(i int) error) []error {
	errs := make([]error, n)
	if workers <= 1 {
		for i := 0; i < n; i++ {
			errs[i] = fn(i)
		}
		return errs
	}

	idx := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idx {
				errs[i] = fn(i)
			}
		}()
	}
	for i := 0; i < n; i++ {
		idx <- i
	}
	close(idx)
	wg.Wait()
	return errs
}
