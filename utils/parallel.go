// Package utils contains small concurrency helpers shared by the table builders.
package utils

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// GroupWorkFunc processes the work items in [from, to).
type GroupWorkFunc func(ctx context.Context, groupNum, from, to int) error

// GroupWorkParallel splits totalSize work items into contiguous groups and runs each group on
// its own goroutine. The first error cancels the remaining groups and is returned. A panic in a
// group is reported as an error.
func GroupWorkParallel(ctx context.Context, totalSize int, groupWork GroupWorkFunc) error {
	if totalSize <= 0 {
		return nil
	}
	numGroups := ParallelFactor
	if numGroups > totalSize {
		numGroups = totalSize
	}
	groupSize := totalSize / numGroups
	extra := totalSize % numGroups

	g, gctx := errgroup.WithContext(ctx)
	from := 0
	for groupNum := 0; groupNum < numGroups; groupNum++ {
		to := from + groupSize
		if groupNum < extra {
			to++
		}
		groupNum, start, end := groupNum, from, to
		g.Go(func() (err error) {
			defer func() {
				if thePanic := recover(); thePanic != nil {
					err = fmt.Errorf("panic in parallel group %d: %v", groupNum, thePanic)
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			return groupWork(gctx, groupNum, start, end)
		})
		from = to
	}
	return g.Wait()
}

// ParallelForEachRow calls f for every row index in [0, height), spreading rows over
// ParallelFactor goroutines.
func ParallelForEachRow(ctx context.Context, height int, f func(row int) error) error {
	return GroupWorkParallel(ctx, height, func(ctx context.Context, _, from, to int) error {
		for row := from; row < to; row++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := f(row); err != nil {
				return err
			}
		}
		return nil
	})
}
