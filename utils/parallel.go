package utils

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// ParallelFactor is the default number of workers when a caller asks for zero or fewer.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

type (
	// BeforeParallelGroupWorkFunc executes before any work starts with the number of groups.
	BeforeParallelGroupWorkFunc func(numGroups int)
	// MemberWorkFunc runs for each work item (member) of a group.
	MemberWorkFunc func(memberNum, workNum int) error
	// GroupWorkDoneFunc runs when a single group's work is done; helpful for merge stages.
	GroupWorkDoneFunc func()
	// GroupWorkFunc runs to determine what work members should do, if any.
	GroupWorkFunc func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc)
)

// NumWorkers clamps a requested worker count to [1, totalSize].
func NumWorkers(requested, totalSize int) int {
	if requested <= 0 {
		requested = ParallelFactor
	}
	if requested > totalSize {
		requested = totalSize
	}
	if requested < 1 {
		requested = 1
	}
	return requested
}

// GroupWorkParallel splits [0, totalSize) into contiguous ranges processed by up to `workers`
// goroutines. Work items are assigned deterministically: the last group takes the remainder.
// A group stops at its first member error; all group errors are combined.
func GroupWorkParallel(
	ctx context.Context,
	workers, totalSize int,
	before BeforeParallelGroupWorkFunc,
	groupWork GroupWorkFunc,
) error {
	if totalSize == 0 {
		return nil
	}
	numGroups := NumWorkers(workers, totalSize)
	groupSize := totalSize / numGroups
	extra := totalSize % numGroups
	if before != nil {
		before(numGroups)
	}

	errs := make([]error, numGroups)
	var wait sync.WaitGroup
	wait.Add(numGroups)
	for groupNum := 0; groupNum < numGroups; groupNum++ {
		groupNum := groupNum
		utils.PanicCapturingGo(func() {
			defer wait.Done()

			thisGroupSize := groupSize
			if groupNum == numGroups-1 {
				thisGroupSize += extra
			}
			from := groupSize * groupNum
			to := from + thisGroupSize
			memberWork, groupWorkDone := groupWork(groupNum, thisGroupSize, from, to)
			if memberWork != nil {
				for workNum := from; workNum < to; workNum++ {
					if err := ctx.Err(); err != nil {
						errs[groupNum] = err
						break
					}
					if err := memberWork(workNum-from, workNum); err != nil {
						errs[groupNum] = err
						break
					}
				}
			}
			if groupWorkDone != nil {
				groupWorkDone()
			}
		})
	}
	wait.Wait()
	return multierr.Combine(errs...)
}
