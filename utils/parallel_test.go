package utils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.viam.com/test"
	gutils "go.viam.com/utils"
)

func TestGroupWorkParallelCoversEveryItem(t *testing.T) {
	for _, tc := range []struct {
		workers, total int
	}{
		{1, 10},
		{3, 10},
		{4, 2},
		{16, 1},
		{5, 5},
	} {
		seen := make([]int, tc.total)
		var groups int
		err := GroupWorkParallelN(context.Background(), tc.workers, tc.total,
			func(numGroups int) { groups = numGroups },
			func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
				return func(memberNum, workNum int) {
					seen[workNum]++
				}, nil
			})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, groups, test.ShouldEqual, MinInt(tc.workers, tc.total))
		for _, count := range seen {
			test.That(t, count, test.ShouldEqual, 1)
		}
	}
}

func TestGroupWorkParallelEmpty(t *testing.T) {
	called := false
	err := GroupWorkParallel(context.Background(), 0, nil,
		func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
			called = true
			return nil, nil
		})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, called, test.ShouldBeFalse)
}

func TestGroupWorkParallelMerge(t *testing.T) {
	var mu sync.Mutex
	total := 0
	err := GroupWorkParallelN(context.Background(), 4, 100, nil,
		func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
			local := 0
			return func(memberNum, workNum int) {
					local += workNum
				}, func() {
					mu.Lock()
					total += local
					mu.Unlock()
				}
		})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, total, test.ShouldEqual, 4950)
}

func TestGroupWorkParallelCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	err := GroupWorkParallelN(ctx, 2, 10, nil,
		func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
			ran = true
			return nil, nil
		})
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	test.That(t, ran, test.ShouldBeFalse)
}

func TestRunInParallel(t *testing.T) {
	wait100ms := func(ctx context.Context) error {
		gutils.SelectContextOrWait(ctx, 100*time.Millisecond)
		return ctx.Err()
	}

	elapsed, err := RunInParallel(context.Background(), []SimpleFunc{wait100ms, wait100ms})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, elapsed, test.ShouldBeLessThan, 150*time.Millisecond)
	test.That(t, elapsed, test.ShouldBeGreaterThan, 90*time.Millisecond)

	errFunc := func(ctx context.Context) error {
		return errors.New("bad")
	}

	elapsed, err = RunInParallel(context.Background(), []SimpleFunc{wait100ms, wait100ms, errFunc})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, elapsed, test.ShouldBeLessThan, 50*time.Millisecond)

	panicFunc := func(ctx context.Context) error {
		panic(1)
	}

	_, err = RunInParallel(context.Background(), []SimpleFunc{panicFunc})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestClamp(t *testing.T) {
	test.That(t, Clamp(5, 0, 1), test.ShouldEqual, 1.)
	test.That(t, Clamp(-5, 0, 1), test.ShouldEqual, 0.)
	test.That(t, Clamp(0.5, 0, 1), test.ShouldEqual, 0.5)
	test.That(t, MaxInt(2, 3), test.ShouldEqual, 3)
}
