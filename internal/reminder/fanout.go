package reminder

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	logx "studybot/pkg/logx"
)

// forEachUser runs fn for every id with at most limit in flight. A user's
// error or panic is logged and counted; it never stops the others.
func forEachUser(ctx context.Context, log logx.Logger, op string, ids []int64, limit int, fn func(ctx context.Context, userID int64) error) (failed int) {
	if limit <= 0 {
		limit = 1
	}
	var nFailed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := runUser(gctx, id, fn); err != nil {
				nFailed.Add(1)
				log.Warn(op+" failed for user", logx.User(id), logx.Err(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(nFailed.Load())
}

func runUser(ctx context.Context, id int64, fn func(context.Context, int64) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx, id)
}
