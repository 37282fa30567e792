package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	logx "studybot/pkg/logx"
)

// Middleware decorates a handler. Global middleware wraps every command;
// the built-in chain is Recover, Trace, Timeout, then the global ones.
type Middleware func(next HandlerFunc) HandlerFunc

func wrap(h HandlerFunc, mws []Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Recover turns a handler panic into an error for Trace to log.
func Recover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Logger.Error("command panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("command %s panicked: %v", req.Command, r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// Trace logs each command once it finishes.
func Trace() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)
			switch {
			case err != nil:
				req.Logger.Warn("command failed", logx.Duration("took", took), logx.Err(err))
			case took >= 750*time.Millisecond:
				req.Logger.Info("slow command", logx.Duration("took", took))
			default:
				req.Logger.Debug("command done", logx.Duration("took", took))
			}
			return err
		}
	}
}

func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

const msgSlowDown = "🐢 Too many commands, slow down a little."

// Throttle caps each sender at every-per-command with the given burst.
// Limiters live in a bounded LRU so idle senders are forgotten.
func Throttle(every time.Duration, burst int) Middleware {
	if every <= 0 {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	if burst <= 0 {
		burst = 1
	}
	senders, _ := lru.New[int64, *rate.Limiter](4096)
	var mu sync.Mutex
	limiter := func(id int64) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := senders.Get(id)
		if !ok {
			l = rate.NewLimiter(rate.Every(every), burst)
			senders.Add(id, l)
		}
		return l
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if !limiter(req.FromID).Allow() {
				req.Logger.Debug("command throttled")
				return req.Reply(ctx, msgSlowDown)
			}
			return next(ctx, req)
		}
	}
}
