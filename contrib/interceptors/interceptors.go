// Package interceptors provides ready-made interceptors for executor.Engine:
// structured statement logging, slow statement reporting and per-statement
// counters.
//
//	metrics := interceptors.NewMetrics()
//	engine, err := executor.New(reg,
//	    executor.WithDriver(drv),
//	    executor.WithInterceptors(
//	        interceptors.Logging(logger),
//	        interceptors.Slow(200*time.Millisecond, interceptors.SlowLog(logger)),
//	        metrics,
//	    ),
//	)
package interceptors

import (
	"context"
	"log/slog"
	"time"

	"github.com/JinHo-von-Choi/nuvatis-sub001"
)

// LoggingOption configures the Logging interceptor.
type LoggingOption func(*logging)

type logging struct {
	logger *slog.Logger
	level  slog.Level
	args   bool
}

// WithLevel sets the level successful statements are logged at. Failures
// are always logged at error level. Default is debug.
func WithLevel(l slog.Level) LoggingOption {
	return func(lg *logging) {
		lg.level = l
	}
}

// WithArgs includes bound values in log records. They are omitted by
// default, as they may carry personal data.
func WithArgs() LoggingOption {
	return func(lg *logging) {
		lg.args = true
	}
}

// Logging returns an interceptor logging every statement once it
// completed.
func Logging(l *slog.Logger, opts ...LoggingOption) nuvatis.Interceptor {
	lg := &logging{logger: l, level: slog.LevelDebug}
	if lg.logger == nil {
		lg.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(lg)
	}
	return nuvatis.AfterFunc(lg.after)
}

func (lg *logging) after(ctx context.Context, ec *nuvatis.ExecContext) {
	level := lg.level
	if ec.Err != nil {
		level = slog.LevelError
	}
	if !lg.logger.Enabled(ctx, level) {
		return
	}
	attrs := make([]slog.Attr, 0, 10)
	attrs = append(attrs,
		slog.String("id", ec.ID),
		slog.String("statement", ec.StatementID),
		slog.String("kind", ec.Kind.String()),
		slog.String("sql", ec.SQL),
		slog.Duration("elapsed", ec.Elapsed),
		slog.Int64("rows", ec.RowsAffected),
		slog.Bool("cache_hit", ec.CacheHit),
	)
	if lg.args {
		attrs = append(attrs, slog.Any("args", ec.Args))
	} else {
		attrs = append(attrs, slog.Int("args", len(ec.Args)))
	}
	msg := "statement executed"
	if ec.Err != nil {
		msg = "statement failed"
		attrs = append(attrs,
			slog.String("stage", ec.Stage.String()),
			slog.Any("error", ec.Err),
		)
	}
	lg.logger.LogAttrs(ctx, level, msg, attrs...)
}

// SlowHook is called for statements slower than the threshold of Slow.
type SlowHook func(ctx context.Context, ec *nuvatis.ExecContext)

// Slow returns an interceptor calling hook for statements whose elapsed
// time reaches threshold. Cache hits are never reported.
func Slow(threshold time.Duration, hook SlowHook) nuvatis.Interceptor {
	return nuvatis.AfterFunc(func(ctx context.Context, ec *nuvatis.ExecContext) {
		if hook != nil && !ec.CacheHit && ec.Elapsed >= threshold {
			hook(ctx, ec)
		}
	})
}

// SlowLog returns a SlowHook logging to l at warn level.
func SlowLog(l *slog.Logger) SlowHook {
	if l == nil {
		l = slog.Default()
	}
	return func(ctx context.Context, ec *nuvatis.ExecContext) {
		l.WarnContext(ctx, "slow statement detected",
			slog.String("statement", ec.StatementID),
			slog.Duration("elapsed", ec.Elapsed),
			slog.String("sql", ec.SQL),
			slog.Int("args", len(ec.Args)),
		)
	}
}
