package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/angelmondragon/orderflow-backend/pkg/env"
)

type Options struct {
	ServiceName string
	Level       zerolog.Level
	// WarnStack attaches a stack trace to warnings as well as errors.
	WarnStack bool
	Output    io.Writer
}

// Logger writes JSON lines (console lines when ORDERFLOW_LOG_FORMAT=console).
// Request and order scoped fields ride on the context via zerolog's own
// context integration, so any code holding ctx logs with them. A nil
// *Logger discards everything.
type Logger struct {
	base      zerolog.Logger
	warnStack bool
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

func New(opts Options) *Logger {
	if opts.Level == zerolog.NoLevel {
		opts.Level = zerolog.InfoLevel
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if env.First("json", "ORDERFLOW_LOG_FORMAT", "LOG_FORMAT") == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	base := zerolog.New(out).Level(opts.Level).With().
		Timestamp().
		Str("service", opts.ServiceName).
		Logger()
	return &Logger{base: base, warnStack: opts.WarnStack}
}

// ParseLevel falls back to info for empty or unknown input.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *Logger) from(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if scoped := zerolog.Ctx(ctx); scoped.GetLevel() != zerolog.Disabled {
			return scoped
		}
	}
	return &l.base
}

type taggedKeysKey struct{}

// tagged lists the field keys already attached to ctx. zerolog appends
// fields blindly, so re-tagging a key would emit it twice.
func tagged(ctx context.Context) map[string]struct{} {
	if ctx == nil {
		return nil
	}
	keys, _ := ctx.Value(taggedKeysKey{}).(map[string]struct{})
	return keys
}

func withTagged(ctx context.Context, prev map[string]struct{}, added []string) context.Context {
	next := make(map[string]struct{}, len(prev)+len(added))
	for k := range prev {
		next[k] = struct{}{}
	}
	for _, k := range added {
		next[k] = struct{}{}
	}
	return context.WithValue(ctx, taggedKeysKey{}, next)
}

// WithField tags ctx with key. A key already on ctx keeps its first value.
func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	if l == nil {
		return ctx
	}
	prev := tagged(ctx)
	if _, ok := prev[key]; ok {
		return ctx
	}
	ctx = l.from(ctx).With().Interface(key, value).Logger().WithContext(orBackground(ctx))
	return withTagged(ctx, prev, []string{key})
}

func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	if l == nil || len(fields) == 0 {
		return ctx
	}
	prev := tagged(ctx)
	fresh := make(map[string]any, len(fields))
	added := make([]string, 0, len(fields))
	for k, v := range fields {
		if _, ok := prev[k]; ok {
			continue
		}
		fresh[k] = v
		added = append(added, k)
	}
	if len(fresh) == 0 {
		return ctx
	}
	ctx = l.from(ctx).With().Fields(fresh).Logger().WithContext(orBackground(ctx))
	return withTagged(ctx, prev, added)
}

func (l *Logger) WithRequestID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, "request_id", id)
}

func (l *Logger) WithUserID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, "user_id", id)
}

func (l *Logger) WithOrderID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, "order_id", id)
}

func (l *Logger) WithPaymentID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, "payment_id", id)
}

func (l *Logger) WithActorRole(ctx context.Context, role string) context.Context {
	return l.WithField(ctx, "actor_role", role)
}

func (l *Logger) Debug(ctx context.Context, msg string) {
	if l != nil {
		l.from(ctx).Debug().Msg(msg)
	}
}

func (l *Logger) Info(ctx context.Context, msg string) {
	if l != nil {
		l.from(ctx).Info().Msg(msg)
	}
}

func (l *Logger) Warn(ctx context.Context, msg string) {
	if l == nil {
		return
	}
	event := l.from(ctx).Warn()
	if l.warnStack {
		event = event.Str("stack", stack())
	}
	event.Msg(msg)
}

func (l *Logger) Error(ctx context.Context, msg string, err error) {
	if l == nil {
		return
	}
	l.from(ctx).Error().Err(err).Str("stack", stack()).Msg(msg)
}

// Security records a rejected or forged inbound request. It never carries
// the request body.
func (l *Logger) Security(ctx context.Context, msg string, err error) {
	if l == nil {
		return
	}
	l.from(ctx).Warn().Bool("security_event", true).Err(err).Msg(msg)
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func stack() string {
	return strings.TrimSpace(string(debug.Stack()))
}
