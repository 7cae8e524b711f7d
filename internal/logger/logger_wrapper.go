package logger

import (
	"os"
	"sync"
	"time"

	"github.com/leandrodaf/midikit/sdk/contracts"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// sink is shared by a logger and every child created with With, so that
// SetLevel and SetDestination apply to all of them.
type sink struct {
	mu     sync.RWMutex
	base   *zap.Logger
	level  zap.AtomicLevel
	owned  bool // base was built here and may be rebuilt by SetDestination
	closer func()
}

// ZapLogger implements contracts.Logger on top of zap.
type ZapLogger struct {
	sink   *sink
	fields []zap.Field
}

// NewZapLogger returns a JSON logger writing to stderr at InfoLevel.
func NewZapLogger() contracts.Logger {
	s := &sink{level: zap.NewAtomicLevelAt(zapcore.InfoLevel), owned: true}
	s.base = zap.New(newCore(zapcore.Lock(os.Stderr), s.level), zap.AddCaller(), zap.AddCallerSkip(2))
	return &ZapLogger{sink: s}
}

// NewZapLoggerFrom wraps an existing zap logger, e.g. one from zaptest. The
// wrapper's own level starts at DebugLevel so the wrapped logger decides.
// SetDestination has no effect on a wrapped logger.
func NewZapLoggerFrom(l *zap.Logger) contracts.Logger {
	return &ZapLogger{sink: &sink{base: l, level: zap.NewAtomicLevelAt(zapcore.DebugLevel)}}
}

// NewNopLogger discards everything.
func NewNopLogger() contracts.Logger {
	return NewZapLoggerFrom(zap.NewNop())
}

func newCore(ws zapcore.WriteSyncer, level zap.AtomicLevel) zapcore.Core {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(cfg), ws, level)
}

// Info logs a message at the INFO level
func (z *ZapLogger) Info(msg string, fields ...contracts.Field) {
	z.log(zapcore.InfoLevel, msg, fields)
}

// Error logs a message at the ERROR level
func (z *ZapLogger) Error(msg string, fields ...contracts.Field) {
	z.log(zapcore.ErrorLevel, msg, fields)
}

// Debug logs a message at the DEBUG level
func (z *ZapLogger) Debug(msg string, fields ...contracts.Field) {
	z.log(zapcore.DebugLevel, msg, fields)
}

// Warn logs a message at the WARN level
func (z *ZapLogger) Warn(msg string, fields ...contracts.Field) {
	z.log(zapcore.WarnLevel, msg, fields)
}

// Fatal logs a message at the FATAL level and terminates the application
func (z *ZapLogger) Fatal(msg string, fields ...contracts.Field) {
	z.log(zapcore.FatalLevel, msg, fields)
	os.Exit(1)
}

// Field returns a factory for log fields.
func (z *ZapLogger) Field() contracts.Field {
	return zapField{}
}

// With returns a child logger sharing level and destination.
func (z *ZapLogger) With(fields ...contracts.Field) contracts.Logger {
	return &ZapLogger{sink: z.sink, fields: append(z.zapFields(nil), toZap(fields)...)}
}

// SetLevel sets the logging level
func (z *ZapLogger) SetLevel(level contracts.LogLevel) {
	z.sink.level.SetLevel(zapLevel(level))
}

// SetDestination switches output between the console and a file. A file
// destination without a path keeps the current output.
func (z *ZapLogger) SetDestination(dest contracts.LogDestination, filePath ...string) {
	s := z.sink
	if !s.owned {
		return
	}

	var (
		ws      zapcore.WriteSyncer
		closeFn func()
	)
	switch dest {
	case contracts.FileLog:
		if len(filePath) == 0 || filePath[0] == "" {
			return
		}
		out, closeOut, err := zap.Open(filePath[0])
		if err != nil {
			z.Error("Failed to open log file", z.Field().String("path", filePath[0]), z.Field().Error("error", err))
			return
		}
		ws, closeFn = out, closeOut
	default:
		ws = zapcore.Lock(os.Stderr)
	}

	s.mu.Lock()
	old := s.closer
	_ = s.base.Sync()
	s.base = zap.New(newCore(ws, s.level), zap.AddCaller(), zap.AddCallerSkip(2))
	s.closer = closeFn
	s.mu.Unlock()
	if old != nil {
		old()
	}
}

// Sync flushes buffered entries.
func (z *ZapLogger) Sync() error {
	z.sink.mu.RLock()
	defer z.sink.mu.RUnlock()
	return z.sink.base.Sync()
}

func (z *ZapLogger) log(level zapcore.Level, msg string, fields []contracts.Field) {
	if !z.sink.level.Enabled(level) {
		return
	}
	z.sink.mu.RLock()
	ce := z.sink.base.Check(level, msg)
	z.sink.mu.RUnlock()
	if ce == nil {
		return
	}
	ce.Write(z.zapFields(fields)...)
}

func (z *ZapLogger) zapFields(extra []contracts.Field) []zap.Field {
	out := make([]zap.Field, 0, len(z.fields)+len(extra))
	out = append(out, z.fields...)
	return append(out, toZap(extra)...)
}

func zapLevel(level contracts.LogLevel) zapcore.Level {
	switch level {
	case contracts.DebugLevel:
		return zapcore.DebugLevel
	case contracts.WarnLevel:
		return zapcore.WarnLevel
	case contracts.ErrorLevel:
		return zapcore.ErrorLevel
	case contracts.FatalLevel:
		return zapcore.FatalLevel
	}
	return zapcore.InfoLevel
}

func toZap(fields []contracts.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		if zf, ok := f.(zapField); ok && zf.set {
			out = append(out, zf.f)
		}
	}
	return out
}

// zapField implements contracts.Field
type zapField struct {
	f   zap.Field
	set bool
}

func (zapField) Bool(key string, val bool) contracts.Field {
	return zapField{zap.Bool(key, val), true}
}

func (zapField) Int(key string, val int) contracts.Field {
	return zapField{zap.Int(key, val), true}
}

func (zapField) Float64(key string, val float64) contracts.Field {
	return zapField{zap.Float64(key, val), true}
}

func (zapField) String(key string, val string) contracts.Field {
	return zapField{zap.String(key, val), true}
}

func (zapField) Time(key string, val time.Time) contracts.Field {
	return zapField{zap.Time(key, val), true}
}

func (zapField) Duration(key string, val time.Duration) contracts.Field {
	return zapField{zap.Duration(key, val), true}
}

func (zapField) Int64(key string, val int64) contracts.Field {
	return zapField{zap.Int64(key, val), true}
}

func (zapField) Error(key string, val error) contracts.Field {
	return zapField{zap.NamedError(key, val), true}
}

func (zapField) Uint64(key string, val uint64) contracts.Field {
	return zapField{zap.Uint64(key, val), true}
}

func (zapField) Uint8(key string, val uint8) contracts.Field {
	return zapField{zap.Uint8(key, val), true}
}

func (zapField) Binary(key string, val []byte) contracts.Field {
	return zapField{zap.Binary(key, val), true}
}
