// Package logger предоставляет логирование с префиксом сервиса и асинхронной записью,
// чтобы не блокировать обработку запросов. Вывод идёт через zerolog
// (console или JSON), поддерживается логирование времени выполнения функций.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const asyncBufferSize = 8192

type entry struct {
	level zerolog.Level
	msg   string
	fn    string
	dur   time.Duration
}

var (
	prefix string
	base   atomic.Pointer[zerolog.Logger]
	debug  atomic.Bool
	ch     chan entry
	once   sync.Once
	out    io.Writer = os.Stdout
)

func build(level, format string) {
	isDebug := false
	switch strings.ToLower(level) {
	case "debug", "trace":
		isDebug = true
	}
	var w io.Writer = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	if strings.EqualFold(format, "json") {
		w = out
	}
	ctx := zerolog.New(w).With().Timestamp()
	if prefix != "" {
		ctx = ctx.Str("svc", prefix)
	}
	l := ctx.Logger().Level(zerolog.InfoLevel)
	if isDebug {
		l = l.Level(zerolog.DebugLevel)
	}
	base.Store(&l)
	debug.Store(isDebug)
}

func initWorker() {
	build(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	ch = make(chan entry, asyncBufferSize)
	go func() {
		for e := range ch {
			ev := base.Load().WithLevel(e.level)
			if e.fn != "" {
				ev = ev.Str("fn", e.fn).Int64("duration_ms", e.dur.Milliseconds())
			}
			ev.Msg(e.msg)
		}
	}()
}

// Configure применяет уровень и формат из конфигурации (переопределяет LOG_LEVEL / LOG_FORMAT).
func Configure(level, format string) {
	once.Do(initWorker)
	build(level, format)
}

func enqueue(e entry) {
	once.Do(initWorker)
	select {
	case ch <- e:
	default:
		// Буфер полон: не блокируем, теряем лог
	}
}

// SetPrefix задаёт имя сервиса для всех логов (например "api"). Вызывать до первой записи.
func SetPrefix(p string) {
	prefix = p
}

// SetOutput перенаправляет вывод (тесты). Вызывать до первой записи.
func SetOutput(w io.Writer) {
	out = w
}

// Info пишет сообщение уровня info (асинхронно).
func Info(v ...any) {
	enqueue(entry{level: zerolog.InfoLevel, msg: fmt.Sprint(v...)})
}

// Infof форматирует и пишет сообщение уровня info (асинхронно).
func Infof(format string, v ...any) {
	enqueue(entry{level: zerolog.InfoLevel, msg: fmt.Sprintf(format, v...)})
}

// Debugf пишет только при LOG_LEVEL=debug.
func Debugf(format string, v ...any) {
	once.Do(initWorker)
	if !debug.Load() {
		return
	}
	enqueue(entry{level: zerolog.DebugLevel, msg: fmt.Sprintf(format, v...)})
}

// Error пишет ошибку (асинхронно).
func Error(v ...any) {
	enqueue(entry{level: zerolog.ErrorLevel, msg: fmt.Sprint(v...)})
}

// Errorf форматирует ошибку (асинхронно).
func Errorf(format string, v ...any) {
	enqueue(entry{level: zerolog.ErrorLevel, msg: fmt.Sprintf(format, v...)})
}

// LogDuration логирует имя функции и время выполнения в миллисекундах (асинхронно).
// При LOG_LEVEL=info логирует только вызовы дольше 100ms; при LOG_LEVEL=debug все.
func LogDuration(fn string, start time.Time) {
	once.Do(initWorker)
	elapsed := time.Since(start)
	if debug.Load() || elapsed >= 100*time.Millisecond {
		level := zerolog.DebugLevel
		if elapsed >= 100*time.Millisecond {
			level = zerolog.InfoLevel
		}
		enqueue(entry{level: level, msg: "timing", fn: fn, dur: elapsed})
	}
}

// DeferLogDuration возвращает функцию для вызова в defer: defer logger.DeferLogDuration("HandlerName", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
