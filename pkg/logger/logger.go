// Package logger holds the process-wide zerolog logger.
//
// main calls Init once; services receive a Component logger through their
// constructors instead of reaching for the global.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options configures Init.
type Options struct {
	// Level accepts trace, debug, info, warn(ing) or error. Anything else is info.
	Level string
	// Pretty switches to zerolog.ConsoleWriter for local development.
	Pretty bool
	// Output defaults to os.Stdout.
	Output io.Writer
	// Service, when set, is stamped on every entry.
	Service string
}

var (
	mu   sync.Mutex
	once sync.Once
	root *zerolog.Logger
)

// Init builds the root logger on the first call and returns it. Later calls
// return the existing logger unchanged.
func Init(opts Options) zerolog.Logger {
	once.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano

		var w io.Writer = os.Stdout
		if opts.Output != nil {
			w = opts.Output
		}
		if opts.Pretty {
			w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		}

		level := parseLevel(opts.Level)
		zerolog.SetGlobalLevel(level)

		b := zerolog.New(w).Level(level).With().Timestamp().Caller()
		if opts.Service != "" {
			b = b.Str("service", opts.Service)
		}
		l := b.Logger()

		mu.Lock()
		root = &l
		mu.Unlock()
	})
	return Get()
}

// Get returns the root logger. It panics when Init has not run.
func Get() zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if root == nil {
		panic("logger: Get() called before Init()")
	}
	return *root
}

// Component returns the root logger with a "component" field, one per service.
func Component(name string) zerolog.Logger {
	return Get().With().Str("component", name).Logger()
}

// Reset drops the root logger so tests can call Init again.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	once = sync.Once{}
	root = nil
}

func parseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return zerolog.WarnLevel
	}
	switch l, err := zerolog.ParseLevel(s); {
	case err != nil, s == "", l > zerolog.ErrorLevel:
		return zerolog.InfoLevel
	default:
		return l
	}
}
