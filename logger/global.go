package logger

import (
	"sync"
	"sync/atomic"
)

// holder keeps the stored concrete type stable regardless of which Logger
// implementation the host supplies.
type holder struct {
	l Logger
}

//nolint:gochecknoglobals // global logger singleton, set once at Start
var (
	global   atomic.Value // stores holder
	initOnce sync.Once
)

// SetGlobal replaces the library-wide logger. Called by the facade at Start
// with the host-configured instance; later calls win, so reconfiguring the
// library swaps the logger too.
func SetGlobal(l Logger) {
	if l == nil {
		return
	}
	global.Store(holder{l: l})
}

// Global returns the library-wide logger, lazily initializing a default
// json/warn instance the first time it is needed.
func Global() Logger {
	if h, ok := global.Load().(holder); ok {
		return h.l
	}

	initOnce.Do(func() {
		l, err := New(Config{Level: "warn", Encoding: EncodingJSON})
		if err != nil {
			panic("logger: failed to initialize default logger: " + err.Error())
		}
		// Do not clobber a logger configured concurrently with first use.
		global.CompareAndSwap(nil, holder{l: l})
	})

	h, _ := global.Load().(holder)
	return h.l
}

// Named returns the global logger with a sub-scope name.
func Named(name string) Logger {
	return Global().Named(name)
}
