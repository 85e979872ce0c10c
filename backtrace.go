package miniapm

import (
	"fmt"
	"runtime"
	"strings"
)

const backtraceDepth = 50

// captureBacktrace renders the current call stack as "file:line in func"
// frames, skipping the library's own frames so reports start at host code.
func captureBacktrace() []string {
	pcs := make([]uintptr, backtraceDepth)
	n := runtime.Callers(2, pcs)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	out := make([]string, 0, n)

	for {
		frame, more := frames.Next()

		if !strings.Contains(frame.Function, "miniapm-go") {
			out = append(out, fmt.Sprintf("%s:%d in %s", frame.File, frame.Line, frame.Function))
		}

		if !more {
			break
		}
	}

	return out
}

// errorClass names the dynamic type of an error, without the pointer
// marker, so configuration can match on stable class names.
func errorClass(err error) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}
