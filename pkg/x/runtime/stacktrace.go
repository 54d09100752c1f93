package runtime

import "runtime"

// PrintStackTrace captures up to 8KB of the current goroutine's stack.
// skip is accepted but not used: the whole captured stack is returned.
func PrintStackTrace(skip int) string {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
