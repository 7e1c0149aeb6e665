//go:build reflector_debug

package talker

import "fmt"

// CheckInvariant panics when ok is false. Development builds only.
func CheckInvariant(ok bool, format string, args ...any) bool {
	if !ok {
		panic(fmt.Sprintf("invariant violated: "+format, args...))
	}
	return true
}
