//go:build !reflector_debug

package talker

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// CheckInvariant logs a violated invariant and reports it to the caller,
// which must then skip the offending operation.
func CheckInvariant(ok bool, format string, args ...any) bool {
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "CheckInvariant",
		}).Error("Invariant violated: " + fmt.Sprintf(format, args...))
	}
	return ok
}
