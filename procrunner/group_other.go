//go:build !linux && !windows

package procrunner

import (
	"fmt"
	"runtime"
)

// PlatformGroups has no resource-group support on this platform, so every
// conversion is refused.
func PlatformGroups(_ string) GroupFactory {
	return func(int64) (Group, error) {
		return nil, fmt.Errorf("%w: not supported on %s", ErrResourceLimitUnavailable, runtime.GOOS)
	}
}
