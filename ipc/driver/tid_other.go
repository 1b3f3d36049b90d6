//go:build !linux

package driver

// ThreadID returns 0: thread ids are not available on this platform, so all
// threads share one identity.
func ThreadID() int {
	return 0
}

// ThreadStartTime returns 0.
func ThreadStartTime(tid int) uint64 {
	return 0
}
