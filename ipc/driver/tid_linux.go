//go:build linux

package driver

import (
	"bytes"
	"fmt"
	"golang.org/x/sys/unix"
	"os"
	"strconv"
)

// ThreadID returns the kernel id of the calling OS thread. The caller must
// hold runtime.LockOSThread for the value to stay meaningful.
func ThreadID() int {
	return unix.Gettid()
}

// ThreadStartTime returns the start time of thread tid in clock ticks after
// boot, or 0 if it cannot be read. Together with the id it tells a thread
// apart from a later one the kernel gave the same id.
func ThreadStartTime(tid int) uint64 {
	raw, err := os.ReadFile(fmt.Sprintf("/proc/self/task/%d/stat", tid))
	if err != nil {
		return 0
	}
	// the command name may contain spaces; fields resume after its ')'
	i := bytes.LastIndexByte(raw, ')')
	if i < 0 {
		return 0
	}
	fields := bytes.Fields(raw[i+1:])
	const startTimeField = 22 - 3 // field 22 of stat, counted from state
	if len(fields) <= startTimeField {
		return 0
	}
	v, err := strconv.ParseUint(string(fields[startTimeField]), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
