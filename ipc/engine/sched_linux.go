//go:build linux

package engine

import "golang.org/x/sys/unix"

// niceNormal is the nice value of foreground threads.
const niceNormal = 0

// threadNice returns the nice value of thread tid.
func threadNice(tid int) (int, error) {
	// getpriority(2) returns 20 - nice
	raw, err := unix.Getpriority(unix.PRIO_PROCESS, tid)
	if err != nil {
		return 0, err
	}
	return 20 - raw, nil
}

// clampPriority raises a thread running in the background band back to
// normal priority. It returns the previous nice value and whether it was
// changed, for restorePriority.
func clampPriority(tid int) (int, bool) {
	nice, err := threadNice(tid)
	if err != nil || nice <= niceNormal {
		return nice, false
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, tid, niceNormal); err != nil {
		Logger.Debugf("thread %d: cannot raise priority from nice %d: %v", tid, nice, err)
		return nice, false
	}
	return nice, true
}

// restorePriority puts back the nice value clampPriority replaced.
func restorePriority(tid int, nice int) {
	if err := unix.Setpriority(unix.PRIO_PROCESS, tid, nice); err != nil {
		Logger.Debugf("thread %d: cannot restore nice %d: %v", tid, nice, err)
	}
}
