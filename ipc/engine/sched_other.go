//go:build !linux

package engine

func clampPriority(tid int) (int, bool) { return 0, false }

func restorePriority(tid int, nice int) {}
