//go:build linux

package engine

import (
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/driver"
	"github.com/ValentinKolb/dIPC/ipc/parcel"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
	"runtime"
	"testing"
)

// onLockedThread runs fn on a fresh OS thread that is discarded afterwards,
// so nice values set by fn do not leak into other tests.
func onLockedThread(fn func(tid int)) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		runtime.LockOSThread()
		fn(driver.ThreadID())
	}()
	<-done
}

func TestClampPriority(t *testing.T) {
	onLockedThread(func(tid int) {
		before, err := threadNice(tid)
		if !assert.NoError(t, err) {
			return
		}
		background := min(max(before, niceNormal)+5, 19)
		if !assert.NoError(t, unix.Setpriority(unix.PRIO_PROCESS, tid, background)) {
			return
		}

		prev, changed := clampPriority(tid)
		assert.Equal(t, background, prev)
		if !changed {
			// lowering the nice value needs CAP_SYS_NICE
			return
		}
		nice, err := threadNice(tid)
		assert.NoError(t, err)
		assert.Equal(t, niceNormal, nice)

		restorePriority(tid, prev)
		nice, err = threadNice(tid)
		assert.NoError(t, err)
		assert.Equal(t, background, nice)
	})
}

func TestClampPriorityKeepsForeground(t *testing.T) {
	onLockedThread(func(tid int) {
		before, err := threadNice(tid)
		if !assert.NoError(t, err) || before > niceNormal {
			return
		}
		_, changed := clampPriority(tid)
		assert.False(t, changed)
	})
}

func TestDispatchRestoresPriority(t *testing.T) {
	p, b := newTestProcess(t, common.ProcessConfig{DisableBackgroundScheduling: true})

	var during, after int
	var served bool
	onLockedThread(func(tid int) {
		before, err := threadNice(tid)
		if !assert.NoError(t, err) {
			return
		}
		background := min(max(before, niceNormal)+5, 19)
		if !assert.NoError(t, unix.Setpriority(unix.PRIO_PROCESS, tid, background)) {
			return
		}

		th, err := p.Self()
		if !assert.NoError(t, err) {
			return
		}
		defer th.Close()
		p.SetContextObject(binderFunc(func(t *Thread, code uint32, data, reply *parcel.Parcel, flags uint32) error {
			during, _ = threadNice(tid)
			served = true
			return nil
		}))

		b.Queue(b.NewTransaction(0, 0, 1, nil, 0, 1, 1))
		assert.NoError(t, th.getAndExecute())
		after, _ = threadNice(tid)
		assert.Equal(t, background, after, "the nice value is restored after the call")
		if during != background {
			assert.Equal(t, niceNormal, during)
		}
	})
	assert.True(t, served)
}
