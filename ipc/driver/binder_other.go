//go:build !linux

package driver

import (
	"errors"
	"github.com/ValentinKolb/dIPC/ipc/common"
)

// ErrUnsupported is returned by Open on platforms without a binder driver.
var ErrUnsupported = errors.New("binder is only available on linux")

// Binder is unavailable on this platform. Use drivertest.Broker instead.
type Binder struct {
	IDriver
}

// Open always fails on this platform.
func Open(config common.ProcessConfig) (*Binder, error) {
	return nil, ErrUnsupported
}
