package engine

import "errors"

var (
	// ErrProtocol marks a malformed or unknown record from the driver. The
	// driver is trusted, so such an error ends the pool loop.
	ErrProtocol = errors.New("binder protocol violation")
	// ErrFatal wraps the error that made JoinThreadPool give up.
	ErrFatal = errors.New("fatal binder thread pool error")
	// ErrShutdown is returned by Process.Self after Process.Close.
	ErrShutdown = errors.New("binder process is shut down")
	// ErrWrongThread is returned when a Thread is used off its OS thread.
	ErrWrongThread = errors.New("binder thread used from a different OS thread")
	// ErrThreadClosed is returned when a Thread is used after Thread.Close.
	ErrThreadClosed = errors.New("binder thread is closed")
)
