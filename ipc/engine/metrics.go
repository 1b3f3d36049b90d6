package engine

import (
	vm "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
	"io"
)

// processMetrics holds the exported counters of one process. Prometheus
// style series live in a VictoriaMetrics set, latency distributions in a
// go-metrics registry.
type processMetrics struct {
	set *vm.Set

	starvation     *vm.Counter
	transactionOut *vm.Counter
	transactionIn  *vm.Counter
	deadReplies    *vm.Counter
	failedReplies  *vm.Counter
	obituaries     *vm.Counter

	registry gometrics.Registry
	transact gometrics.Timer
	dispatch gometrics.Timer
	commands gometrics.Meter
}

func newProcessMetrics(p *Process) *processMetrics {
	set := vm.NewSet()
	set.NewGauge("dipc_pool_executing_threads", func() float64 {
		p.mu.Lock()
		defer p.mu.Unlock()
		return float64(p.executing)
	})
	set.NewGauge("dipc_pool_max_threads", func() float64 {
		p.mu.Lock()
		defer p.mu.Unlock()
		return float64(p.maxThreads)
	})

	registry := gometrics.NewRegistry()
	return &processMetrics{
		set:            set,
		starvation:     set.NewCounter("dipc_pool_starvation_total"),
		transactionOut: set.NewCounter(`dipc_transactions_total{direction="out"}`),
		transactionIn:  set.NewCounter(`dipc_transactions_total{direction="in"}`),
		deadReplies:    set.NewCounter("dipc_dead_replies_total"),
		failedReplies:  set.NewCounter("dipc_failed_replies_total"),
		obituaries:     set.NewCounter("dipc_obituaries_total"),
		registry:       registry,
		transact:       gometrics.GetOrRegisterTimer("transact", registry),
		dispatch:       gometrics.GetOrRegisterTimer("dispatch", registry),
		commands:       gometrics.GetOrRegisterMeter("commands", registry),
	}
}

// WritePrometheus writes the process metrics in Prometheus text format.
func (p *Process) WritePrometheus(w io.Writer) {
	p.metrics.set.WritePrometheus(w)
}

// Registry returns the go-metrics registry with the transact and dispatch
// timers and the commands meter.
func (p *Process) Registry() gometrics.Registry {
	return p.metrics.registry
}
