package serve

import (
	"errors"
	"fmt"
	cmdUtil "github.com/ValentinKolb/dIPC/cmd/util"
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/engine"
	"github.com/ValentinKolb/dIPC/ipc/protocol"
	"github.com/ValentinKolb/dIPC/ipc/service"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var (
	serveCmdConfig = common.ProcessConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Serve the echo service on a binder thread pool",
		Long:    `Open the binder device, publish the echo service as context object and serve incoming transactions until interrupted. The configuration can be set via command line flags or environment variables. The format of the environment variables is DIPC_<flag> (e.g. DIPC_MAX_THREADS=4)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cmdUtil.SetupProcessFlags(ServeCmd, protocol.DefaultMaxThreads)

	key := "context-manager"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Register as context manager (handle 0) before serving. Only one process per device can do this"))

	key = "disable-background-scheduling"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Raise threads serving calls from background callers back to normal priority"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address on which Prometheus metrics are served under /metrics (e.g. localhost:9090, empty = disabled)"))

	key = "stats-interval"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Interval in seconds at which latency statistics are written to the log (0 = disabled)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the process configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	serveCmdConfig = cmdUtil.GetProcessConfig()
	serveCmdConfig.ContextManager = viper.GetBool("context-manager")
	serveCmdConfig.DisableBackgroundScheduling = viper.GetBool("disable-background-scheduling")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.StatsIntervalSecond = viper.GetInt("stats-interval")

	return serveCmdConfig.Validate()
}

// run serves the echo service until the process receives SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	common.InitLoggers(serveCmdConfig)
	fmt.Print(serveCmdConfig.String())

	proc, err := engine.Open(serveCmdConfig)
	if err != nil {
		return fmt.Errorf("failed to open binder process: %w", err)
	}
	echo := service.NewEcho()
	proc.SetContextObject(echo)

	if serveCmdConfig.MetricsEndpoint != "" {
		go serveMetrics(proc, serveCmdConfig.MetricsEndpoint)
	}
	if serveCmdConfig.StatsIntervalSecond > 0 {
		interval := time.Duration(serveCmdConfig.StatsIntervalSecond) * time.Second
		go gometrics.Log(proc.Registry(), interval, statsLogger{})
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		cmdUtil.Logger.Infof("received %s, shutting down after %d calls", sig, echo.Calls())
		proc.Close()
	}()

	// the main pool thread runs on this goroutine, the driver asks for more
	t, err := proc.Self()
	if err != nil {
		return err
	}
	err = t.JoinThreadPool(true)
	t.Close()
	proc.Close()
	proc.Wait()
	return err
}

func serveMetrics(proc *engine.Process, endpoint string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		proc.WritePrometheus(w)
	})
	cmdUtil.Logger.Infof("serving metrics on http://%s/metrics", endpoint)
	if err := http.ListenAndServe(endpoint, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cmdUtil.Logger.Errorf("metrics endpoint failed: %v", err)
	}
}

// statsLogger forwards the periodic go-metrics dump to the cmd logger
type statsLogger struct{}

func (statsLogger) Printf(format string, v ...interface{}) {
	cmdUtil.Logger.Infof(format, v...)
}
