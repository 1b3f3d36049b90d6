package cmd

import (
	"fmt"
	"github.com/ValentinKolb/dIPC/cmd/call"
	"github.com/ValentinKolb/dIPC/cmd/serve"
	"github.com/ValentinKolb/dIPC/cmd/util"
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/driver"
	"github.com/ValentinKolb/dIPC/ipc/protocol"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dipc",
		Short: "binder IPC transaction engine",
		Long: fmt.Sprintf(`dIPC (v%s)

A user-space transaction engine for the Linux binder driver written in Go.
It serves incoming calls on a bounded thread pool, sends calls to remote
objects and tracks cross-process object lifetime.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dIPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("dIPC v%s (binder protocol %d)\n", Version, protocol.CurrentProtocolVersion)

			if showDriver, _ := cmd.Flags().GetBool("driver"); !showDriver {
				return nil
			}
			device, _ := cmd.Flags().GetString("device")
			drv, err := driver.Open(common.ProcessConfig{Device: device})
			if err != nil {
				return err
			}
			defer drv.Close()
			version, err := drv.Version()
			if err != nil {
				return err
			}
			fmt.Printf("driver %s speaks binder protocol %d\n", device, version)
			return nil
		},
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(call.CallCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags for version command
	versionCmd.Flags().Bool("driver", false, util.WrapString("Also open the binder device and print the protocol version of the kernel driver"))
	versionCmd.Flags().String("device", common.DefaultDevice, util.WrapString("Path of the binder device node"))

	// Add Flags
	RootCmd.PersistentFlags().Bool("debug", false, util.WrapString("Shortcut for --log-level=debug"))
	_ = viper.BindPFlag("debug", RootCmd.PersistentFlags().Lookup("debug"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
