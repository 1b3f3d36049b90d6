package call

import (
	"fmt"
	"github.com/ValentinKolb/dIPC/cmd/util"
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/engine"
	"github.com/ValentinKolb/dIPC/ipc/parcel"
	"github.com/ValentinKolb/dIPC/ipc/protocol"
	"github.com/ValentinKolb/dIPC/ipc/service"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	callConfig = common.CallConfig{}

	// CallCmd sends one transaction to a remote handle
	CallCmd = &cobra.Command{
		Use:   "call [payload]",
		Short: "Send a transaction to a remote object",
		Long:  "Send one transaction with a string payload to a binder handle and print the string reply. Handle 0 is the context manager, which is the echo service of a 'dipc serve --context-manager' process.",
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := util.BindCommandFlags(cmd); err != nil {
				return err
			}
			callConfig = common.CallConfig{
				Handle:  viper.GetUint32("handle"),
				Code:    viper.GetUint32("code"),
				Payload: viper.GetString("payload"),
				OneWay:  viper.GetBool("oneway"),
			}
			if len(args) == 1 {
				callConfig.Payload = args[0]
			}
			return nil
		},
		RunE: run,
	}
)

func init() {
	// a client only needs the calling thread
	util.SetupProcessFlags(CallCmd, 0)

	CallCmd.Flags().Uint32("handle", 0, util.WrapString("Handle of the remote object (0 = context manager)"))
	CallCmd.Flags().Uint32("code", service.CodeEcho, util.WrapString("Transaction code"))
	CallCmd.Flags().String("payload", "", util.WrapString("String payload, can also be given as argument"))
	CallCmd.Flags().Bool("oneway", false, util.WrapString("Send a one-way transaction and do not wait for a reply"))
}

func run(cmd *cobra.Command, _ []string) error {
	config := util.GetProcessConfig()
	common.InitLoggers(config)
	util.Logger.Debugf("call configuration:%s", callConfig.String())

	proc, err := engine.Open(config)
	if err != nil {
		return fmt.Errorf("failed to open binder process: %w", err)
	}
	defer proc.Close()

	t, err := proc.Self()
	if err != nil {
		return err
	}
	defer t.Close()

	data := parcel.New()
	data.WriteString(callConfig.Payload)

	var flags uint32
	if callConfig.OneWay {
		flags = protocol.FlagOneWay
	}
	reply, err := t.Transact(callConfig.Handle, callConfig.Code, data, flags)
	if err != nil {
		return fmt.Errorf("transaction to handle %d failed: %w", callConfig.Handle, err)
	}
	if reply == nil {
		cmd.Println("sent")
		return nil
	}
	defer reply.Recycle()

	if reply.DataSize() == 0 {
		cmd.Println("ok (empty reply)")
		return nil
	}
	msg, err := reply.ReadString()
	if err != nil {
		return fmt.Errorf("reply is not a string (%d bytes): %w", reply.DataSize(), err)
	}
	cmd.Println(msg)
	return nil
}
