package util

import (
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

var Logger = logger.GetLogger("cmd")

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var lines []string
	var line strings.Builder

	for _, word := range strings.Fields(text) {
		// start a new line if the word does not fit
		if line.Len() > 0 && line.Len()+1+len(word) > Wrap {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteString(" ")
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}

	return strings.Join(lines, "\n")
}

// SetupProcessFlags adds the flags that configure the binder process of a
// command. maxThreads is the default pool size
func SetupProcessFlags(cmd *cobra.Command, maxThreads uint32) {
	key := "device"
	cmd.PersistentFlags().String(key, common.DefaultDevice, WrapString("Path of the binder device node"))

	key = "vm-size"
	cmd.PersistentFlags().Int(key, 0, WrapString("Size of the transaction buffer mapping in KB (0 = driver default of 1MB - 8KB)"))

	key = "max-threads"
	cmd.PersistentFlags().Uint32(key, maxThreads, WrapString("Maximum number of pool threads the driver may request in addition to the main thread"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// InitConfig initializes configuration from env files and environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dipc")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetProcessConfig reads the process configuration from viper
func GetProcessConfig() common.ProcessConfig {
	config := common.ProcessConfig{
		Device:     viper.GetString("device"),
		VMSize:     viper.GetInt("vm-size") * 1024,
		MaxThreads: viper.GetUint32("max-threads"),
		LogLevel:   viper.GetString("log-level"),
	}
	if viper.GetBool("debug") {
		config.LogLevel = "debug"
	}
	return config
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
