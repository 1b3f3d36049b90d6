package common

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// DefaultDevice is the binder device opened when no device is configured.
const DefaultDevice = "/dev/binder"

// LogLevels lists the accepted values of the LogLevel settings.
var LogLevels = []string{"debug", "info", "warn", "warning", "error"}

// --------------------------------------------------------------------------
// Process configuration struct
// --------------------------------------------------------------------------

// ProcessConfig holds all parameters of a binder process.
type ProcessConfig struct {
	// Device is the path of the binder device node
	Device string
	// VMSize is the size of the transaction buffer mapping in bytes (0 = default)
	VMSize int
	// MaxThreads is the number of pool threads the driver may request
	MaxThreads uint32
	// ContextManager registers the process as the owner of handle 0
	ContextManager bool
	// DisableBackgroundScheduling keeps incoming calls out of the background
	// priority band even if the caller runs there
	DisableBackgroundScheduling bool

	// Logging configuration
	LogLevel string

	// Metrics: address of the Prometheus endpoint ("" = disabled) and the
	// interval of the periodic stats dump (0 = disabled)
	MetricsEndpoint     string
	StatsIntervalSecond int
}

// Validate checks the configuration for values the engine cannot work with.
func (c *ProcessConfig) Validate() error {
	if c.VMSize < 0 {
		return fmt.Errorf("invalid vm size %d: must not be negative", c.VMSize)
	}
	if c.StatsIntervalSecond < 0 {
		return fmt.Errorf("invalid stats interval %d: must not be negative", c.StatsIntervalSecond)
	}
	if c.LogLevel != "" && !slices.Contains(LogLevels, strings.ToLower(c.LogLevel)) {
		return fmt.Errorf("invalid log level: %s. must be one of %s", c.LogLevel, strings.Join(LogLevels, ", "))
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *ProcessConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	device := c.Device
	if device == "" {
		device = DefaultDevice
	}

	// Driver settings
	addSection("Binder Driver")
	addField("Device", device)
	if c.VMSize > 0 {
		addField("VM Size", fmt.Sprintf("%d KiB", c.VMSize/1024))
	} else {
		addField("VM Size", "default")
	}
	addField("Context Manager", strconv.FormatBool(c.ContextManager))

	// Thread pool
	addSection("Thread Pool")
	addField("Max Threads", strconv.FormatUint(uint64(c.MaxThreads), 10))
	addField("Background Scheduling", strconv.FormatBool(!c.DisableBackgroundScheduling))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Metrics
	addSection("Metrics")
	if c.MetricsEndpoint != "" {
		addField("Endpoint", c.MetricsEndpoint)
	} else {
		addField("Endpoint", "disabled")
	}
	if c.StatsIntervalSecond > 0 {
		addField("Stats Interval", fmt.Sprintf("%d sec", c.StatsIntervalSecond))
	} else {
		addField("Stats Interval", "disabled")
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// Call configuration struct
// --------------------------------------------------------------------------

// CallConfig describes one outgoing transaction.
type CallConfig struct {
	Handle  uint32
	Code    uint32
	Payload string
	OneWay  bool
}

// String returns a formatted string representation of the call configuration
func (c *CallConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Transaction")
	addField("Handle", strconv.FormatUint(uint64(c.Handle), 10))
	addField("Code", fmt.Sprintf("%#x", c.Code))
	addField("Payload", strconv.Quote(c.Payload))
	addField("One Way", strconv.FormatBool(c.OneWay))

	return sb.String()
}
