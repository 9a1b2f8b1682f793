package cmd

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/RaswanthUtham/cantp"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "cantp",
	Short:        "CAN swiss army tool",
	Long:         `Send, monitor and bridge raw CAN traffic and run ISO 15765-2 transfers over the supported adapters`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) {
	rootCmd.ExecuteContext(ctx)
}

const (
	flagPort     = "port"
	flagBaudrate = "baudrate"
	flagDebug    = "debug"
	flagAdapter  = "adapter"
	flagRate     = "rate"
	flagFD       = "fd"
)

func init() {
	log.SetFlags(log.Lshortfile | log.LstdFlags)

	pf := rootCmd.PersistentFlags()
	pf.StringP(flagPort, "p", "*", "com-port, * = print available")
	pf.IntP(flagBaudrate, "b", 115200, "baudrate")
	pf.BoolP(flagDebug, "d", false, "debug mode")
	pf.StringP(flagAdapter, "a", "SLCan", "what adapter to use")
	pf.Float64P(flagRate, "r", 500, "CAN bitrate in kbit/s")
	pf.Bool(flagFD, false, "open the adapter in CAN FD mode")
}

func initCAN(ctx context.Context, filters ...uint32) (*cantp.Client, error) {
	pf := rootCmd.PersistentFlags()
	adapterName, err := pf.GetString(flagAdapter)
	if err != nil {
		return nil, err
	}
	port, err := pf.GetString(flagPort)
	if err != nil {
		return nil, err
	}
	baudrate, err := pf.GetInt(flagBaudrate)
	if err != nil {
		return nil, err
	}
	rate, err := pf.GetFloat64(flagRate)
	if err != nil {
		return nil, err
	}
	debug, err := pf.GetBool(flagDebug)
	if err != nil {
		return nil, err
	}
	fd, err := pf.GetBool(flagFD)
	if err != nil {
		return nil, err
	}
	if adapterRequiresPort(adapterName) {
		port, err = cantp.ResolvePort(port)
		if err != nil {
			return nil, err
		}
	}
	return cantp.New(ctx, adapterName, &cantp.AdapterConfig{
		Debug:        debug,
		Port:         port,
		PortBaudrate: baudrate,
		CANRate:      rate,
		CANFilter:    filters,
		FD:           fd,
	})
}

func adapterRequiresPort(name string) bool {
	for _, info := range cantp.ListAdapters() {
		if info.Name == name {
			return info.RequiresSerialPort
		}
	}
	return false
}

// parseCANID reads a hex arbitration id with or without a 0x prefix.
func parseCANID(s string) (uint32, error) {
	id, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid identifier %q", s)
	}
	return uint32(id), nil
}
