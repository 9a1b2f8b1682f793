package cmd

import (
	"errors"

	"github.com/RaswanthUtham/cantp"
	"github.com/spf13/cobra"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "list the serial ports on this machine",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := cantp.ResolvePort("*")
		if errors.Is(err, cantp.ErrNoPortSelected) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
