package cmd

import (
	"encoding/hex"

	"github.com/RaswanthUtham/cantp"
	"github.com/spf13/cobra"
)

var sendExtended bool

var sendCmd = &cobra.Command{
	Use:   "send <id> <data>",
	Short: "send a single frame",
	Long:  `id and data are hex, eg. cantp send 7DF 02010C`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := parseCANID(args[0])
		if err != nil {
			return err
		}
		data, err := hex.DecodeString(args[1])
		if err != nil {
			return err
		}

		c, err := initCAN(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		frame := cantp.NewFrame(id, data, cantp.Outgoing)
		if sendExtended || id > 0x7FF {
			frame.Extended = true
		}
		fd, err := rootCmd.PersistentFlags().GetBool(flagFD)
		if err != nil {
			return err
		}
		frame.FD = fd
		return c.SendFrame(frame)
	},
}

func init() {
	sendCmd.Flags().BoolVar(&sendExtended, "extended", false, "send with a 29 bit identifier")
	rootCmd.AddCommand(sendCmd)
}
