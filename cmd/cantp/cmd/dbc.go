package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/RaswanthUtham/cantp/pkg/dbc"
	"github.com/spf13/cobra"
)

var dbcCmd = &cobra.Command{
	Use:   "dbc",
	Short: "CAN database commands",
}

var dbcDumpCmd = &cobra.Command{
	Use:   "dump <file>...",
	Short: "print the messages and signals of a database",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := dbc.Load(args...)
		if err != nil {
			return err
		}
		if db.Version != "" {
			fmt.Println("version", db.Version)
		}
		for _, msg := range db.Messages {
			id := fmt.Sprintf("0x%03X", msg.ID)
			if msg.Extended {
				id = fmt.Sprintf("0x%08X", msg.ID)
			}
			fmt.Printf("%s %s: %d bytes, sent by %s\n", id, msg.Name, msg.Length, msg.Transmitter)
			for _, sig := range msg.Signals {
				order := "little endian"
				if !sig.LittleEndian {
					order = "big endian"
				}
				fmt.Printf("  %s: bit %d, %d bits, %s, scale %g, offset %g %s\n",
					sig.Name, sig.StartBit, sig.Length, order, sig.Scale, sig.Offset, sig.Unit)
			}
		}
		return nil
	},
}

var dbcDecodeCmd = &cobra.Command{
	Use:   "decode <file> <id> <data>",
	Short: "decode one frame against a database",
	Long:  `id and data are hex, eg. cantp dbc decode motor.dbc 1F0 C006E00000000000`,
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := dbc.Load(args[0])
		if err != nil {
			return err
		}
		id, err := parseCANID(args[1])
		if err != nil {
			return err
		}
		data, err := hex.DecodeString(args[2])
		if err != nil {
			return err
		}
		msg, values, err := db.DecodeFrame(id, data)
		if err != nil {
			return err
		}
		for _, sig := range msg.Signals {
			fmt.Printf("%s.%s: %g %s\n", msg.Name, sig.Name, values[sig.Name], sig.Unit)
		}
		return nil
	},
}

func init() {
	dbcCmd.AddCommand(dbcDumpCmd)
	dbcCmd.AddCommand(dbcDecodeCmd)
	rootCmd.AddCommand(dbcCmd)
}
