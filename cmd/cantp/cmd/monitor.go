package cmd

import (
	"fmt"
	"log"

	"github.com/RaswanthUtham/cantp"
	"github.com/RaswanthUtham/cantp/pkg/dbc"
	"github.com/spf13/cobra"
)

var monitorDatabase string

var monitorCmd = &cobra.Command{
	Use:   "monitor [id]...",
	Short: "dump CAN traffic on stdout",
	Long: `Print every frame seen on the bus, optionally limited to the given hex
identifiers. With --dbc frames found in the database are decoded into
physical signal values.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var filters []uint32
		for _, arg := range args {
			id, err := parseCANID(arg)
			if err != nil {
				return err
			}
			filters = append(filters, id)
		}

		var db *dbc.Database
		if monitorDatabase != "" {
			var err error
			db, err = dbc.Load(monitorDatabase)
			if err != nil {
				return err
			}
		}

		c, err := initCAN(ctx, filters...)
		if err != nil {
			return err
		}
		defer c.Close()

		sub := c.Subscribe(ctx)
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return nil
			case err, ok := <-c.Err():
				if !ok {
					return nil
				}
				if !cantp.IsRecoverable(err) {
					return err
				}
				log.Println(err)
			case frame, ok := <-sub.C():
				if !ok {
					return nil
				}
				fmt.Println(frame.ColorString())
				if db != nil {
					printSignals(db, frame)
				}
			}
		}
	},
}

func printSignals(db *dbc.Database, frame *cantp.CANFrame) {
	msg, ok := db.Message(frame.Identifier)
	if !ok {
		return
	}
	values, err := msg.Decode(frame.Data)
	if err != nil {
		log.Printf("%s: %v", msg.Name, err)
		return
	}
	for _, sig := range msg.Signals {
		fmt.Printf("  %s.%s: %g %s\n", msg.Name, sig.Name, values[sig.Name], sig.Unit)
	}
}

func init() {
	monitorCmd.Flags().StringVar(&monitorDatabase, "dbc", "", "decode frames against this CAN database file")
	rootCmd.AddCommand(monitorCmd)
}
