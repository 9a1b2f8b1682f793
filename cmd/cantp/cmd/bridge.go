package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/RaswanthUtham/cantp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	flagPort2     = "port2"
	flagBaudrate2 = "baudrate2"
	flagRate2     = "rate2"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge <adapter>",
	Short: "forward traffic between two adapters",
	Long: `Open a second adapter and forward every frame between the two buses, in
both directions. The first adapter is configured with the global flags,
the second with --port2, --baudrate2 and --rate2.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gctx := cmd.Context()

		src, err := initCAN(gctx)
		if err != nil {
			return err
		}
		defer src.Close()

		dst, err := initSecondCAN(gctx, cmd, args[0])
		if err != nil {
			return err
		}
		defer dst.Close()

		log.Printf("bridging %s <-> %s", src.Adapter().Name(), dst.Adapter().Name())

		errg, ctx := errgroup.WithContext(gctx)
		errg.Go(forward(ctx, src, dst))
		errg.Go(forward(ctx, dst, src))
		if err := errg.Wait(); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		return nil
	},
}

func initSecondCAN(ctx context.Context, cmd *cobra.Command, adapterName string) (*cantp.Client, error) {
	port, err := cmd.Flags().GetString(flagPort2)
	if err != nil {
		return nil, err
	}
	baudrate, err := cmd.Flags().GetInt(flagBaudrate2)
	if err != nil {
		return nil, err
	}
	rate, err := cmd.Flags().GetFloat64(flagRate2)
	if err != nil {
		return nil, err
	}
	debug, err := rootCmd.PersistentFlags().GetBool(flagDebug)
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
	})
}

func forward(ctx context.Context, from, to *cantp.Client) func() error {
	return func() error {
		sub := from.Subscribe(ctx)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err := <-from.Err():
				if cantp.IsRecoverable(err) {
					log.Println("adapter error:", err)
					continue
				}
				return fmt.Errorf("adapter error: %w", err)
			case frame, ok := <-sub.C():
				if !ok {
					return errors.New("adapter recv channel closed")
				}
				out := cantp.NewFrame(frame.Identifier, frame.Data, cantp.Outgoing)
				out.Extended = frame.Extended
				out.FD = frame.FD
				out.BRS = frame.BRS
				if err := to.SendFrame(out); err != nil {
					return err
				}
			}
		}
	}
}

func init() {
	bridgeCmd.Flags().String(flagPort2, "*", "com-port of the second adapter")
	bridgeCmd.Flags().Int(flagBaudrate2, 115200, "baudrate of the second adapter")
	bridgeCmd.Flags().Float64(flagRate2, 500, "CAN bitrate of the second adapter in kbit/s")
	rootCmd.AddCommand(bridgeCmd)
}
