package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/RaswanthUtham/cantp/pkg/bar"
	"github.com/RaswanthUtham/cantp/pkg/isotp"
	"github.com/avast/retry-go"
	"github.com/spf13/cobra"
)

const (
	flagTxID    = "txid"
	flagRxID    = "rxid"
	flagMode    = "mode"
	flagTarget  = "target"
	flagSource  = "source"
	flagAE      = "ae"
	flagSTMin   = "stmin"
	flagBS      = "bs"
	flagDL      = "dl"
	flagRetries = "retries"
	flagWait    = "wait"
	flagListen  = "listen"
)

var isotpCmd = &cobra.Command{
	Use:   "isotp",
	Short: "ISO 15765-2 transfers",
}

func init() {
	pf := isotpCmd.PersistentFlags()
	pf.String(flagTxID, "7E0", "transmit arbitration id (hex)")
	pf.String(flagRxID, "7E8", "receive arbitration id (hex)")
	pf.String(flagMode, "normal", "addressing mode: normal, normal29, fixed, extended, extended29, mixed or mixed29")
	pf.Uint8(flagTarget, 0, "target address, used by the fixed, extended and mixed29 modes")
	pf.Uint8(flagSource, 0, "source address, used by the fixed and mixed29 modes")
	pf.Uint8(flagAE, 0, "address extension, used by the mixed modes")
	pf.Uint8(flagSTMin, 0, "minimum separation time advertised to the peer")
	pf.Uint8(flagBS, 8, "block size advertised to the peer, 0 = no limit")
	pf.Int(flagDL, 8, "max frame payload length, >8 switches to CAN FD framing")
	rootCmd.AddCommand(isotpCmd)
}

func isotpAddress() (isotp.Address, error) {
	pf := isotpCmd.PersistentFlags()
	modeName, err := pf.GetString(flagMode)
	if err != nil {
		return isotp.Address{}, err
	}
	var mode isotp.AddressingMode
	switch strings.ToLower(modeName) {
	case "normal":
		mode = isotp.Normal11
	case "normal29":
		mode = isotp.Normal29
	case "fixed":
		mode = isotp.NormalFixed29
	case "extended":
		mode = isotp.Extended11
	case "extended29":
		mode = isotp.Extended29
	case "mixed":
		mode = isotp.Mixed11
	case "mixed29":
		mode = isotp.Mixed29
	default:
		return isotp.Address{}, fmt.Errorf("unknown addressing mode %q", modeName)
	}

	addr := isotp.Address{Mode: mode}
	if addr.TargetAddress, err = pf.GetUint8(flagTarget); err != nil {
		return isotp.Address{}, err
	}
	if addr.SourceAddress, err = pf.GetUint8(flagSource); err != nil {
		return isotp.Address{}, err
	}
	if addr.AddressExtension, err = pf.GetUint8(flagAE); err != nil {
		return isotp.Address{}, err
	}

	switch mode {
	case isotp.NormalFixed29, isotp.Mixed29:
		// arbitration ids are derived from the target and source address
	default:
		txStr, err := pf.GetString(flagTxID)
		if err != nil {
			return isotp.Address{}, err
		}
		rxStr, err := pf.GetString(flagRxID)
		if err != nil {
			return isotp.Address{}, err
		}
		if addr.TxID, err = parseCANID(txStr); err != nil {
			return isotp.Address{}, err
		}
		if addr.RxID, err = parseCANID(rxStr); err != nil {
			return isotp.Address{}, err
		}
	}
	return addr, nil
}

func isotpOptions() ([]isotp.Option, error) {
	pf := isotpCmd.PersistentFlags()
	stmin, err := pf.GetUint8(flagSTMin)
	if err != nil {
		return nil, err
	}
	bs, err := pf.GetUint8(flagBS)
	if err != nil {
		return nil, err
	}
	dl, err := pf.GetInt(flagDL)
	if err != nil {
		return nil, err
	}
	opts := []isotp.Option{
		isotp.WithSTMin(stmin),
		isotp.WithBlockSize(bs),
	}
	if dl > 8 {
		opts = append(opts, isotp.WithCANFD(dl))
	}
	return opts, nil
}

var isotpSendCmd = &cobra.Command{
	Use:   "send <data>",
	Short: "send one ISO-TP message",
	Long: `data is hex. Payloads over one frame are segmented into consecutive
frames and paced by the peer's flow control. With --wait the reply
message is printed as well.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		data, err := hex.DecodeString(args[0])
		if err != nil {
			return err
		}
		retries, err := cmd.Flags().GetUint(flagRetries)
		if err != nil {
			return err
		}
		wait, err := cmd.Flags().GetDuration(flagWait)
		if err != nil {
			return err
		}
		addr, err := isotpAddress()
		if err != nil {
			return err
		}
		opts, err := isotpOptions()
		if err != nil {
			return err
		}

		c, err := initCAN(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		b := bar.New(len(data), "sending")
		opts = append(opts, isotp.WithOnProgress(func(sent, total int) {
			b.Set(sent)
		}))
		tr, err := isotp.New(ctx, c, addr, opts...)
		if err != nil {
			return err
		}
		defer tr.Close()

		err = retry.Do(
			func() error { return tr.Send(ctx, data) },
			retry.Context(ctx),
			retry.Attempts(retries),
			retry.RetryIf(func(err error) bool {
				var te *isotp.TimeoutError
				return errors.As(err, &te)
			}),
			retry.OnRetry(func(n uint, err error) {
				log.Printf("retry #%d: %v", n+1, err)
			}),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			return err
		}
		b.Finish()
		fmt.Println()
		log.Printf("sent %d bytes", len(data))

		if wait <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
			return fmt.Errorf("no reply within %v", wait)
		case msg, ok := <-tr.Recv():
			if !ok {
				return nil
			}
			log.Printf("reply, %d bytes from %02X", len(msg.Data), msg.Source)
			fmt.Print(hex.Dump(msg.Data))
		}
		return nil
	},
}

var isotpRecvCmd = &cobra.Command{
	Use:   "recv",
	Short: "receive ISO-TP messages",
	Long:  `Reassemble incoming transfers and hexdump them. Exits after the first message unless --listen is set.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		listen, err := cmd.Flags().GetBool(flagListen)
		if err != nil {
			return err
		}
		addr, err := isotpAddress()
		if err != nil {
			return err
		}
		opts, err := isotpOptions()
		if err != nil {
			return err
		}
		opts = append(opts, isotp.WithOnError(func(err error) {
			log.Println(err)
		}))

		c, err := initCAN(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		tr, err := isotp.New(ctx, c, addr, opts...)
		if err != nil {
			return err
		}
		defer tr.Close()

		spinner := bar.NewSpinner("waiting for transfer")
		done := make(chan struct{})
		defer close(done)
		go func() {
			tick := time.NewTicker(100 * time.Millisecond)
			defer tick.Stop()
			for {
				select {
				case <-done:
					return
				case <-tick.C:
					spinner.Add(1)
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-tr.Recv():
				if !ok {
					return nil
				}
				spinner.Clear()
				log.Printf("%d bytes from %02X", len(msg.Data), msg.Source)
				fmt.Print(hex.Dump(msg.Data))
				if !listen {
					return nil
				}
			}
		}
	},
}

func init() {
	isotpSendCmd.Flags().Uint(flagRetries, 3, "send attempts before giving up")
	isotpSendCmd.Flags().Duration(flagWait, 0, "wait this long for a reply message")
	isotpRecvCmd.Flags().Bool(flagListen, false, "keep receiving until interrupted")
	isotpCmd.AddCommand(isotpSendCmd)
	isotpCmd.AddCommand(isotpRecvCmd)
}
