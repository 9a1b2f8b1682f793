package cmd

import (
	"fmt"
	"strings"

	"github.com/RaswanthUtham/cantp"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "list the supported adapters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		bold := color.New(color.Bold, color.FgGreen).SprintFunc()
		infos := make(map[string]cantp.AdapterInfo)
		for _, info := range cantp.ListAdapters() {
			infos[info.Name] = info
		}
		for _, name := range cantp.ListAdapterNames() {
			a := infos[name]
			fmt.Println(bold(a.Name))
			fmt.Printf("  Desc: %s\n", a.Description)
			fmt.Printf("  RequiresSerialPort: %v\n", a.RequiresSerialPort)
			fmt.Printf("  Capabilities: %s\n", a.Capabilities.String())
			fmt.Println(strings.Repeat("-", 30))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(adaptersCmd)
}
