// Command htip encodes, decodes, dispatches and manages delta storage for
// HTIP streams from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "htip",
	Short: "Encode, decode and dispatch HTIP streams",
	Long: `
╔╦╗═╗ ╦╦╔═╗
 ║ ╠╦╝║╠═╝
 ╩ ╩╚═╩╩
A signed binary codec and delta engine for hierarchical UI trees.`,
	PersistentPreRunE: initConfig,
}

func init() {
	rootCmd.AddCommand(encodeCmd, decodeCmd, dispatchCmd, storeCmd)
}
