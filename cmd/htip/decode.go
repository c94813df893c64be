package main

import (
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/spf13/cobra"

	htip "github.com/najmus-sakib-hossain/dx-www-runtime"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <stream-file>",
	Short: "Verify and decode an HTIP stream, printing a summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecode,
}

func runDecode(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("htip: open %s: %w", args[0], err)
	}
	defer f.Close()

	// Memory map rather than read() so a 16 MiB stream does not cost a
	// full heap copy just to be verified and scanned once.
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return fmt.Errorf("htip: mmap %s: %w", args[0], err)
	}
	defer data.Unmap()

	pub, err := publicKeyFromConfig()
	if err != nil {
		return err
	}

	ds, err := htip.Decode(data, pub, nil)
	if err != nil {
		return fmt.Errorf("htip: decode: %w (code %d)", err, htip.CodeOf(err))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "templates: %d\n", ds.Header.TemplateCount)
	fmt.Fprintf(cmd.OutOrStdout(), "strings:   %d\n", ds.Header.StringCount)
	fmt.Fprintf(cmd.OutOrStdout(), "opcodes:   %d\n", ds.Header.OpcodeCount)
	for _, op := range ds.Operations {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", op.Tag())
	}
	return nil
}
