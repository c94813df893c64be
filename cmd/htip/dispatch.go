package main

import (
	"fmt"
	"io"
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/spf13/cobra"

	htip "github.com/najmus-sakib-hossain/dx-www-runtime"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <stream-file>",
	Short: "Decode a stream and dispatch it against a logging host capability",
	Args:  cobra.ExactArgs(1),
	RunE:  runDispatch,
}

func runDispatch(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("htip: open %s: %w", args[0], err)
	}
	defer f.Close()

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

	host := &loggingCapability{out: cmd.OutOrStdout(), nextHandle: 1}
	disp := htip.NewDispatcher(host, rootHandle{})
	if err := disp.Dispatch(ds); err != nil {
		return fmt.Errorf("htip: dispatch: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "dispatch complete")
	return nil
}

// rootHandle is the handle bound to the reserved root instance id; the
// CLI has no real DOM, so it is an otherwise-empty marker value.
type rootHandle struct{}

// leafHandle is a synthetic node handle the logging capability hands back
// from CloneTemplate, distinguishable only by its ordinal.
type leafHandle int

// loggingCapability implements htip.HostCapability by printing every call
// it receives instead of mutating a real UI tree. It exists so `htip
// dispatch` can exercise and demonstrate the dispatcher end to end
// without embedding an actual renderer.
type loggingCapability struct {
	out        io.Writer
	nextHandle int
}

func (c *loggingCapability) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *loggingCapability) RegisterTemplate(templateID uint16, html []byte, slots []htip.SlotDef) error {
	c.printf("RegisterTemplate(%d, %d bytes, %d slots)", templateID, len(html), len(slots))
	return nil
}

func (c *loggingCapability) CloneTemplate(templateID uint16, parent htip.Handle) (htip.Handle, error) {
	h := leafHandle(c.nextHandle)
	c.nextHandle++
	c.printf("CloneTemplate(%d) -> %v under %v", templateID, h, parent)
	return h, nil
}

func (c *loggingCapability) SetText(node htip.Handle, path []uint8, text []byte) error {
	c.printf("SetText(%v, path=%v, %q)", node, path, text)
	return nil
}

func (c *loggingCapability) SetAttr(node htip.Handle, path []uint8, name, value []byte) error {
	c.printf("SetAttr(%v, path=%v, %s=%q)", node, path, name, value)
	return nil
}

func (c *loggingCapability) SetProperty(node htip.Handle, propName []byte, value htip.PropertyValue) error {
	c.printf("SetProperty(%v, %s, kind=%d)", node, propName, value.Kind)
	return nil
}

func (c *loggingCapability) ToggleClass(node htip.Handle, class []byte, on bool) error {
	c.printf("ToggleClass(%v, %s, %v)", node, class, on)
	return nil
}

func (c *loggingCapability) AttachEvent(node htip.Handle, eventName []byte, handlerID uint32) error {
	c.printf("AttachEvent(%v, %s, handler=%d)", node, eventName, handlerID)
	return nil
}

func (c *loggingCapability) AppendChild(parent, child htip.Handle) error {
	c.printf("AppendChild(%v, %v)", parent, child)
	return nil
}

func (c *loggingCapability) Remove(node htip.Handle) error {
	c.printf("Remove(%v)", node)
	return nil
}

func (c *loggingCapability) BeginBatch() error {
	c.printf("BeginBatch()")
	return nil
}

func (c *loggingCapability) CommitBatch() error {
	c.printf("CommitBatch()")
	return nil
}

func (c *loggingCapability) AbortBatch() error {
	c.printf("AbortBatch()")
	return nil
}
