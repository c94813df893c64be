package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	htip "github.com/najmus-sakib-hossain/dx-www-runtime"
)

// opScript is the JSON-authored operation list an encode run compiles
// into a signed HTIP stream. It exists only for this CLI: a real
// compiler builds the same Encoder calls directly from its own AST.
type opScript struct {
	Templates []struct {
		HTML  string `json:"html"`
		Slots []struct {
			SlotID uint16 `json:"slot_id"`
			Kind   string `json:"kind"`
			Name   string `json:"name"`
			Path   []byte `json:"path"`
		} `json:"slots"`
	} `json:"templates"`
	Ops []struct {
		Type       string  `json:"type"`
		InstanceID uint32  `json:"instance_id"`
		TemplateID uint16  `json:"template_id"`
		ParentID   uint32  `json:"parent_id"`
		ChildID    uint32  `json:"child_id"`
		SlotID     uint16  `json:"slot_id"`
		Text       string  `json:"text"`
		Name       string  `json:"name"`
		Value      string  `json:"value"`
		Class      string  `json:"class"`
		On         bool    `json:"on"`
		Event      string  `json:"event"`
		HandlerID  uint32  `json:"handler_id"`
		BatchID    uint32  `json:"batch_id"`
		PropNumber float64 `json:"prop_number"`
		PropBool   bool    `json:"prop_bool"`
		PropNull   bool    `json:"prop_null"`
	} `json:"ops"`
}

var encodeOutPath string

var encodeCmd = &cobra.Command{
	Use:   "encode <script.json>",
	Short: "Compile a JSON operation script into a signed HTIP stream",
	Args:  cobra.ExactArgs(1),
	RunE:  runEncode,
}

func init() {
	encodeCmd.Flags().StringVarP(&encodeOutPath, "out", "o", "out.htip", "output stream path")
}

func runEncode(cmd *cobra.Command, args []string) error {
	raw, err := readFile(args[0])
	if err != nil {
		return err
	}
	var script opScript
	if err := json.Unmarshal(raw, &script); err != nil {
		return fmt.Errorf("htip: parse script: %w", err)
	}

	enc := htip.NewEncoder()
	for _, t := range script.Templates {
		htmlID := enc.Strings.Intern(t.HTML)
		slots := make([]htip.SlotDef, 0, len(t.Slots))
		for _, s := range t.Slots {
			var kind htip.SlotKind
			var nameID uint32
			switch s.Kind {
			case "text":
				kind = htip.SlotText
			case "attribute":
				kind = htip.SlotAttribute
				nameID = enc.Strings.Intern(s.Name)
			case "property":
				kind = htip.SlotProperty
				nameID = enc.Strings.Intern(s.Name)
			case "event":
				kind = htip.SlotEvent
				nameID = enc.Strings.Intern(s.Name)
			case "class":
				kind = htip.SlotClass
			default:
				return fmt.Errorf("htip: unknown slot kind %q", s.Kind)
			}
			slots = append(slots, htip.SlotDef{SlotID: s.SlotID, Kind: kind, NameStringID: nameID, Path: s.Path})
		}
		if _, err := enc.Templates.Define(htmlID, slots); err != nil {
			return err
		}
	}

	for _, o := range script.Ops {
		switch o.Type {
		case "template_def":
			enc.Emit(htip.TemplateDefOp{TemplateID: o.TemplateID})
		case "instantiate":
			enc.Emit(htip.InstantiateOp{InstanceID: o.InstanceID, TemplateID: o.TemplateID, ParentID: o.ParentID})
		case "patch_text":
			enc.Emit(htip.PatchTextOp{InstanceID: o.InstanceID, SlotID: o.SlotID, StringID: enc.Strings.Intern(o.Text)})
		case "patch_attr":
			enc.Emit(htip.PatchAttrOp{InstanceID: o.InstanceID, SlotID: o.SlotID, NameID: enc.Strings.Intern(o.Name), ValueID: enc.Strings.Intern(o.Value)})
		case "patch_class_toggle":
			enc.Emit(htip.PatchClassToggleOp{InstanceID: o.InstanceID, ClassID: enc.Strings.Intern(o.Class), On: o.On})
		case "attach_event":
			enc.Emit(htip.AttachEventOp{InstanceID: o.InstanceID, EventTypeID: enc.Strings.Intern(o.Event), HandlerID: o.HandlerID})
		case "remove_node":
			enc.Emit(htip.RemoveNodeOp{InstanceID: o.InstanceID})
		case "batch_start":
			enc.Emit(htip.BatchStartOp{BatchID: o.BatchID})
		case "batch_commit":
			enc.Emit(htip.BatchCommitOp{BatchID: o.BatchID})
		case "set_property":
			var value htip.PropertyValue
			switch {
			case o.PropNull:
				value = htip.PropertyValue{Kind: htip.PropertyNull}
			case o.Value != "":
				value = htip.PropertyValue{Kind: htip.PropertyString, StringID: enc.Strings.Intern(o.Value)}
			case o.PropNumber != 0:
				value = htip.PropertyValue{Kind: htip.PropertyNumber, Number: o.PropNumber}
			default:
				value = htip.PropertyValue{Kind: htip.PropertyBoolean, Bool: o.PropBool}
			}
			enc.Emit(htip.SetPropertyOp{InstanceID: o.InstanceID, PropNameID: enc.Strings.Intern(o.Name), Value: value})
		case "append_child":
			enc.Emit(htip.AppendChildOp{ParentID: o.ParentID, ChildID: o.ChildID})
		default:
			return fmt.Errorf("htip: unknown op type %q", o.Type)
		}
	}

	key, err := signingKeyFromConfig()
	if err != nil {
		return err
	}
	stream, err := enc.Encode(key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(encodeOutPath, stream, 0o644); err != nil {
		return fmt.Errorf("htip: write stream: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(stream), encodeOutPath)
	return nil
}
