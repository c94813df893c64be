package htip

import (
	"crypto/ed25519"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// Encoder builds one HTIP stream from a template dictionary, a string
// table and an ordered operation list. Each Encoder owns its own
// StringBuilder and Dictionary, so independent encoders may run
// concurrently on separate goroutines (§5).
type Encoder struct {
	Strings    StringBuilder
	Templates  Dictionary
	Limits     Limits
	Logger     *logrus.Logger

	ops []Operation
}

// NewEncoder returns an Encoder using the default resource limits.
func NewEncoder() *Encoder {
	return &Encoder{Limits: DefaultLimits()}
}

// Emit appends op to the operation list in textual order.
func (e *Encoder) Emit(op Operation) {
	e.ops = append(e.ops, op)
}

// Encode finalizes the string table and templates, serializes the header,
// tables and opcode stream, and signs the payload with signingKey. It
// rejects malformed input (§4.4): an operation referencing an unknown
// template, string or instance id, an unbalanced batch, or a reference to
// an instance before its Instantiate.
func (e *Encoder) Encode(signingKey ed25519.PrivateKey) ([]byte, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}

	stringsSection := e.Strings.Encode()
	templatesSection := e.encodeTemplates()
	opcodesSection, err := e.encodeOps()
	if err != nil {
		return nil, err
	}

	payloadSize := len(stringsSection) + len(templatesSection) + len(opcodesSection)
	if payloadSize+HeaderSize > e.Limits.MaxStreamSize {
		return nil, ErrResourceLimitExceeded
	}

	header := Header{
		Magic:         Magic,
		Version:       Version,
		TemplateCount: uint16(e.Templates.Len()),
		StringCount:   uint16(e.Strings.Len()),
		OpcodeCount:   uint32(len(e.ops)),
		PayloadSize:   uint32(payloadSize),
	}

	payload := make([]byte, HeaderSize+payloadSize)
	putHeader(payload, header)
	pos := HeaderSize
	pos += copy(payload[pos:], stringsSection)
	pos += copy(payload[pos:], templatesSection)
	copy(payload[pos:], opcodesSection)

	sig, err := Sign(signingKey, payload)
	if err != nil {
		return nil, fmt.Errorf("htip: sign payload: %w", err)
	}

	stream := make([]byte, SignatureSize+len(payload))
	copy(stream, sig)
	copy(stream[SignatureSize:], payload)
	loggerOrDefault(e.Logger).WithFields(logrus.Fields{
		"templates": header.TemplateCount,
		"strings":   header.StringCount,
		"opcodes":   header.OpcodeCount,
		"bytes":     len(stream),
	}).Debug("htip: encoded stream")
	return stream, nil
}

// validate checks referential integrity the way the teacher's Parse
// pipeline walked the data directories in order, bailing out on the first
// structural problem rather than emitting a partially-formed stream.
func (e *Encoder) validate() error {
	if e.Templates.Len() > e.Limits.MaxTemplates {
		return ErrResourceLimitExceeded
	}
	if e.Strings.Len() > e.Limits.MaxStrings {
		return ErrResourceLimitExceeded
	}

	defined := map[uint32]struct{}{RootInstance: {}}
	removed := map[uint32]struct{}{}
	batchStack := []uint32(nil)
	batchDefined := map[uint32]map[uint32]struct{}{}
	batchRemoved := map[uint32]map[uint32]struct{}{}

	checkString := func(id uint32) error {
		if int(id) >= e.Strings.Len() {
			return fmt.Errorf("%w: string id %d", ErrInvalidInput, id)
		}
		return nil
	}
	checkTemplate := func(id uint16) error {
		if _, ok := e.Templates.Lookup(id); !ok {
			return fmt.Errorf("%w: template id %d", ErrInvalidInput, id)
		}
		return nil
	}
	checkInstance := func(id uint32) error {
		if _, ok := defined[id]; ok {
			return nil
		}
		if len(batchStack) > 0 {
			if _, ok := batchDefined[batchStack[len(batchStack)-1]][id]; ok {
				return nil
			}
		}
		return fmt.Errorf("%w: instance id %d referenced before Instantiate", ErrInvalidInput, id)
	}
	// checkNotRemoved rejects reuse of an instance id that has already been
	// permanently tombstoned by an earlier RemoveNode (§9 open question,
	// resolved: disallowed). The tombstone only becomes permanent once a
	// removal inside a batch actually commits, mirroring the deferred
	// removal semantics RemoveNodeOp itself observes.
	checkNotRemoved := func(id uint32) error {
		if _, ok := removed[id]; ok {
			return fmt.Errorf("%w: instance id %d reused after RemoveNode", ErrInvalidInput, id)
		}
		return nil
	}
	define := func(id uint32) {
		if len(batchStack) > 0 {
			b := batchStack[len(batchStack)-1]
			if batchDefined[b] == nil {
				batchDefined[b] = map[uint32]struct{}{}
			}
			batchDefined[b][id] = struct{}{}
			return
		}
		defined[id] = struct{}{}
	}

	for _, op := range e.ops {
		switch o := op.(type) {
		case TemplateDefOp:
			if err := checkTemplate(o.TemplateID); err != nil {
				return err
			}
		case InstantiateOp:
			if err := checkTemplate(o.TemplateID); err != nil {
				return err
			}
			if o.ParentID != RootNode {
				if err := checkInstance(o.ParentID); err != nil {
					return err
				}
			}
			if err := checkNotRemoved(o.InstanceID); err != nil {
				return err
			}
			define(o.InstanceID)
		case PatchTextOp:
			if err := checkInstance(o.InstanceID); err != nil {
				return err
			}
			if err := checkString(o.StringID); err != nil {
				return err
			}
		case PatchAttrOp:
			if err := checkInstance(o.InstanceID); err != nil {
				return err
			}
			if err := checkString(o.NameID); err != nil {
				return err
			}
			if err := checkString(o.ValueID); err != nil {
				return err
			}
		case PatchClassToggleOp:
			if err := checkInstance(o.InstanceID); err != nil {
				return err
			}
			if err := checkString(o.ClassID); err != nil {
				return err
			}
		case AttachEventOp:
			if err := checkInstance(o.InstanceID); err != nil {
				return err
			}
			if err := checkString(o.EventTypeID); err != nil {
				return err
			}
		case RemoveNodeOp:
			if err := checkInstance(o.InstanceID); err != nil {
				return err
			}
			// Inside a batch, removal is deferred to commit (§4.5): later
			// opcodes in the same batch may still reference the instance,
			// so validation does not retract it from scope or tombstone it
			// here; both happen when the batch actually commits.
			if len(batchStack) == 0 {
				delete(defined, o.InstanceID)
				removed[o.InstanceID] = struct{}{}
			} else {
				b := batchStack[len(batchStack)-1]
				if batchRemoved[b] == nil {
					batchRemoved[b] = map[uint32]struct{}{}
				}
				batchRemoved[b][o.InstanceID] = struct{}{}
			}
		case BatchStartOp:
			if len(batchStack) > 0 {
				return fmt.Errorf("%w: nested batch %d", ErrInvalidInput, o.BatchID)
			}
			batchStack = append(batchStack, o.BatchID)
		case BatchCommitOp:
			if len(batchStack) == 0 || batchStack[len(batchStack)-1] != o.BatchID {
				return fmt.Errorf("%w: unbalanced batch %d", ErrInvalidInput, o.BatchID)
			}
			b := batchStack[len(batchStack)-1]
			for id := range batchDefined[b] {
				defined[id] = struct{}{}
			}
			delete(batchDefined, b)
			for id := range batchRemoved[b] {
				delete(defined, id)
				removed[id] = struct{}{}
			}
			delete(batchRemoved, b)
			batchStack = batchStack[:len(batchStack)-1]
		case SetPropertyOp:
			if err := checkInstance(o.InstanceID); err != nil {
				return err
			}
			if err := checkString(o.PropNameID); err != nil {
				return err
			}
			if o.Value.Kind == PropertyString {
				if err := checkString(o.Value.StringID); err != nil {
					return err
				}
			}
		case AppendChildOp:
			if o.ParentID != RootNode {
				if err := checkInstance(o.ParentID); err != nil {
					return err
				}
			}
			if err := checkInstance(o.ChildID); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: unknown operation type %T", ErrInvalidInput, op)
		}
	}
	if len(batchStack) != 0 {
		return fmt.Errorf("%w: unclosed batch %d", ErrInvalidInput, batchStack[len(batchStack)-1])
	}
	return nil
}

func (e *Encoder) encodeTemplates() []byte {
	var out []byte
	for i := 0; i < e.Templates.Len(); i++ {
		t, _ := e.Templates.Lookup(uint16(i))
		head := make([]byte, 2+4+2)
		putUint16(head, t.ID)
		putUint32(head[2:], t.HTMLStringID)
		putUint16(head[6:], uint16(len(t.Slots)))
		out = append(out, head...)
		for _, s := range t.Slots {
			rec := make([]byte, 2+1+4+1+len(s.Path))
			putUint16(rec, s.SlotID)
			rec[2] = byte(s.Kind)
			putUint32(rec[3:], s.NameStringID)
			rec[7] = byte(len(s.Path))
			copy(rec[8:], s.Path)
			out = append(out, rec...)
		}
	}
	return out
}

func (e *Encoder) encodeOps() ([]byte, error) {
	var out []byte
	for _, op := range e.ops {
		out = append(out, byte(op.Tag()))
		switch o := op.(type) {
		case TemplateDefOp:
			buf := make([]byte, 2)
			putUint16(buf, o.TemplateID)
			out = append(out, buf...)
		case InstantiateOp:
			buf := make([]byte, 4+2+4)
			putUint32(buf, o.InstanceID)
			putUint16(buf[4:], o.TemplateID)
			putUint32(buf[6:], o.ParentID)
			out = append(out, buf...)
		case PatchTextOp:
			buf := make([]byte, 4+2+4)
			putUint32(buf, o.InstanceID)
			putUint16(buf[4:], o.SlotID)
			putUint32(buf[6:], o.StringID)
			out = append(out, buf...)
		case PatchAttrOp:
			buf := make([]byte, 4+2+4+4)
			putUint32(buf, o.InstanceID)
			putUint16(buf[4:], o.SlotID)
			putUint32(buf[6:], o.NameID)
			putUint32(buf[10:], o.ValueID)
			out = append(out, buf...)
		case PatchClassToggleOp:
			buf := make([]byte, 4+4+1)
			putUint32(buf, o.InstanceID)
			putUint32(buf[4:], o.ClassID)
			if o.On {
				buf[8] = 1
			}
			out = append(out, buf...)
		case AttachEventOp:
			buf := make([]byte, 4+4+4)
			putUint32(buf, o.InstanceID)
			putUint32(buf[4:], o.EventTypeID)
			putUint32(buf[8:], o.HandlerID)
			out = append(out, buf...)
		case RemoveNodeOp:
			buf := make([]byte, 4)
			putUint32(buf, o.InstanceID)
			out = append(out, buf...)
		case BatchStartOp:
			buf := make([]byte, 4)
			putUint32(buf, o.BatchID)
			out = append(out, buf...)
		case BatchCommitOp:
			buf := make([]byte, 4)
			putUint32(buf, o.BatchID)
			out = append(out, buf...)
		case SetPropertyOp:
			buf := make([]byte, 4+4+propertyValueSize(o.Value))
			putUint32(buf, o.InstanceID)
			putUint32(buf[4:], o.PropNameID)
			encodePropertyValue(buf[8:], o.Value)
			out = append(out, buf...)
		case AppendChildOp:
			buf := make([]byte, 4+4)
			putUint32(buf, o.ParentID)
			putUint32(buf[4:], o.ChildID)
			out = append(out, buf...)
		default:
			return nil, fmt.Errorf("%w: unknown operation type %T", ErrInvalidInput, op)
		}
	}
	return out, nil
}

func propertyValueSize(v PropertyValue) int {
	switch v.Kind {
	case PropertyString:
		return 1 + 4
	case PropertyNumber:
		return 1 + 8
	case PropertyBoolean:
		return 1 + 1
	default: // PropertyNull
		return 1
	}
}

func encodePropertyValue(dst []byte, v PropertyValue) {
	dst[0] = byte(v.Kind)
	switch v.Kind {
	case PropertyString:
		putUint32(dst[1:], v.StringID)
	case PropertyNumber:
		putFloat64(dst[1:], v.Number)
	case PropertyBoolean:
		if v.Bool {
			dst[1] = 1
		}
	}
}

func putFloat64(dst []byte, f float64) {
	putUint64(dst, math.Float64bits(f))
}

func putUint64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}
