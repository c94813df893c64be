package htip

import (
	"crypto/ed25519"
	"fmt"

	"github.com/sirupsen/logrus"
)

// DecodedStream is the validated, mostly-borrowed view of an HTIP stream
// produced by Decode. Strings and template HTML fragments are slices into
// the original stream buffer and remain valid only as long as that buffer
// is not reused or mutated (§4.5).
type DecodedStream struct {
	Header     Header
	Strings    StringTable
	Templates  Dictionary
	Operations []Operation
}

// DecodeOptions configures a single Decode call, mirroring the teacher's
// Options{Fast, SectionEntropy, Logger} pattern: zero value is valid and
// falls back to defaults.
type DecodeOptions struct {
	Limits Limits
	Logger *logrus.Logger
}

// Decode runs the four-pass decode described in §4.5: envelope, tables,
// opcode scan, hand-off. Signature verification happens first (§4.6); on
// failure it returns ErrInvalidSignature and performs no further parsing.
func Decode(stream []byte, pub ed25519.PublicKey, opts *DecodeOptions) (*DecodedStream, error) {
	if opts == nil {
		opts = &DecodeOptions{}
	}
	limits := opts.Limits
	if limits == (Limits{}) {
		limits = DefaultLimits()
	}
	log := loggerOrDefault(opts.Logger)

	if len(stream) > limits.MaxStreamSize {
		return nil, ErrResourceLimitExceeded
	}

	// Pass 0 (signature): detach and verify before any structural parse.
	sig, payload, err := Detach(stream)
	if err != nil {
		return nil, err
	}
	if err := Verify(pub, payload, sig); err != nil {
		log.WithError(err).Warn("htip: signature verification failed")
		return nil, ErrInvalidSignature
	}

	// Pass 1: envelope.
	if len(payload) < HeaderSize {
		return nil, ErrBufferTooSmall
	}
	header := parseHeader(payload)
	if header.Magic != Magic {
		return nil, ErrInvalidMagic
	}
	if header.Version != Version {
		return nil, ErrUnsupportedVersion
	}
	body := payload[HeaderSize:]
	if uint64(header.PayloadSize) != uint64(len(body)) {
		return nil, ErrBufferTooSmall
	}

	// Pass 2: tables.
	strTable, consumed, err := parseStringTable(body, header.StringCount, limits)
	if err != nil {
		return nil, err
	}
	rest := body[consumed:]
	dict, consumed2, err := parseTemplates(rest, header.TemplateCount, strTable, limits)
	if err != nil {
		return nil, err
	}
	opStream := rest[consumed2:]

	// Pass 3: opcode scan.
	ops, err := parseOperations(opStream, header.OpcodeCount, dict, strTable, limits)
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"templates": header.TemplateCount,
		"strings":   header.StringCount,
		"opcodes":   header.OpcodeCount,
	}).Debug("htip: decoded stream")

	// Pass 4: hand-off.
	return &DecodedStream{
		Header:     header,
		Strings:    strTable,
		Templates:  dict,
		Operations: ops,
	}, nil
}

func parseTemplates(data []byte, count uint16, strTable StringTable, limits Limits) (Dictionary, uint32, error) {
	if int(count) > limits.MaxTemplates {
		return Dictionary{}, 0, ErrResourceLimitExceeded
	}
	var dict Dictionary
	var pos uint32
	seenIDs := make(map[uint16]struct{}, count)
	for i := uint16(0); i < count; i++ {
		head, err := sliceAt(data, pos, 8)
		if err != nil {
			return Dictionary{}, 0, ErrBufferTooSmall
		}
		id := leUint16(head[0:2])
		htmlID := leUint32(head[2:6])
		slotCount := leUint16(head[6:8])
		pos += 8

		if id != i {
			return Dictionary{}, 0, fmt.Errorf("%w: template id %d not dense", ErrInvalidOpcode, id)
		}
		if _, dup := seenIDs[id]; dup {
			return Dictionary{}, 0, fmt.Errorf("%w: duplicate template id %d", ErrInvalidOpcode, id)
		}
		seenIDs[id] = struct{}{}

		if _, err := strTable.Resolve(htmlID); err != nil {
			return Dictionary{}, 0, ErrStringOutOfBounds
		}

		slots := make([]SlotDef, 0, slotCount)
		slotIDs := make(map[uint16]struct{}, slotCount)
		for s := uint16(0); s < slotCount; s++ {
			rec, err := sliceAt(data, pos, 8)
			if err != nil {
				return Dictionary{}, 0, ErrBufferTooSmall
			}
			slotID := leUint16(rec[0:2])
			kind := SlotKind(rec[2])
			nameID := leUint32(rec[3:7])
			pathLen := rec[7]
			pos += 8
			if int(pathLen) > limits.MaxSlotDepth {
				return Dictionary{}, 0, ErrResourceLimitExceeded
			}
			path, err := sliceAt(data, pos, uint32(pathLen))
			if err != nil {
				return Dictionary{}, 0, ErrBufferTooSmall
			}
			pos += uint32(pathLen)

			if kind == SlotAttribute || kind == SlotProperty || kind == SlotEvent {
				if _, err := strTable.Resolve(nameID); err != nil {
					return Dictionary{}, 0, ErrStringOutOfBounds
				}
			}
			if _, dup := slotIDs[slotID]; dup {
				return Dictionary{}, 0, fmt.Errorf("%w: duplicate slot id %d in template %d", ErrInvalidOpcode, slotID, id)
			}
			slotIDs[slotID] = struct{}{}

			pathCopy := make([]uint8, len(path))
			copy(pathCopy, path)
			slots = append(slots, SlotDef{SlotID: slotID, Kind: kind, NameStringID: nameID, Path: pathCopy})
		}

		html, _ := strTable.Resolve(htmlID)
		_ = checkHTML(html) // advisory only; corrupt-looking HTML does not fail decode

		dict.templates = append(dict.templates, Template{ID: id, HTMLStringID: htmlID, Slots: slots})
	}
	return dict, pos, nil
}

func parseOperations(data []byte, count uint32, dict Dictionary, strTable StringTable, limits Limits) ([]Operation, error) {
	// Every opcode takes at least one byte, so the stream length bounds the
	// preallocation; a forged opcode_count cannot size it on its own.
	capHint := count
	if capHint > uint32(len(data)) {
		capHint = uint32(len(data))
	}
	ops := make([]Operation, 0, capHint)
	defined := map[uint32]struct{}{RootInstance: {}}
	removed := map[uint32]struct{}{}
	var batchID uint32
	var batchDepth int
	var batchDefined map[uint32]struct{}
	var batchRemoved map[uint32]struct{}
	var batchSize int

	checkString := func(id uint32) error {
		if _, err := strTable.Resolve(id); err != nil {
			return err
		}
		return nil
	}
	checkInstance := func(id uint32) error {
		if _, ok := defined[id]; ok {
			return nil
		}
		if batchDepth > 0 {
			if _, ok := batchDefined[id]; ok {
				return nil
			}
		}
		return ErrNodeNotFound
	}
	// checkNotRemoved rejects reuse of an instance id that a prior
	// RemoveNode has permanently tombstoned (§9 open question, resolved:
	// disallowed). A removal inside a batch only tombstones its id once
	// that batch commits, matching RemoveNode's own deferred-removal rule.
	checkNotRemoved := func(id uint32) error {
		if _, ok := removed[id]; ok {
			return fmt.Errorf("%w: instance id %d reused after RemoveNode", ErrInvalidOpcode, id)
		}
		return nil
	}
	define := func(id uint32) {
		if batchDepth > 0 {
			batchDefined[id] = struct{}{}
			return
		}
		defined[id] = struct{}{}
	}

	var pos uint32
	var n uint32
	for pos < uint32(len(data)) {
		tagByte, err := sliceAt(data, pos, 1)
		if err != nil {
			return nil, ErrBufferTooSmall
		}
		tag := Tag(tagByte[0])
		pos++
		if !validTag(tag) {
			return nil, ErrInvalidOpcode
		}
		if batchDepth > 0 {
			batchSize++
			if batchSize > limits.MaxBatchSize {
				return nil, ErrResourceLimitExceeded
			}
		}

		switch tag {
		case TagTemplateDef:
			b, err := sliceAt(data, pos, 2)
			if err != nil {
				return nil, ErrBufferTooSmall
			}
			id := leUint16(b)
			pos += 2
			if _, ok := dict.Lookup(id); !ok {
				return nil, ErrTemplateNotFound
			}
			ops = append(ops, TemplateDefOp{TemplateID: id})

		case TagInstantiate:
			b, err := sliceAt(data, pos, 10)
			if err != nil {
				return nil, ErrBufferTooSmall
			}
			instanceID := leUint32(b[0:4])
			templateID := leUint16(b[4:6])
			parentID := leUint32(b[6:10])
			pos += 10
			if _, ok := dict.Lookup(templateID); !ok {
				return nil, ErrTemplateNotFound
			}
			if parentID != RootNode {
				if err := checkInstance(parentID); err != nil {
					return nil, err
				}
			}
			if err := checkNotRemoved(instanceID); err != nil {
				return nil, err
			}
			if len(defined)+len(batchDefined) >= limits.MaxInstances {
				return nil, ErrResourceLimitExceeded
			}
			define(instanceID)
			ops = append(ops, InstantiateOp{InstanceID: instanceID, TemplateID: templateID, ParentID: parentID})

		case TagPatchText:
			b, err := sliceAt(data, pos, 10)
			if err != nil {
				return nil, ErrBufferTooSmall
			}
			instanceID := leUint32(b[0:4])
			slotID := leUint16(b[4:6])
			stringID := leUint32(b[6:10])
			pos += 10
			if err := checkInstance(instanceID); err != nil {
				return nil, err
			}
			if err := checkString(stringID); err != nil {
				return nil, err
			}
			ops = append(ops, PatchTextOp{InstanceID: instanceID, SlotID: slotID, StringID: stringID})

		case TagPatchAttr:
			b, err := sliceAt(data, pos, 14)
			if err != nil {
				return nil, ErrBufferTooSmall
			}
			instanceID := leUint32(b[0:4])
			slotID := leUint16(b[4:6])
			nameID := leUint32(b[6:10])
			valueID := leUint32(b[10:14])
			pos += 14
			if err := checkInstance(instanceID); err != nil {
				return nil, err
			}
			if err := checkString(nameID); err != nil {
				return nil, err
			}
			if err := checkString(valueID); err != nil {
				return nil, err
			}
			ops = append(ops, PatchAttrOp{InstanceID: instanceID, SlotID: slotID, NameID: nameID, ValueID: valueID})

		case TagPatchClassToggle:
			b, err := sliceAt(data, pos, 9)
			if err != nil {
				return nil, ErrBufferTooSmall
			}
			instanceID := leUint32(b[0:4])
			classID := leUint32(b[4:8])
			on := b[8] != 0
			pos += 9
			if err := checkInstance(instanceID); err != nil {
				return nil, err
			}
			if err := checkString(classID); err != nil {
				return nil, err
			}
			ops = append(ops, PatchClassToggleOp{InstanceID: instanceID, ClassID: classID, On: on})

		case TagAttachEvent:
			b, err := sliceAt(data, pos, 12)
			if err != nil {
				return nil, ErrBufferTooSmall
			}
			instanceID := leUint32(b[0:4])
			eventTypeID := leUint32(b[4:8])
			handlerID := leUint32(b[8:12])
			pos += 12
			if err := checkInstance(instanceID); err != nil {
				return nil, err
			}
			if err := checkString(eventTypeID); err != nil {
				return nil, err
			}
			ops = append(ops, AttachEventOp{InstanceID: instanceID, EventTypeID: eventTypeID, HandlerID: handlerID})

		case TagRemoveNode:
			b, err := sliceAt(data, pos, 4)
			if err != nil {
				return nil, ErrBufferTooSmall
			}
			instanceID := leUint32(b)
			pos += 4
			if err := checkInstance(instanceID); err != nil {
				return nil, err
			}
			// Tombstone: inside a batch the host may defer the removal to
			// commit, so later opcodes in the same batch may still
			// reference the instance (§4.5 edge case). Outside a batch it
			// is retracted and permanently tombstoned immediately; re-use
			// of the id is forbidden for the rest of the stream either way.
			if batchDepth == 0 {
				delete(defined, instanceID)
				removed[instanceID] = struct{}{}
			} else {
				if batchRemoved == nil {
					batchRemoved = map[uint32]struct{}{}
				}
				batchRemoved[instanceID] = struct{}{}
			}
			ops = append(ops, RemoveNodeOp{InstanceID: instanceID})

		case TagBatchStart:
			b, err := sliceAt(data, pos, 4)
			if err != nil {
				return nil, ErrBufferTooSmall
			}
			id := leUint32(b)
			pos += 4
			if batchDepth > 0 {
				return nil, ErrUnbalancedBatch
			}
			batchDepth = 1
			batchID = id
			batchDefined = map[uint32]struct{}{}
			batchRemoved = map[uint32]struct{}{}
			batchSize = 1
			ops = append(ops, BatchStartOp{BatchID: id})

		case TagBatchCommit:
			b, err := sliceAt(data, pos, 4)
			if err != nil {
				return nil, ErrBufferTooSmall
			}
			id := leUint32(b)
			pos += 4
			if batchDepth == 0 || id != batchID {
				return nil, ErrUnbalancedBatch
			}
			for iid := range batchDefined {
				defined[iid] = struct{}{}
			}
			batchDefined = nil
			for iid := range batchRemoved {
				delete(defined, iid)
				removed[iid] = struct{}{}
			}
			batchRemoved = nil
			batchDepth = 0
			batchSize = 0
			ops = append(ops, BatchCommitOp{BatchID: id})

		case TagSetProperty:
			b, err := sliceAt(data, pos, 9)
			if err != nil {
				return nil, ErrBufferTooSmall
			}
			instanceID := leUint32(b[0:4])
			propNameID := leUint32(b[4:8])
			kind := PropertyKind(b[8])
			pos += 9
			if err := checkInstance(instanceID); err != nil {
				return nil, err
			}
			if err := checkString(propNameID); err != nil {
				return nil, err
			}
			value, size, err := parsePropertyValue(data, pos, kind)
			if err != nil {
				return nil, err
			}
			pos += size
			if value.Kind == PropertyString {
				if err := checkString(value.StringID); err != nil {
					return nil, err
				}
			}
			ops = append(ops, SetPropertyOp{InstanceID: instanceID, PropNameID: propNameID, Value: value})

		case TagAppendChild:
			b, err := sliceAt(data, pos, 8)
			if err != nil {
				return nil, ErrBufferTooSmall
			}
			parentID := leUint32(b[0:4])
			childID := leUint32(b[4:8])
			pos += 8
			if parentID != RootNode {
				if err := checkInstance(parentID); err != nil {
					return nil, err
				}
			}
			if err := checkInstance(childID); err != nil {
				return nil, err
			}
			ops = append(ops, AppendChildOp{ParentID: parentID, ChildID: childID})
		}
		n++
	}
	if batchDepth != 0 {
		return nil, ErrUnbalancedBatch
	}
	if n != count {
		return nil, fmt.Errorf("%w: opcode_count mismatch: header says %d, stream has %d", ErrInvalidOpcode, count, n)
	}
	return ops, nil
}

// parsePropertyValue reads a PropertyValue already committed to `kind`
// (the tag byte preceding it was already consumed by the caller as part
// of SetProperty's fixed payload) and returns how many additional bytes
// it occupied.
func parsePropertyValue(data []byte, pos uint32, kind PropertyKind) (PropertyValue, uint32, error) {
	switch kind {
	case PropertyString:
		b, err := sliceAt(data, pos, 4)
		if err != nil {
			return PropertyValue{}, 0, ErrBufferTooSmall
		}
		return PropertyValue{Kind: PropertyString, StringID: leUint32(b)}, 4, nil
	case PropertyNumber:
		f, err := readFloat64LE(data, pos)
		if err != nil {
			return PropertyValue{}, 0, ErrBufferTooSmall
		}
		return PropertyValue{Kind: PropertyNumber, Number: f}, 8, nil
	case PropertyBoolean:
		b, err := sliceAt(data, pos, 1)
		if err != nil {
			return PropertyValue{}, 0, ErrBufferTooSmall
		}
		return PropertyValue{Kind: PropertyBoolean, Bool: b[0] != 0}, 1, nil
	case PropertyNull:
		return PropertyValue{Kind: PropertyNull}, 0, nil
	default:
		return PropertyValue{}, 0, ErrInvalidOpcode
	}
}
