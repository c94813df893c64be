package htip

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Handle is an opaque node handle supplied by the host capability. The
// codec never inspects it; it only threads handles between Instantiate
// and later opcodes that reference the same instance.
type Handle interface{}

// HostCapability is the narrow interface the dispatcher uses to effect
// changes on the host's UI tree (§6). Implementations own the actual node
// registry; the codec only calls these primitives in the order the
// opcode stream specifies.
type HostCapability interface {
	RegisterTemplate(templateID uint16, html []byte, slots []SlotDef) error
	CloneTemplate(templateID uint16, parent Handle) (Handle, error)
	SetText(node Handle, path []uint8, text []byte) error
	SetAttr(node Handle, path []uint8, name, value []byte) error
	SetProperty(node Handle, propName []byte, value PropertyValue) error
	ToggleClass(node Handle, class []byte, on bool) error
	AttachEvent(node Handle, eventName []byte, handlerID uint32) error
	AppendChild(parent, child Handle) error
	Remove(node Handle) error
	BeginBatch() error
	CommitBatch() error
	AbortBatch() error
}

// Dispatcher translates a DecodedStream into HostCapability calls,
// maintaining the instance_table and batch_scratch described in §4.7.
// A Dispatcher is not safe for concurrent use; each decoded stream is
// drained on the caller's goroutine to completion (§5).
type Dispatcher struct {
	cap     HostCapability
	table   map[uint32]Handle
	removed map[uint32]struct{}
	Logger  *logrus.Logger
}

// NewDispatcher returns a Dispatcher whose instance_table is seeded with
// RootInstance bound to root, the host-supplied handle for the pre-
// existing mount point.
func NewDispatcher(cap HostCapability, root Handle) *Dispatcher {
	return &Dispatcher{
		cap:     cap,
		table:   map[uint32]Handle{RootInstance: root},
		removed: map[uint32]struct{}{},
	}
}

// queuedCall is one buffered host call inside an open batch, applied in
// textual order on commit.
type queuedCall struct {
	run func() error
}

// Dispatch drains every operation in ds against the dispatcher's host
// capability, in textual order (§5 "Ordering guarantees"). Decode errors
// never reach here — ds is already structurally valid — but a host call
// can still fail at dispatch time (e.g. the host rejects a template).
//
// Outside a batch, an error aborts the stream immediately: already-
// dispatched opcodes are not rolled back, and the caller sees the error
// (§7 propagation policy). Inside a batch, host calls are queued and run
// in textual order at BatchCommit. An error inside a batch discards it:
// queued calls not yet run are skipped and AbortBatch is called, so the
// host can revert any calls of the batch that already ran. A failure of
// CommitBatch itself is returned without calling AbortBatch.
func (d *Dispatcher) Dispatch(ds *DecodedStream) (err error) {
	log := loggerOrDefault(d.Logger)

	var inBatch bool
	var batchID uint32
	var queue []queuedCall
	var batchRemoved map[uint32]struct{}
	var aborted bool

	abort := func(cause error) error {
		aborted = true
		if err := d.cap.AbortBatch(); err != nil {
			log.WithError(err).Warn("htip: host failed to abort batch")
		}
		return fmt.Errorf("htip: batch %d aborted: %w", batchID, cause)
	}
	// Lookup errors inside an open batch return directly below; abort the
	// batch on the host for those as well.
	defer func() {
		if err != nil && inBatch && !aborted {
			err = abort(err)
		}
	}()

	run := func(call func() error) error {
		if inBatch {
			queue = append(queue, queuedCall{run: call})
			return nil
		}
		return call()
	}

	for _, op := range ds.Operations {
		switch o := op.(type) {
		case TemplateDefOp:
			t, ok := ds.Templates.Lookup(o.TemplateID)
			if !ok {
				return fmt.Errorf("htip: %w: template %d", ErrTemplateNotFound, o.TemplateID)
			}
			html, err := ds.Strings.Resolve(t.HTMLStringID)
			if err != nil {
				return err
			}
			if err := run(func() error { return d.cap.RegisterTemplate(t.ID, html, t.Slots) }); err != nil {
				return abort(err)
			}

		case InstantiateOp:
			// Defense in depth: Decode already rejects a stream that
			// re-Instantiates a tombstoned id (§9 open question, resolved:
			// disallowed), but the dispatcher does not trust that every
			// DecodedStream it is handed came from this package's Decode.
			if _, ok := d.removed[o.InstanceID]; ok {
				return fmt.Errorf("htip: instance id %d reused after RemoveNode", o.InstanceID)
			}
			parent, err := d.resolve(o.ParentID)
			if err != nil {
				return err
			}
			var handle Handle
			if err := run(func() error {
				h, err := d.cap.CloneTemplate(o.TemplateID, parent)
				if err != nil {
					return err
				}
				handle = h
				return nil
			}); err != nil {
				return abort(err)
			}
			// Bound immediately, even inside a batch, so later opcodes in the
			// same batch can resolve it while the CloneTemplate call itself is
			// still queued (§4.5 "defining opcode precedes any referencing
			// opcode").
			d.table[o.InstanceID] = handle

		case PatchTextOp:
			node, err := d.resolve(o.InstanceID)
			if err != nil {
				return err
			}
			text, err := ds.Strings.Resolve(o.StringID)
			if err != nil {
				return err
			}
			path, err := slotPath(ds, o.InstanceID, o.SlotID)
			if err != nil {
				return err
			}
			if err := run(func() error { return d.cap.SetText(node, path, text) }); err != nil {
				return abort(err)
			}

		case PatchAttrOp:
			node, err := d.resolve(o.InstanceID)
			if err != nil {
				return err
			}
			name, err := ds.Strings.Resolve(o.NameID)
			if err != nil {
				return err
			}
			value, err := ds.Strings.Resolve(o.ValueID)
			if err != nil {
				return err
			}
			path, err := slotPath(ds, o.InstanceID, o.SlotID)
			if err != nil {
				return err
			}
			if err := run(func() error { return d.cap.SetAttr(node, path, name, value) }); err != nil {
				return abort(err)
			}

		case PatchClassToggleOp:
			node, err := d.resolve(o.InstanceID)
			if err != nil {
				return err
			}
			class, err := ds.Strings.Resolve(o.ClassID)
			if err != nil {
				return err
			}
			if err := run(func() error { return d.cap.ToggleClass(node, class, o.On) }); err != nil {
				return abort(err)
			}

		case AttachEventOp:
			node, err := d.resolve(o.InstanceID)
			if err != nil {
				return err
			}
			eventName, err := ds.Strings.Resolve(o.EventTypeID)
			if err != nil {
				return err
			}
			if err := run(func() error { return d.cap.AttachEvent(node, eventName, o.HandlerID) }); err != nil {
				return abort(err)
			}

		case SetPropertyOp:
			node, err := d.resolve(o.InstanceID)
			if err != nil {
				return err
			}
			propName, err := ds.Strings.Resolve(o.PropNameID)
			if err != nil {
				return err
			}
			value := o.Value
			if err := run(func() error { return d.cap.SetProperty(node, propName, value) }); err != nil {
				return abort(err)
			}

		case AppendChildOp:
			parent, err := d.resolve(o.ParentID)
			if err != nil {
				return err
			}
			child, err := d.resolve(o.ChildID)
			if err != nil {
				return err
			}
			if err := run(func() error { return d.cap.AppendChild(parent, child) }); err != nil {
				return abort(err)
			}

		case RemoveNodeOp:
			node, err := d.resolve(o.InstanceID)
			if err != nil {
				return err
			}
			id := o.InstanceID
			if err := run(func() error { return d.cap.Remove(node) }); err != nil {
				return abort(err)
			}
			if inBatch {
				if batchRemoved == nil {
					batchRemoved = map[uint32]struct{}{}
				}
				batchRemoved[id] = struct{}{}
			} else {
				delete(d.table, id)
				d.removed[id] = struct{}{}
			}

		case BatchStartOp:
			inBatch = true
			batchID = o.BatchID
			queue = nil
			batchRemoved = nil
			if err := d.cap.BeginBatch(); err != nil {
				return fmt.Errorf("htip: begin batch %d: %w", o.BatchID, err)
			}

		case BatchCommitOp:
			for _, q := range queue {
				if err := q.run(); err != nil {
					abortErr := abort(err)
					inBatch = false
					return abortErr
				}
			}
			if err := d.cap.CommitBatch(); err != nil {
				inBatch = false
				return fmt.Errorf("htip: commit batch %d: %w", o.BatchID, err)
			}
			for id := range batchRemoved {
				delete(d.table, id)
				d.removed[id] = struct{}{}
			}
			inBatch = false
			queue = nil
			batchRemoved = nil
		}
	}
	return nil
}

func (d *Dispatcher) resolve(id uint32) (Handle, error) {
	h, ok := d.table[id]
	if !ok {
		return nil, fmt.Errorf("htip: %w: instance %d", ErrNodeNotFound, id)
	}
	return h, nil
}

// slotPath looks up the tree-walk path for slotID within the template
// that instanceID was instantiated from. It is resolved lazily from the
// opcode stream's own InstantiateOp rather than tracked per-instance,
// keeping the dispatcher's instance_table a pure id-to-handle map.
func slotPath(ds *DecodedStream, instanceID uint32, slotID uint16) ([]uint8, error) {
	var templateID uint16
	found := false
	for _, op := range ds.Operations {
		if inst, ok := op.(InstantiateOp); ok && inst.InstanceID == instanceID {
			templateID = inst.TemplateID
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("htip: %w: instance %d", ErrNodeNotFound, instanceID)
	}
	t, ok := ds.Templates.Lookup(templateID)
	if !ok {
		return nil, fmt.Errorf("htip: %w: template %d", ErrTemplateNotFound, templateID)
	}
	for _, s := range t.Slots {
		if s.SlotID == slotID {
			return s.Path, nil
		}
	}
	return nil, fmt.Errorf("htip: %w: slot %d in template %d", ErrInvalidOpcode, slotID, templateID)
}
