package htip

// Operation is the closed, tagged-union set of the eleven HTIP opcodes.
// Do not add an implementation of this interface outside this package —
// the dispatcher's type switch over the eleven op structs has no default
// case, so a twelfth implementation would silently be ignored rather than
// rejected.
type Operation interface {
	Tag() Tag
}

// TemplateDefOp registers a template with the host. Payload carries only
// the dense template id; the shape itself was already recorded in the
// template table at encode time.
type TemplateDefOp struct {
	TemplateID uint16
}

func (TemplateDefOp) Tag() Tag { return TagTemplateDef }

// InstantiateOp clones TemplateID and attaches the result under ParentID,
// registering the new node under InstanceID.
type InstantiateOp struct {
	InstanceID uint32
	TemplateID uint16
	ParentID   uint32
}

func (InstantiateOp) Tag() Tag { return TagInstantiate }

// PatchTextOp sets the text content at SlotID within InstanceID.
type PatchTextOp struct {
	InstanceID uint32
	SlotID     uint16
	StringID   uint32
}

func (PatchTextOp) Tag() Tag { return TagPatchText }

// PatchAttrOp sets an attribute at SlotID within InstanceID.
type PatchAttrOp struct {
	InstanceID uint32
	SlotID     uint16
	NameID     uint32
	ValueID    uint32
}

func (PatchAttrOp) Tag() Tag { return TagPatchAttr }

// PatchClassToggleOp turns a CSS class on or off.
type PatchClassToggleOp struct {
	InstanceID uint32
	ClassID    uint32
	On         bool
}

func (PatchClassToggleOp) Tag() Tag { return TagPatchClassToggle }

// AttachEventOp binds a host-managed handler id to an event type. The
// codec never runs user code; HandlerID is opaque to it.
type AttachEventOp struct {
	InstanceID  uint32
	EventTypeID uint32
	HandlerID   uint32
}

func (AttachEventOp) Tag() Tag { return TagAttachEvent }

// RemoveNodeOp removes and tombstones InstanceID. Re-use of the id within
// the same stream is forbidden (§9 open question, resolved: disallowed).
type RemoveNodeOp struct {
	InstanceID uint32
}

func (RemoveNodeOp) Tag() Tag { return TagRemoveNode }

// BatchStartOp opens a transactional span. Batches may not nest or
// overlap.
type BatchStartOp struct {
	BatchID uint32
}

func (BatchStartOp) Tag() Tag { return TagBatchStart }

// BatchCommitOp closes the span opened by the BatchStartOp with the same
// BatchID.
type BatchCommitOp struct {
	BatchID uint32
}

func (BatchCommitOp) Tag() Tag { return TagBatchCommit }

// SetPropertyOp sets a JS-visible property (e.g. input.value, checked).
type SetPropertyOp struct {
	InstanceID uint32
	PropNameID uint32
	Value      PropertyValue
}

func (SetPropertyOp) Tag() Tag { return TagSetProperty }

// AppendChildOp reparents an existing instance under ParentID.
type AppendChildOp struct {
	ParentID uint32
	ChildID  uint32
}

func (AppendChildOp) Tag() Tag { return TagAppendChild }
