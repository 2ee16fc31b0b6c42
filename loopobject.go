package plum

import "github.com/google/uuid"

// Ticking is implemented by anything an EventLoop can tick: on insertion it
// registers itself for ticking, and on removal it deregisters. Grounded on
// plumpy's Ticking mixin.
type Ticking interface {
	Tick()
}

// LoopObject is a unit that can live inside exactly one EventLoop at a
// time. Embed it to get UUID identity and loop bookkeeping; ports of
// plumpy's LoopObject, which used uuid1() and a single backreference.
type LoopObject struct {
	id   uuid.UUID
	loop *EventLoop
}

// NewLoopObject returns a LoopObject with a fresh UUID, not yet inserted
// into any loop.
func NewLoopObject() LoopObject {
	return LoopObject{id: uuid.New()}
}

// UUID returns this object's stable identity.
func (o *LoopObject) UUID() uuid.UUID { return o.id }

// Loop returns the EventLoop this object is currently inserted into, or nil.
func (o *LoopObject) Loop() *EventLoop { return o.loop }

// onLoopInserted records loop as the owner. Returns ErrAlreadyInLoop if one
// is already set.
func (o *LoopObject) onLoopInserted(loop *EventLoop) error {
	if o.loop != nil {
		return ErrAlreadyInLoop
	}
	o.loop = loop
	return nil
}

// onLoopRemoved clears the owning loop. Returns ErrNotInLoop if none is set.
func (o *LoopObject) onLoopRemoved() error {
	if o.loop == nil {
		return ErrNotInLoop
	}
	o.loop = nil
	return nil
}
