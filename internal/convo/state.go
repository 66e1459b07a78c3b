package convo

import (
	"fmt"
	"slices"
)

// State is the lifecycle state of a conversation. Hidden is a per-viewer state
// derived from that viewer's soft-delete flag.
type State string

const (
	New    State = "NEW"
	Active State = "ACTIVE"
	Hidden State = "HIDDEN"
)

// validTransitions defines allowed lifecycle transitions. Activation is one-way.
var validTransitions = map[State][]State{
	New:    {Active},
	Active: {},
}

// Transition checks a lifecycle transition.
func Transition(from, to State) error {
	if !slices.Contains(validTransitions[from], to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// State returns the shared lifecycle state.
func (c *Conversation) State() State {
	if c.Activated {
		return Active
	}
	return New
}

// StateFor returns the state as seen by viewerID.
func (c *Conversation) StateFor(viewerID string) State {
	if c.DeletedBy(viewerID) {
		return Hidden
	}
	return c.State()
}

// SendEffect lists the conversation side effects of a successful send.
type SendEffect struct {
	Activate     bool
	ReviveSender bool
}

// OnSend decides the side effects of senderID sending into the conversation.
// Only the listing owner's reply activates, and only once. A sender who had
// hidden the conversation gets it back; the other side's flag is untouched.
func (c *Conversation) OnSend(senderID, ownerID string, typ MessageType) SendEffect {
	var eff SendEffect
	if typ == TypeText && senderID == ownerID && Transition(c.State(), Active) == nil {
		eff.Activate = true
	}
	eff.ReviveSender = c.DeletedBy(senderID)
	return eff
}

// Apply applies eff to the in-memory conversation.
func (c *Conversation) Apply(senderID string, eff SendEffect) {
	if eff.Activate {
		c.Activated = true
	}
	if eff.ReviveSender {
		c.SetDeleted(senderID, false)
	}
}

// StateChange is the payload for conversation lifecycle events.
type StateChange struct {
	ConversationID string `json:"conversation_id"`
	From           State  `json:"from"`
	To             State  `json:"to"`
}
