package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Catrya/mostro/constants"
)

// Kind is the envelope key of a message: order messages for trade actions,
// dispute messages for arbitration traffic.
type Kind string

const (
	KindOrder   Kind = "order"
	KindDispute Kind = "dispute"
)

// ErrMalformed marks input that is not even parseable JSON. The transport is
// untrusted, so these are silently dropped rather than answered.
var ErrMalformed = errors.New("malformed message")

// RejectionError carries the cant-do reason that must be replied for inputs
// that parse but are not acceptable.
type RejectionError struct {
	Reason CantDoReason
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("message rejected: %s", e.Reason)
}

// InnerMessage is the rumor body of every protocol message.
type InnerMessage struct {
	Version    int      `json:"version"`
	RequestID  *uint64  `json:"request_id,omitempty"`
	ID         *string  `json:"id,omitempty"`
	Action     Action   `json:"action"`
	Content    *Content `json:"content,omitempty"`
	TradeIndex *int64   `json:"trade_index,omitempty"`
}

type Message struct {
	Order   *InnerMessage `json:"order,omitempty"`
	Dispute *InnerMessage `json:"dispute,omitempty"`
}

func NewOrderMessage(inner *InnerMessage) *Message {
	return &Message{Order: inner}
}

func NewDisputeMessage(inner *InnerMessage) *Message {
	return &Message{Dispute: inner}
}

// Inner returns the populated envelope body, whichever kind it is.
func (m *Message) Inner() *InnerMessage {
	if m.Order != nil {
		return m.Order
	}
	return m.Dispute
}

func (m *Message) Kind() Kind {
	if m.Order != nil {
		return KindOrder
	}
	return KindDispute
}

func Encode(m *Message) (string, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// Decode parses and validates a wire message. Unparseable input returns
// ErrMalformed; a parseable message with a bad version or an action outside
// the closed alphabet returns a RejectionError with the reply reason.
func Decode(payload string) (*Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, ErrMalformed
	}
	if m.Order == nil && m.Dispute == nil {
		return nil, ErrMalformed
	}
	if m.Order != nil && m.Dispute != nil {
		return nil, ErrMalformed
	}

	inner := m.Inner()
	if inner.Version != constants.PROTOCOL_VERSION {
		return &m, &RejectionError{Reason: CantDoUnsupportedVersion}
	}
	if !inner.Action.Valid() {
		return &m, &RejectionError{Reason: CantDoUnknownAction}
	}
	return &m, nil
}

// Reply helpers used all over the engine.

func CantDoMessage(orderID *string, requestID *uint64, reason CantDoReason) *Message {
	return NewOrderMessage(&InnerMessage{
		Version:   constants.PROTOCOL_VERSION,
		RequestID: requestID,
		ID:        orderID,
		Action:    ActionCantDo,
		Content:   &Content{CantDo: &reason},
	})
}

func ActionMessage(orderID *string, requestID *uint64, action Action, content *Content) *Message {
	return NewOrderMessage(&InnerMessage{
		Version:   constants.PROTOCOL_VERSION,
		RequestID: requestID,
		ID:        orderID,
		Action:    action,
		Content:   content,
	})
}
