// Package event holds the envelope exchanged between chat-service
// instances over the shared broker channel.
package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cwrk-planet/chat-service/internal/domain"
)

type Type string

const (
	TypeRoomMessage        Type = "room_message"
	TypePresence           Type = "presence"
	TypeGlobalNotification Type = "global_notification"
)

var (
	ErrUnknownType = errors.New("unknown event type")
	ErrMalformed   = errors.New("malformed event")
)

// Event is one of RoomMessage, Presence or GlobalNotification.
type Event interface {
	Type() Type
}

type RoomMessage struct {
	RoomID   int64  `json:"room_id"`
	SenderID int64  `json:"sender_id"`
	Text     string `json:"message"`
	Author   string `json:"author,omitempty"`
	// MessageID is the history id of a persisted message, zero otherwise.
	MessageID int64 `json:"message_id,omitempty"`
}

type Presence struct {
	UserID   int64 `json:"user_id"`
	IsOnline bool  `json:"is_online"`
}

// GlobalNotification is delivered as-is to the recipient's notification
// stream; Notification must be a JSON object.
type GlobalNotification struct {
	RecipientID  int64           `json:"recipient_id"`
	Notification json.RawMessage `json:"notification"`
}

func (RoomMessage) Type() Type        { return TypeRoomMessage }
func (Presence) Type() Type           { return TypePresence }
func (GlobalNotification) Type() Type { return TypeGlobalNotification }

// NewMessageNotice builds the notification sent to a recipient that is
// not present in the room the message was written to.
func NewMessageNotice(recipientID, fromUserID int64, fromUsername, text string) (GlobalNotification, error) {
	raw, err := json.Marshal(domain.NewMessageFrame{
		Type:         domain.FrameNewMessage,
		FromUserID:   fromUserID,
		FromUsername: fromUsername,
		Text:         text,
	})
	if err != nil {
		return GlobalNotification{}, err
	}
	return GlobalNotification{RecipientID: recipientID, Notification: raw}, nil
}

type header struct {
	EventType Type `json:"event_type"`
}

// Encode serializes e into the broker envelope.
func Encode(e Event) ([]byte, error) {
	switch v := e.(type) {
	case RoomMessage:
		return json.Marshal(struct {
			header
			RoomMessage
		}{header{TypeRoomMessage}, v})
	case Presence:
		return json.Marshal(struct {
			header
			Presence
		}{header{TypePresence}, v})
	case GlobalNotification:
		if !isObject(v.Notification) {
			return nil, fmt.Errorf("%w: notification must be a json object", ErrMalformed)
		}
		return json.Marshal(struct {
			header
			GlobalNotification
		}{header{TypeGlobalNotification}, v})
	case nil:
		return nil, fmt.Errorf("%w: nil event", ErrUnknownType)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, e)
	}
}

// Decode parses a broker envelope. Unknown event types yield ErrUnknownType,
// broken payloads ErrMalformed.
func Decode(data []byte) (Event, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch h.EventType {
	case TypeRoomMessage:
		var m RoomMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: room_message: %v", ErrMalformed, err)
		}
		return m, nil
	case TypePresence:
		var p Presence
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: presence: %v", ErrMalformed, err)
		}
		return p, nil
	case TypeGlobalNotification:
		var n GlobalNotification
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, fmt.Errorf("%w: global_notification: %v", ErrMalformed, err)
		}
		if !isObject(n.Notification) {
			return nil, fmt.Errorf("%w: global_notification: notification is not an object", ErrMalformed)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, h.EventType)
	}
}

func isObject(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return json.Valid(raw)
		default:
			return false
		}
	}
	return false
}
