package domain

// Frames pushed to websocket clients.

const (
	FrameNewMessage     = "new_message"
	FramePresenceUpdate = "presence_update"
)

// RoomFrame is one chat line as seen by a particular viewer.
type RoomFrame struct {
	Message string `json:"message"`
	IsSelf  bool   `json:"is_self"`
	Author  string `json:"author,omitempty"`

	// MessageID is never sent; it lets a joining conn skip live frames it
	// already got from history.
	MessageID int64 `json:"-"`
}

// NewMessageFrame is pushed on the notification stream when somebody
// writes to a user that is not in the room.
type NewMessageFrame struct {
	Type         string `json:"type"`
	FromUserID   int64  `json:"from_user_id"`
	FromUsername string `json:"from_username"`
	Text         string `json:"text"`
}

type PresenceFrame struct {
	Type     string `json:"type"`
	UserID   int64  `json:"user_id"`
	IsOnline bool   `json:"is_online"`
}

// NewRoomFrame renders a chat line for viewerID.
func NewRoomFrame(text string, senderID, viewerID int64, author string) RoomFrame {
	return RoomFrame{
		Message: text,
		IsSelf:  senderID == viewerID,
		Author:  author,
	}
}
