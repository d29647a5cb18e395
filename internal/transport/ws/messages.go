package ws

// ChatIn is the only frame a room client sends.
type ChatIn struct {
	Text string `json:"text"`
}

const (
	joinedSuffix = " has joined the chat"
	leftSuffix   = " has left the chat"
)
