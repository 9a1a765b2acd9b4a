package models

// Sender identifies the user behind an inbound message or button press.
type Sender struct {
	ID       int64
	FullName string
	Username string
}

// Inbound is a transport-neutral view of one received message.
type Inbound struct {
	MessageID    int
	ChatID       int64
	Private      bool
	From         Sender
	MediaGroupID string

	Text    string
	Caption string
	// File ids of the attachment, at most one is set. PhotoID is the largest size.
	PhotoID     string
	AudioID     string
	AnimationID string
	VideoID     string
	// Other is a short name for an attachment the relay does not forward
	// (voice, sticker, document, ...).
	Other string

	Command       string
	CommandArgs   string
	// CommandTarget is the bot username after @ in "/cmd@name", if any.
	CommandTarget string

	ReplyToMessageID int
	ReplyToFromID    int64
}

// Callback is a press on an inline control.
type Callback struct {
	ID        string
	From      Sender
	ChatID    int64
	MessageID int
	Data      string
}
