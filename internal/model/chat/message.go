package chat

import (
	"time"

	"github.com/google/uuid"
)

// Sender identifies which side of the conversation produced a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Message is one conversational turn. Messages are immutable once appended
// except for AudioDataURI, which is attached in place after background
// speech synthesis completes.
type Message struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	Sender       Sender `json:"sender"`
	Timestamp    int64  `json:"timestamp"`
	AudioDataURI string `json:"audioDataUri,omitempty"`
}

// New builds a message with a fresh id and the current wall clock.
func New(sender Sender, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    sender,
		Timestamp: time.Now().UnixMilli(),
	}
}

// WelcomeText opens every fresh conversation.
const WelcomeText = "Hello, I'm EmotiFriend. How are you feeling today?"

// Welcome synthesizes the greeting that heads a fresh conversation.
func Welcome() Message {
	return New(SenderAI, WelcomeText)
}
