package domain

import "encoding/json"

// MessageType tags an outbound message.
type MessageType string

const (
	MessageInfo   MessageType = "info"
	MessageRecipe MessageType = "recipe"
	MessageImage  MessageType = "image"
)

// OutboundMessage is the JSON payload pushed to a client connection.
type OutboundMessage struct {
	Type     MessageType `json:"type"`
	Message  string      `json:"message"`
	ImageURL string      `json:"image_url,omitempty"`
}

func InfoMessage(text string) OutboundMessage {
	return OutboundMessage{Type: MessageInfo, Message: text}
}

func RecipeChunkMessage(chunk string) OutboundMessage {
	return OutboundMessage{Type: MessageRecipe, Message: chunk}
}

func ImageMessage(text, url string) OutboundMessage {
	return OutboundMessage{Type: MessageImage, Message: text, ImageURL: url}
}

// InboundRequest is the envelope a client sends over its connection.
// Ingredients holds either a JSON string or an array of strings.
type InboundRequest struct {
	Action      string          `json:"action"`
	Ingredients json.RawMessage `json:"ingredients"`
}

// ActionMessage is the only action the router accepts.
const ActionMessage = "message"
