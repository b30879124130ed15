package entity

type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one chat turn. ImageB64, when set, is attached to the turn as an
// inline PNG for vision-capable models.
type Message struct {
	Role     MessageRole
	Content  string
	ImageB64 string
}

func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func UserImageMessage(content, imageB64 string) Message {
	return Message{Role: RoleUser, Content: content, ImageB64: imageB64}
}

func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
