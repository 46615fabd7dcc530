package transport

import "context"

// ChatType mirrors the platform's chat classification.
type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSuperGroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

type Chat struct {
	ID       int64
	Type     ChatType
	Title    string
	Username string
}

func (c Chat) IsGroupKind() bool {
	return c.Type == ChatGroup || c.Type == ChatSuperGroup || c.Type == ChatChannel
}

// MemberStatus is the bot's (or a user's) membership state in a chat.
type MemberStatus string

const (
	MemberCreator       MemberStatus = "creator"
	MemberAdministrator MemberStatus = "administrator"
	MemberMember        MemberStatus = "member"
	MemberRestricted    MemberStatus = "restricted"
	MemberLeft          MemberStatus = "left"
	MemberKicked        MemberStatus = "kicked"
)

type ChatMember struct {
	UserID int64
	Status MemberStatus
}

func (m ChatMember) Gone() bool {
	return m.Status == MemberLeft || m.Status == MemberKicked
}

// Message is an incoming command message, already stripped down to what
// the handlers need.
type Message struct {
	ID       int
	Chat     Chat
	SenderID int64
	// SenderIsAnonymous is set for group admins posting as the group itself.
	SenderIsAnonymous bool
	Text              string
	// Payload is the command argument string ("/sub <payload>").
	Payload string
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode             string // "" or "HTML"
	DisableWebPagePreview bool
	ReplyTo               int // message id to reply to, 0 for none
}

// Document is a small file pushed to a chat (e.g. an OPML export).
type Document struct {
	Name     string
	MIME     string
	Caption  string
	Contents []byte
}

// Sender is the outbound surface the delivery pipeline depends on.
// Errors returned by implementations are classified per errors.go.
type Sender interface {
	SendMessage(ctx context.Context, chat int64, text string, opt *SendOptions) (MessageRef, error)
	EditMessage(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
}

// Bot is the full transport surface: sending plus the chat metadata
// queries used by command access checks and the gardener.
type Bot interface {
	Sender

	SendDocument(ctx context.Context, chat int64, doc Document, replyTo int) error
	ChatByID(ctx context.Context, id int64) (Chat, error)
	ChatByName(ctx context.Context, name string) (Chat, error)
	ChatAdministrators(ctx context.Context, chat int64) ([]ChatMember, error)
	ChatMemberOf(ctx context.Context, chat, user int64) (ChatMember, error)
}
