package irisfast

import "strings"

// WebSocketState describes the ingress connection lifecycle.
type WebSocketState string

const (
	WSStateDisconnected WebSocketState = "disconnected"
	WSStateConnecting   WebSocketState = "connecting"
	WSStateConnected    WebSocketState = "connected"
	WSStateReconnecting WebSocketState = "reconnecting"
	WSStateFailed       WebSocketState = "failed"
)

// Config is the bridge's /config payload.
type Config struct {
	Port              int    `json:"port"`
	PollingSpeed      int    `json:"polling_speed"`
	MessageRate       int    `json:"message_rate"`
	WebserverEndpoint string `json:"web_server_endpoint"`
	BotJID            string `json:"bot_jid"`
}

// MessageKey addresses one message inside a chat.
type MessageKey struct {
	ChatID      string `json:"chat_id"`
	Participant string `json:"participant,omitempty"`
	FromMe      bool   `json:"from_me"`
	ID          string `json:"id"`
}

// Content is the typed content union of an inbound message. Only the variant
// matching the message kind is populated.
type Content struct {
	Type            string `json:"type,omitempty"`
	Conversation    string `json:"conversation,omitempty"`
	ExtendedText    string `json:"extended_text,omitempty"`
	ImageCaption    string `json:"image_caption,omitempty"`
	VideoCaption    string `json:"video_caption,omitempty"`
	DocumentCaption string `json:"document_caption,omitempty"`
	ButtonReplyID   string `json:"button_reply_id,omitempty"`
	ListReplyID     string `json:"list_reply_id,omitempty"`
	TemplateReplyID string `json:"template_reply_id,omitempty"`
}

// Content kinds reported in Content.Type.
const (
	ContentText     = "text"
	ContentImage    = "image"
	ContentVideo    = "video"
	ContentAudio    = "audio"
	ContentSticker  = "sticker"
	ContentDocument = "document"
	ContentOther    = "other"
)

// Text returns the first non-empty text-bearing field.
func (c *Content) Text() string {
	if c == nil {
		return ""
	}
	for _, s := range []string{
		c.Conversation,
		c.ExtendedText,
		c.ImageCaption,
		c.VideoCaption,
		c.DocumentCaption,
		c.ButtonReplyID,
		c.ListReplyID,
		c.TemplateReplyID,
	} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// Kind returns the content type, inferring it from populated fields when the
// bridge did not set one.
func (c *Content) Kind() string {
	if c == nil {
		return ""
	}
	if t := strings.ToLower(strings.TrimSpace(c.Type)); t != "" {
		return t
	}
	switch {
	case c.ImageCaption != "":
		return ContentImage
	case c.VideoCaption != "":
		return ContentVideo
	case c.DocumentCaption != "":
		return ContentDocument
	case c.Text() != "":
		return ContentText
	}
	return ContentOther
}

// Empty reports whether the union carries nothing at all.
func (c *Content) Empty() bool {
	return c == nil || (strings.TrimSpace(c.Type) == "" && c.Text() == "")
}

// ContextInfo carries reply metadata when a message quotes another one.
type ContextInfo struct {
	StanzaID      string   `json:"stanza_id,omitempty"`
	Participant   string   `json:"participant,omitempty"`
	QuotedMessage *Content `json:"quoted_message,omitempty"`
	MentionedJIDs []string `json:"mentioned_jids,omitempty"`
}

// Message is the inbound event envelope delivered over the websocket.
type Message struct {
	Key         MessageKey   `json:"key"`
	PushName    string       `json:"push_name,omitempty"`
	Timestamp   int64        `json:"timestamp,omitempty"`
	Content     *Content     `json:"message,omitempty"`
	ContextInfo *ContextInfo `json:"context_info,omitempty"`
}

// Participant is one member entry of group metadata. ID may be an opaque
// linked identifier, in which case PhoneNumber carries the phone address when
// the bridge knows it.
type Participant struct {
	ID          string `json:"id"`
	LID         string `json:"lid,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Admin       string `json:"admin,omitempty"` // "", "admin", "superadmin"
}

// IsAdmin reports admin or superadmin role.
func (p Participant) IsAdmin() bool {
	return p.Admin == "admin" || p.Admin == "superadmin"
}

// GroupMetadata is the bridge's group description.
type GroupMetadata struct {
	ID           string        `json:"id"`
	Subject      string        `json:"subject"`
	Owner        string        `json:"owner,omitempty"`
	Participants []Participant `json:"participants"`
}

type ReplyRequest struct {
	Type     string `json:"type"`
	Room     string `json:"room"`
	Data     string `json:"data"`
	QuotedID string `json:"quoted_id,omitempty"`
}

type ReactionRequest struct {
	Type  string     `json:"type"`
	Room  string     `json:"room"`
	Key   MessageKey `json:"key"`
	Emoji string     `json:"emoji"`
}

type lidMappingResponse struct {
	LID   string `json:"lid"`
	Phone string `json:"phone"`
}
