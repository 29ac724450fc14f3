package model

import "time"

type MessageType string

const (
	MessageTypeText      MessageType = "text"
	MessageTypeImage     MessageType = "image"
	MessageTypeFile      MessageType = "file"
	MessageTypeVoiceNote MessageType = "voice_note"
	MessageTypeVideoNote MessageType = "video_note"
	MessageTypeVideoCall MessageType = "video_call"
	MessageTypeAudioCall MessageType = "audio_call"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeVoiceNote,
		MessageTypeVideoNote, MessageTypeVideoCall, MessageTypeAudioCall:
		return true
	}
	return false
}

// NeedsMedia reports whether the type carries an attachment from the media store.
func (t MessageType) NeedsMedia() bool {
	switch t {
	case MessageTypeImage, MessageTypeFile, MessageTypeVoiceNote, MessageTypeVideoNote:
		return true
	}
	return false
}

func (t MessageType) IsCall() bool {
	return t == MessageTypeVideoCall || t == MessageTypeAudioCall
}

// Media is an opaque reference returned by the external media store.
type Media struct {
	URL          string `json:"url"`
	FileName     string `json:"file_name,omitempty"`
	DurationSec  int    `json:"duration_sec,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

type Message struct {
	ID        string      `json:"id"`
	ChatID    string      `json:"chat_id"`
	SenderID  string      `json:"sender_id"` // empty once the author account is deleted
	Content   *string     `json:"content,omitempty"`
	Type      MessageType `json:"type"`
	Media     *Media      `json:"media,omitempty"`
	ReplyToID *string     `json:"reply_to_id,omitempty"`
	ReplyTo   *ReplyRef   `json:"reply_to,omitempty"`
	EditedAt  *time.Time  `json:"edited_at,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// SenderDeleted reports whether the author reference was tombstoned.
func (m *Message) SenderDeleted() bool { return m.SenderID == "" }

// ReplyRef is the resolved reply target. A deleted target stays referenced
// with Available=false.
type ReplyRef struct {
	ID        string      `json:"id"`
	Available bool        `json:"available"`
	SenderID  string      `json:"sender_id,omitempty"`
	Type      MessageType `json:"type,omitempty"`
	Content   *string     `json:"content,omitempty"`
}

// MessagePage is one page of history, oldest first. NextBefore is the id to
// pass as the next "before" cursor; empty when the page is the oldest.
type MessagePage struct {
	Messages   []Message `json:"messages"`
	NextBefore string    `json:"next_before,omitempty"`
}

// PageCursor is a position in a chat's (created_at, id) order.
type PageCursor struct {
	At time.Time
	ID string
}
