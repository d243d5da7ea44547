package domain

import "time"

// Realm описывает организацию (тенант) чат-приложения.
type Realm struct {
	ID                  int64
	Name                string
	Host                string
	DigestEmailsEnabled bool
	Deactivated         bool
}

// User описывает пользователя внутри организации.
type User struct {
	ID                 int64
	RealmID            int64
	Email              string
	FullName           string
	IsActive           bool
	IsBot              bool
	IsGuest            bool
	EnableDigestEmails bool
	LongTermIdle       bool
	CreatedAt          time.Time
}

// Stream описывает именованный канал внутри организации.
type Stream struct {
	ID          int64
	RealmID     int64
	Name        string
	InviteOnly  bool
	IsWebPublic bool
	Deactivated bool
	CreatedAt   time.Time
}

// Message представляет сообщение в канале.
type Message struct {
	ID         int64
	StreamID   int64
	StreamName string
	Topic      string
	SenderID   int64
	SenderName string
	Content    string
	SentAt     time.Time
	ClientName string
}

// StreamEventType описывает тип события подписки в журнале аудита.
type StreamEventType string

const (
	// StreamEventSubscribed — пользователь подписался на канал.
	StreamEventSubscribed StreamEventType = "subscription_created"
	// StreamEventUnsubscribed — пользователь отписался от канала.
	StreamEventUnsubscribed StreamEventType = "subscription_deactivated"
	// StreamEventResubscribed — подписка была восстановлена.
	StreamEventResubscribed StreamEventType = "subscription_activated"
)

// StreamEvent представляет запись журнала аудита о смене подписки.
type StreamEvent struct {
	ID         int64
	RealmID    int64
	UserID     int64
	StreamID   int64
	Type       StreamEventType
	OccurredAt time.Time
}

// TeaserMessage — короткий фрагмент сообщения для превью беседы.
type TeaserMessage struct {
	SenderName string `json:"sender"`
	Content    string `json:"content"`
}

// HotConversation описывает активную беседу для дайджеста.
type HotConversation struct {
	StreamID     int64    `json:"stream_id"`
	StreamName   string   `json:"stream_name"`
	Topic        string   `json:"topic"`
	Participants []string `json:"participants"`
	// MessageCount — количество сообщений сверх показанных тизеров.
	MessageCount int             `json:"count"`
	Teasers      []TeaserMessage `json:"first_few_messages"`
}

// NewStream описывает недавно созданный канал.
type NewStream struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// DigestContext — контекст рендеринга письма-дайджеста.
type DigestContext struct {
	RealmName        string            `json:"realm_name"`
	HotConversations []HotConversation `json:"hot_conversations"`
	NewStreams       []NewStream       `json:"new_streams"`
	UnsubscribeURL   string            `json:"unsubscribe_url"`
}

// HasContent сообщает, достаточно ли трафика для отправки письма.
func (c DigestContext) HasContent() bool {
	return len(c.HotConversations) > 0 || len(c.NewStreams) > 0
}
