package digest

import (
	"sort"
	"strings"

	"chat-digest-mailer/internal/domain"
)

// humanClients — клиенты, сообщения которых считаются отправленными человеком.
var humanClients = map[string]struct{}{
	"website": {},
	"ios":     {},
	"android": {},
	"mobile":  {},
	"desktop": {},
}

// SentByHuman отфильтровывает сообщения ботов и интеграций по клиенту отправки.
func SentByHuman(clientName string) bool {
	name := strings.ToLower(strings.TrimSpace(clientName))
	if _, ok := humanClients[name]; ok {
		return true
	}
	return strings.HasPrefix(name, "desktop app")
}

type conversationKey struct {
	streamID int64
	topic    string
}

type conversationGroup struct {
	streamName string
	messages   []domain.Message
	senders    map[int64]struct{}
	lastSent   int64
}

// GatherHotConversations группирует человеческие сообщения по парам
// (канал, тема), ранжирует беседы по числу участников и сообщений и
// возвращает не более maxConversations бесед с первыми teaserCount
// сообщениями в качестве тизеров. Каналы из excluded пропускаются:
// свежая подписка не должна выглядеть как горячая беседа.
func GatherHotConversations(messages []domain.Message, excluded map[int64]struct{}, maxConversations, teaserCount int) []domain.HotConversation {
	groups := make(map[conversationKey]*conversationGroup)
	order := make([]conversationKey, 0)

	for _, msg := range messages {
		if !SentByHuman(msg.ClientName) {
			continue
		}
		if _, skip := excluded[msg.StreamID]; skip {
			continue
		}
		key := conversationKey{streamID: msg.StreamID, topic: msg.Topic}
		group, ok := groups[key]
		if !ok {
			group = &conversationGroup{streamName: msg.StreamName, senders: make(map[int64]struct{})}
			groups[key] = group
			order = append(order, key)
		}
		group.messages = append(group.messages, msg)
		group.senders[msg.SenderID] = struct{}{}
		if ts := msg.SentAt.UnixNano(); ts > group.lastSent {
			group.lastSent = ts
		}
	}

	if len(order) == 0 {
		return nil
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := groups[order[i]], groups[order[j]]
		if len(a.senders) != len(b.senders) {
			return len(a.senders) > len(b.senders)
		}
		if len(a.messages) != len(b.messages) {
			return len(a.messages) > len(b.messages)
		}
		return a.lastSent > b.lastSent
	})

	if maxConversations > 0 && len(order) > maxConversations {
		order = order[:maxConversations]
	}

	conversations := make([]domain.HotConversation, 0, len(order))
	for _, key := range order {
		group := groups[key]
		sort.SliceStable(group.messages, func(i, j int) bool {
			if !group.messages[i].SentAt.Equal(group.messages[j].SentAt) {
				return group.messages[i].SentAt.Before(group.messages[j].SentAt)
			}
			return group.messages[i].ID < group.messages[j].ID
		})

		shown := teaserCount
		if shown > len(group.messages) {
			shown = len(group.messages)
		}
		teasers := make([]domain.TeaserMessage, 0, shown)
		for _, msg := range group.messages[:shown] {
			teasers = append(teasers, domain.TeaserMessage{SenderName: msg.SenderName, Content: msg.Content})
		}

		conversations = append(conversations, domain.HotConversation{
			StreamID:     key.streamID,
			StreamName:   group.streamName,
			Topic:        key.topic,
			Participants: participantNames(group.messages),
			MessageCount: len(group.messages) - shown,
			Teasers:      teasers,
		})
	}

	return conversations
}

// participantNames возвращает имена отправителей без дублей в порядке появления.
func participantNames(messages []domain.Message) []string {
	seen := make(map[int64]struct{}, len(messages))
	names := make([]string, 0, len(messages))
	for _, msg := range messages {
		if _, ok := seen[msg.SenderID]; ok {
			continue
		}
		seen[msg.SenderID] = struct{}{}
		names = append(names, msg.SenderName)
	}
	return names
}
