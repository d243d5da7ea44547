package digest

import (
	"fmt"
	"html"
	"strings"

	"chat-digest-mailer/internal/domain"
)

// FormatDigestHTML формирует HTML-тело письма-дайджеста.
func FormatDigestHTML(ctx domain.DigestContext) string {
	var sections []string

	if convos := buildConversationSections(ctx.HotConversations); convos != "" {
		sections = append(sections, convos)
	}

	if streams := NewStreamsHTML(ctx.NewStreams); streams != "" {
		sections = append(sections, "<b>Новые каналы</b><br>"+streams)
	}

	if unsub := strings.TrimSpace(ctx.UnsubscribeURL); unsub != "" {
		sections = append(sections, fmt.Sprintf("<a href=\"%s\">Отписаться от дайджеста</a>", html.EscapeString(unsub)))
	}

	return strings.TrimSpace(strings.Join(sections, "<br><br>"))
}

// FormatDigestPlain формирует текстовую версию письма.
func FormatDigestPlain(ctx domain.DigestContext) string {
	var sections []string

	for _, convo := range ctx.HotConversations {
		var builder strings.Builder
		builder.WriteString(fmt.Sprintf("%s > %s (%s)\n", convo.StreamName, convo.Topic, strings.Join(convo.Participants, ", ")))
		for _, teaser := range convo.Teasers {
			builder.WriteString(fmt.Sprintf("  %s: %s\n", teaser.SenderName, teaser.Content))
		}
		if convo.MessageCount > 0 {
			builder.WriteString(fmt.Sprintf("  ... и ещё %d сообщений\n", convo.MessageCount))
		}
		sections = append(sections, strings.TrimRight(builder.String(), "\n"))
	}

	if plain := NewStreamsPlain(ctx.NewStreams); plain != "" {
		sections = append(sections, "Новые каналы: "+plain)
	}

	if unsub := strings.TrimSpace(ctx.UnsubscribeURL); unsub != "" {
		sections = append(sections, "Отписаться: "+unsub)
	}

	return strings.TrimSpace(strings.Join(sections, "\n\n"))
}

func buildConversationSections(conversations []domain.HotConversation) string {
	if len(conversations) == 0 {
		return ""
	}

	var builder strings.Builder
	builder.WriteString("<b>Горячие беседы</b>")
	for _, convo := range conversations {
		builder.WriteString(fmt.Sprintf("<br><br><b>%s &gt; %s</b>", escapeHTML(convo.StreamName), escapeHTML(convo.Topic)))
		if len(convo.Participants) > 0 {
			builder.WriteString("<br>" + escapeHTML(strings.Join(convo.Participants, ", ")))
		}
		for _, teaser := range convo.Teasers {
			builder.WriteString(fmt.Sprintf("<br>• <b>%s</b>: %s", escapeHTML(teaser.SenderName), escapeHTML(teaser.Content)))
		}
		if convo.MessageCount > 0 {
			builder.WriteString(fmt.Sprintf("<br><i>и ещё %d сообщений</i>", convo.MessageCount))
		}
	}
	return strings.TrimSpace(builder.String())
}

// NewStreamsHTML возвращает список ссылок на новые каналы.
func NewStreamsHTML(streams []domain.NewStream) string {
	if len(streams) == 0 {
		return ""
	}
	links := make([]string, 0, len(streams))
	for _, stream := range streams {
		links = append(links, fmt.Sprintf("<a href='%s'>%s</a>", html.EscapeString(stream.URL), escapeHTML(stream.Name)))
	}
	return strings.Join(links, ", ")
}

// NewStreamsPlain возвращает имена новых каналов через запятую.
func NewStreamsPlain(streams []domain.NewStream) string {
	if len(streams) == 0 {
		return ""
	}
	names := make([]string, 0, len(streams))
	for _, stream := range streams {
		names = append(names, stream.Name)
	}
	return strings.Join(names, ", ")
}

func escapeHTML(s string) string {
	return html.EscapeString(s)
}
