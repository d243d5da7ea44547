package digest

import (
	"strings"
	"testing"

	"chat-digest-mailer/internal/domain"
)

func sampleContext() domain.DigestContext {
	return domain.DigestContext{
		RealmName: "Эльсинор",
		HotConversations: []domain.HotConversation{
			{
				StreamID:     1,
				StreamName:   "Verona",
				Topic:        "lunch",
				Participants: []string{"hamlet", "cordelia"},
				MessageCount: 3,
				Teasers: []domain.TeaserMessage{
					{SenderName: "hamlet", Content: "some content"},
					{SenderName: "cordelia", Content: "<script>alert(1)</script>"},
				},
			},
		},
		NewStreams: []domain.NewStream{
			{ID: 42, Name: "New stream", URL: "http://chat.example.com/#narrow/stream/42-New-stream"},
		},
		UnsubscribeURL: "http://chat.example.com/accounts/unsubscribe/digest/abc",
	}
}

func TestFormatDigestHTML(t *testing.T) {
	out := FormatDigestHTML(sampleContext())

	if !strings.Contains(out, "<a href='http://chat.example.com/#narrow/stream/42-New-stream'>New stream</a>") {
		t.Fatalf("ожидали ссылку на новый канал, получили:\n%s", out)
	}
	if !strings.Contains(out, "Verona &gt; lunch") {
		t.Fatalf("ожидали заголовок беседы, получили:\n%s", out)
	}
	if strings.Contains(out, "<script>") {
		t.Fatalf("содержимое сообщений должно экранироваться:\n%s", out)
	}
	if !strings.Contains(out, "и ещё 3 сообщений") {
		t.Fatalf("ожидали счётчик скрытых сообщений, получили:\n%s", out)
	}
	if !strings.Contains(out, "accounts/unsubscribe/digest/abc") {
		t.Fatalf("ожидали ссылку отписки, получили:\n%s", out)
	}
}

func TestFormatDigestPlain(t *testing.T) {
	out := FormatDigestPlain(sampleContext())

	if !strings.Contains(out, "Verona > lunch (hamlet, cordelia)") {
		t.Fatalf("ожидали заголовок беседы, получили:\n%s", out)
	}
	if !strings.Contains(out, "hamlet: some content") {
		t.Fatalf("ожидали тизер, получили:\n%s", out)
	}
	if !strings.Contains(out, "Новые каналы: New stream") {
		t.Fatalf("ожидали список новых каналов, получили:\n%s", out)
	}
}

func TestFormatDigestEmpty(t *testing.T) {
	if out := FormatDigestHTML(domain.DigestContext{}); out != "" {
		t.Fatalf("пустой контекст должен давать пустое тело, получили %q", out)
	}
	if out := FormatDigestPlain(domain.DigestContext{}); out != "" {
		t.Fatalf("пустой контекст должен давать пустой текст, получили %q", out)
	}
}

func TestNewStreamsPlain(t *testing.T) {
	streams := []domain.NewStream{{Name: "design"}, {Name: "war room"}}
	if got := NewStreamsPlain(streams); got != "design, war room" {
		t.Fatalf("ожидали перечисление имён, получили %q", got)
	}
	if got := NewStreamsPlain(nil); got != "" {
		t.Fatalf("для пустого списка ожидали пустую строку, получили %q", got)
	}
}
