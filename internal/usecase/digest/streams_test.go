package digest

import (
	"testing"
	"time"

	"chat-digest-mailer/internal/domain"
)

func TestStreamNarrowURL(t *testing.T) {
	stream := domain.Stream{ID: 42, Name: "New stream"}
	got := StreamNarrowURL("http://chat.example.com", stream)
	want := "http://chat.example.com/#narrow/stream/42-New-stream"
	if got != want {
		t.Fatalf("ожидали %q, получили %q", want, got)
	}
}

func TestStreamNarrowURLTrimsSlash(t *testing.T) {
	stream := domain.Stream{ID: 7, Name: "general"}
	got := StreamNarrowURL("https://chat.example.com/", stream)
	want := "https://chat.example.com/#narrow/stream/7-general"
	if got != want {
		t.Fatalf("ожидали %q, получили %q", want, got)
	}
}

func TestGatherNewStreams(t *testing.T) {
	created := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	streams := []domain.Stream{
		{ID: 1, Name: "design", CreatedAt: created},
		{ID: 2, Name: "war room", CreatedAt: created},
	}

	out := GatherNewStreams(streams, "https://chat.example.com")
	if len(out) != 2 {
		t.Fatalf("ожидали 2 канала, получили %d", len(out))
	}
	if out[1].URL != "https://chat.example.com/#narrow/stream/2-war-room" {
		t.Fatalf("неверная ссылка: %q", out[1].URL)
	}
	if out[0].Name != "design" {
		t.Fatalf("ожидали имя design, получили %q", out[0].Name)
	}
}

func TestGatherNewStreamsEmpty(t *testing.T) {
	if out := GatherNewStreams(nil, "https://chat.example.com"); out != nil {
		t.Fatalf("ожидали nil для пустого списка, получили %v", out)
	}
}
