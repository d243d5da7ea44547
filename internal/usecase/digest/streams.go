package digest

import (
	"fmt"
	"strings"

	"chat-digest-mailer/internal/domain"
)

// StreamSlug превращает название канала в часть ссылки.
func StreamSlug(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), " ", "-")
}

// StreamNarrowURL строит ссылку на канал внутри веб-приложения.
func StreamNarrowURL(realmURL string, stream domain.Stream) string {
	return fmt.Sprintf("%s/#narrow/stream/%d-%s", strings.TrimRight(realmURL, "/"), stream.ID, StreamSlug(stream.Name))
}

// GatherNewStreams превращает недавно созданные каналы в элементы дайджеста.
// Фильтрация по видимости выполняется на уровне выборки: гостям репозиторий
// отдаёт только веб-публичные каналы.
func GatherNewStreams(streams []domain.Stream, realmURL string) []domain.NewStream {
	if len(streams) == 0 {
		return nil
	}
	out := make([]domain.NewStream, 0, len(streams))
	for _, stream := range streams {
		out = append(out, domain.NewStream{
			ID:   stream.ID,
			Name: stream.Name,
			URL:  StreamNarrowURL(realmURL, stream),
		})
	}
	return out
}
