package domain

import "time"

// RealmRepo управляет организациями.
type RealmRepo interface {
	GetRealm(realmID int64) (Realm, error)
	// ListDigestRealms возвращает активные организации с включёнными дайджестами.
	ListDigestRealms() ([]Realm, error)
}

// UserRepo управляет пользователями.
type UserRepo interface {
	GetUser(userID int64) (User, error)
	// ListDigestCandidates возвращает активных людей с включёнными письмами-дайджестами.
	ListDigestCandidates(realmID int64) ([]User, error)
	// LastVisits возвращает время последней активности по пользователям организации.
	// Пользователи без записей активности в карту не попадают.
	LastVisits(realmID int64) (map[int64]time.Time, error)
	// ListRecipients возвращает пользователей по списку идентификаторов.
	ListRecipients(userIDs []int64) ([]User, error)
}

// StreamRepo управляет каналами.
type StreamRepo interface {
	ListSubscribedStreamIDs(userID int64) ([]int64, error)
	// ListNewStreams возвращает видимые каналы, созданные после createdAfter.
	// При webPublicOnly скрытыми считаются все, кроме веб-публичных.
	ListNewStreams(realmID int64, createdAfter time.Time, webPublicOnly bool) ([]Stream, error)
}

// MessageRepo выбирает сообщения для агрегации.
type MessageRepo interface {
	// ListStreamMessages возвращает сообщения каналов, отправленные после since,
	// вместе с именем отправителя и клиентом отправки.
	ListStreamMessages(streamIDs []int64, since time.Time) ([]Message, error)
}

// AuditRepo читает журнал событий подписок.
type AuditRepo interface {
	// RecentlyModifiedStreamIDs возвращает каналы, по которым у пользователя
	// было событие подписки позже threshold.
	RecentlyModifiedStreamIDs(userID int64, threshold time.Time) (map[int64]struct{}, error)
}

// DigestRunRepo отвечает за идемпотентность построения дайджеста.
type DigestRunRepo interface {
	// AcquireDigestRun помечает пару пользователь/срез и возвращает true,
	// если запись была создана. При конфликте возвращает false без ошибки.
	AcquireDigestRun(userID int64, cutoff time.Time) (bool, error)
}

// ConfirmationRepo выдаёт одноразовые ключи для ссылок отписки.
type ConfirmationRepo interface {
	CreateUnsubscribeKey(userID int64) (string, error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
