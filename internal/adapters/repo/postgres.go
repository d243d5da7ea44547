package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chat-digest-mailer/internal/domain"
	"chat-digest-mailer/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.RealmRepo        = (*Postgres)(nil)
	_ domain.UserRepo         = (*Postgres)(nil)
	_ domain.StreamRepo       = (*Postgres)(nil)
	_ domain.MessageRepo      = (*Postgres)(nil)
	_ domain.AuditRepo        = (*Postgres)(nil)
	_ domain.DigestRunRepo    = (*Postgres)(nil)
	_ domain.ConfirmationRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// GetRealm реализует domain.RealmRepo.
func (p *Postgres) GetRealm(realmID int64) (domain.Realm, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var realm domain.Realm
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, name, host, digest_emails_enabled, deactivated
FROM realms
WHERE id = $1
`, realmID).Scan(&realm.ID, &realm.Name, &realm.Host, &realm.DigestEmailsEnabled, &realm.Deactivated)
	metrics.ObserveNetworkRequest("postgres", "realm_get", "realms", start, err)
	if err != nil {
		return domain.Realm{}, err
	}
	return realm, nil
}

// ListDigestRealms возвращает активные организации с включёнными дайджестами.
func (p *Postgres) ListDigestRealms() ([]domain.Realm, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, name, host, digest_emails_enabled, deactivated
FROM realms
WHERE deactivated = FALSE AND digest_emails_enabled = TRUE
ORDER BY id
`)
	metrics.ObserveNetworkRequest("postgres", "realms_list_digest", "realms", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var realms []domain.Realm
	for rows.Next() {
		var realm domain.Realm
		if err := rows.Scan(&realm.ID, &realm.Name, &realm.Host, &realm.DigestEmailsEnabled, &realm.Deactivated); err != nil {
			return nil, err
		}
		realms = append(realms, realm)
	}
	return realms, rows.Err()
}

// GetUser реализует domain.UserRepo.
func (p *Postgres) GetUser(userID int64) (domain.User, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var user domain.User
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, realm_id, email, full_name, is_active, is_bot, is_guest, enable_digest_emails, long_term_idle, created_at
FROM users
WHERE id = $1
`, userID).Scan(&user.ID, &user.RealmID, &user.Email, &user.FullName, &user.IsActive, &user.IsBot, &user.IsGuest, &user.EnableDigestEmails, &user.LongTermIdle, &user.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "user_get", "users", start, err)
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// ListDigestCandidates возвращает активных людей с включёнными письмами.
func (p *Postgres) ListDigestCandidates(realmID int64) ([]domain.User, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, realm_id, email, full_name, is_active, is_bot, is_guest, enable_digest_emails, long_term_idle, created_at
FROM users
WHERE realm_id = $1 AND is_active = TRUE AND is_bot = FALSE AND enable_digest_emails = TRUE
ORDER BY id
`, realmID)
	metrics.ObserveNetworkRequest("postgres", "users_digest_candidates", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanUsers(rows)
}

// LastVisits возвращает время последней активности по пользователям организации.
func (p *Postgres) LastVisits(realmID int64) (map[int64]time.Time, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT ua.user_id, MAX(ua.last_visit)
FROM user_activity ua
JOIN users u ON u.id = ua.user_id
WHERE u.realm_id = $1
GROUP BY ua.user_id
`, realmID)
	metrics.ObserveNetworkRequest("postgres", "user_activity_last_visits", "user_activity", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	visits := make(map[int64]time.Time)
	for rows.Next() {
		var userID int64
		var lastVisit time.Time
		if err := rows.Scan(&userID, &lastVisit); err != nil {
			return nil, err
		}
		visits[userID] = lastVisit
	}
	return visits, rows.Err()
}

// ListRecipients возвращает пользователей по списку идентификаторов.
func (p *Postgres) ListRecipients(userIDs []int64) ([]domain.User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, realm_id, email, full_name, is_active, is_bot, is_guest, enable_digest_emails, long_term_idle, created_at
FROM users
WHERE id = ANY($1)
ORDER BY id
`, userIDs)
	metrics.ObserveNetworkRequest("postgres", "users_by_ids", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanUsers(rows)
}

// ListSubscribedStreamIDs реализует domain.StreamRepo.
func (p *Postgres) ListSubscribedStreamIDs(userID int64) ([]int64, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT sub.stream_id
FROM subscriptions sub
JOIN streams st ON st.id = sub.stream_id
WHERE sub.user_id = $1 AND sub.active = TRUE AND st.deactivated = FALSE
ORDER BY sub.stream_id
`, userID)
	metrics.ObserveNetworkRequest("postgres", "subscriptions_list", "subscriptions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListNewStreams возвращает видимые каналы, созданные после createdAfter.
func (p *Postgres) ListNewStreams(realmID int64, createdAfter time.Time, webPublicOnly bool) ([]domain.Stream, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	query := `
SELECT id, realm_id, name, invite_only, is_web_public, deactivated, created_at
FROM streams
WHERE realm_id = $1 AND deactivated = FALSE AND invite_only = FALSE AND created_at > $2
`
	if webPublicOnly {
		query += " AND is_web_public = TRUE"
	}
	query += " ORDER BY created_at, id"

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, realmID, createdAfter)
	metrics.ObserveNetworkRequest("postgres", "streams_new", "streams", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var streams []domain.Stream
	for rows.Next() {
		var stream domain.Stream
		if err := rows.Scan(&stream.ID, &stream.RealmID, &stream.Name, &stream.InviteOnly, &stream.IsWebPublic, &stream.Deactivated, &stream.CreatedAt); err != nil {
			return nil, err
		}
		streams = append(streams, stream)
	}
	return streams, rows.Err()
}

// ListStreamMessages реализует domain.MessageRepo.
func (p *Postgres) ListStreamMessages(streamIDs []int64, since time.Time) ([]domain.Message, error) {
	if len(streamIDs) == 0 {
		return nil, nil
	}

	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT m.id, m.stream_id, st.name, m.topic, m.sender_id, u.full_name, m.content, m.sent_at, m.client_name
FROM messages m
JOIN streams st ON st.id = m.stream_id
JOIN users u ON u.id = m.sender_id
WHERE m.stream_id = ANY($1) AND m.sent_at > $2
ORDER BY m.sent_at, m.id
`, streamIDs, since)
	metrics.ObserveNetworkRequest("postgres", "messages_since", "messages", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(&msg.ID, &msg.StreamID, &msg.StreamName, &msg.Topic, &msg.SenderID, &msg.SenderName, &msg.Content, &msg.SentAt, &msg.ClientName); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// RecentlyModifiedStreamIDs реализует domain.AuditRepo.
func (p *Postgres) RecentlyModifiedStreamIDs(userID int64, threshold time.Time) (map[int64]struct{}, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT DISTINCT stream_id
FROM stream_events
WHERE user_id = $1 AND occurred_at > $2 AND event_type = ANY($3)
`, userID, threshold, []string{
		string(domain.StreamEventSubscribed),
		string(domain.StreamEventUnsubscribed),
		string(domain.StreamEventResubscribed),
	})
	metrics.ObserveNetworkRequest("postgres", "stream_events_recent", "stream_events", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// AcquireDigestRun помечает пару пользователь/срез; при конфликте возвращает false.
func (p *Postgres) AcquireDigestRun(userID int64, cutoff time.Time) (bool, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
INSERT INTO digest_runs (user_id, cutoff)
VALUES ($1, $2)
ON CONFLICT (user_id, cutoff) DO NOTHING
`, userID, cutoff)
	metrics.ObserveNetworkRequest("postgres", "digest_runs_acquire", "digest_runs", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CreateUnsubscribeKey реализует domain.ConfirmationRepo.
func (p *Postgres) CreateUnsubscribeKey(userID int64) (string, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	key := uuid.NewString()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO confirmations (key, user_id, kind)
VALUES ($1, $2, 'digest')
`, key, userID)
	metrics.ObserveNetworkRequest("postgres", "confirmations_insert", "confirmations", start, err)
	if err != nil {
		return "", err
	}
	return key, nil
}

func scanUsers(rows pgx.Rows) ([]domain.User, error) {
	var users []domain.User
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(&user.ID, &user.RealmID, &user.Email, &user.FullName, &user.IsActive, &user.IsBot, &user.IsGuest, &user.EnableDigestEmails, &user.LongTermIdle, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}
