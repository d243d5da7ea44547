package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-digest-mailer/internal/domain"
	"chat-digest-mailer/internal/infra/metrics"
)

// inactivityGrace — запас к срезу при вычислении неактивности пользователя.
const inactivityGrace = 24 * time.Hour

// enqueueDedupTTL — время жизни ключа идемпотентности постановки задачи.
const enqueueDedupTTL = 48 * time.Hour

// Config задаёт параметры построения дайджестов.
type Config struct {
	Enabled          bool
	Weekday          time.Weekday
	MaxConversations int
	TeaserMessages   int
	ExternalScheme   string
}

// Service реализует отбор кандидатов и сборку письма-дайджеста.
type Service struct {
	realms        domain.RealmRepo
	users         domain.UserRepo
	streams       domain.StreamRepo
	messages      domain.MessageRepo
	audit         domain.AuditRepo
	runs          domain.DigestRunRepo
	confirmations domain.ConfirmationRepo
	jobs          domain.DigestQueue
	emails        domain.EmailQueue
	cache         domain.Cache
	log           zerolog.Logger
	cfg           Config

	// now подменяется в тестах для проверки дня недели.
	now func() time.Time
}

// NewService создаёт сервис дайджестов. cache и runs могут быть nil —
// тогда соответствующий уровень идемпотентности пропускается.
func NewService(realms domain.RealmRepo, users domain.UserRepo, streams domain.StreamRepo, messages domain.MessageRepo, audit domain.AuditRepo, runs domain.DigestRunRepo, confirmations domain.ConfirmationRepo, jobs domain.DigestQueue, emails domain.EmailQueue, cache domain.Cache, logger zerolog.Logger, cfg Config) *Service {
	if cfg.MaxConversations <= 0 {
		cfg.MaxConversations = 4
	}
	if cfg.TeaserMessages <= 0 {
		cfg.TeaserMessages = 2
	}
	if cfg.ExternalScheme == "" {
		cfg.ExternalScheme = "https"
	}
	return &Service{
		realms:        realms,
		users:         users,
		streams:       streams,
		messages:      messages,
		audit:         audit,
		runs:          runs,
		confirmations: confirmations,
		jobs:          jobs,
		emails:        emails,
		cache:         cache,
		log:           logger,
		cfg:           cfg,
		now:           time.Now,
	}
}

// EnqueueDigests отбирает неактивных пользователей и ставит по задаче на каждого.
// Возвращает количество поставленных задач. Запускается только в настроенный
// день недели; боты, деактивированные организации и активные пользователи
// никогда не попадают в очередь.
func (s *Service) EnqueueDigests(ctx context.Context, cutoff time.Time) (int, error) {
	if !s.cfg.Enabled {
		return 0, nil
	}
	if s.now().Weekday() != s.cfg.Weekday {
		return 0, nil
	}

	realms, err := s.realms.ListDigestRealms()
	if err != nil {
		return 0, fmt.Errorf("выборка организаций: %w", err)
	}

	threshold := cutoff.Add(-inactivityGrace)
	total := 0
	for _, realm := range realms {
		if realm.Deactivated || !realm.DigestEmailsEnabled {
			continue
		}
		candidates, err := s.users.ListDigestCandidates(realm.ID)
		if err != nil {
			return total, fmt.Errorf("кандидаты организации %s: %w", realm.Name, err)
		}
		visits, err := s.users.LastVisits(realm.ID)
		if err != nil {
			return total, fmt.Errorf("активность организации %s: %w", realm.Name, err)
		}
		for _, user := range candidates {
			if user.IsBot || !user.IsActive || !user.EnableDigestEmails {
				continue
			}
			if last, ok := visits[user.ID]; ok && last.After(threshold) {
				continue
			}
			if err := s.enqueueUser(ctx, realm, user, cutoff); err != nil {
				s.log.Error().Err(err).Int64("user", user.ID).Msg("digest: не удалось поставить задачу")
				continue
			}
			total++
		}
	}
	return total, nil
}

func (s *Service) enqueueUser(ctx context.Context, realm domain.Realm, user domain.User, cutoff time.Time) error {
	enqueue := func() error {
		job := domain.DigestJob{
			ID:          uuid.NewString(),
			UserID:      user.ID,
			RealmID:     realm.ID,
			Cutoff:      cutoff,
			RequestedAt: s.now().UTC(),
		}
		if err := s.jobs.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("постановка задачи: %w", err)
		}
		metrics.IncDigestEnqueued()
		return nil
	}
	if s.cache == nil {
		return enqueue()
	}
	key := fmt.Sprintf("digest:enqueue:%d:%d", user.ID, cutoff.Unix())
	return s.cache.Once(key, enqueueDedupTTL, enqueue)
}

// HandleDigest строит дайджест пользователя за срез и ставит письмо в очередь
// отправки. Повторный вызов с той же парой пользователь/срез ничего не делает.
// Письмо не отправляется, если в нём нет ни горячих бесед, ни новых каналов.
func (s *Service) HandleDigest(ctx context.Context, userID int64, cutoff time.Time) error {
	if s.runs != nil {
		acquired, err := s.runs.AcquireDigestRun(userID, cutoff)
		if err != nil {
			return fmt.Errorf("захват дайджеста: %w", err)
		}
		if !acquired {
			s.log.Debug().Int64("user", userID).Msg("digest: уже обработан для этого среза")
			return nil
		}
	}

	start := time.Now()
	digestCtx, user, err := s.BuildContext(userID, cutoff)
	metrics.ObserveDigestBuild(start, err)
	if err != nil {
		return err
	}

	if !digestCtx.HasContent() {
		metrics.IncDigestSuppressed()
		s.log.Debug().Int64("user", userID).Msg("digest: недостаточно трафика, письмо не отправлено")
		return nil
	}

	email := domain.ScheduledEmail{
		ID:        uuid.NewString(),
		Template:  "digest",
		RealmID:   user.RealmID,
		ToUserIDs: []int64{user.ID},
		Context:   digestCtx,
	}
	if err := s.emails.Enqueue(ctx, email); err != nil {
		return fmt.Errorf("очередь писем: %w", err)
	}
	return nil
}

// BulkHandleDigests обрабатывает пакет пользователей за один срез.
func (s *Service) BulkHandleDigests(ctx context.Context, userIDs []int64, cutoff time.Time) error {
	for _, userID := range userIDs {
		if err := s.HandleDigest(ctx, userID, cutoff); err != nil {
			s.log.Error().Err(err).Int64("user", userID).Msg("digest: ошибка обработки")
		}
	}
	return nil
}

// BuildContext собирает контекст письма: горячие беседы, новые каналы и
// ссылку отписки. Каналы, на которые пользователь подписался позже среза,
// в горячие беседы не попадают.
func (s *Service) BuildContext(userID int64, cutoff time.Time) (domain.DigestContext, domain.User, error) {
	user, err := s.users.GetUser(userID)
	if err != nil {
		return domain.DigestContext{}, domain.User{}, fmt.Errorf("получение пользователя: %w", err)
	}
	realm, err := s.realms.GetRealm(user.RealmID)
	if err != nil {
		return domain.DigestContext{}, domain.User{}, fmt.Errorf("получение организации: %w", err)
	}

	streamIDs, err := s.streams.ListSubscribedStreamIDs(user.ID)
	if err != nil {
		return domain.DigestContext{}, domain.User{}, fmt.Errorf("подписки пользователя: %w", err)
	}

	recentlyModified, err := s.audit.RecentlyModifiedStreamIDs(user.ID, cutoff)
	if err != nil {
		return domain.DigestContext{}, domain.User{}, fmt.Errorf("журнал подписок: %w", err)
	}

	var msgs []domain.Message
	if len(streamIDs) > 0 {
		msgs, err = s.messages.ListStreamMessages(streamIDs, cutoff)
		if err != nil {
			return domain.DigestContext{}, domain.User{}, fmt.Errorf("выборка сообщений: %w", err)
		}
	}

	created, err := s.streams.ListNewStreams(realm.ID, cutoff, user.IsGuest)
	if err != nil {
		return domain.DigestContext{}, domain.User{}, fmt.Errorf("новые каналы: %w", err)
	}

	realmURL := s.realmURL(realm)
	digestCtx := domain.DigestContext{
		RealmName:        realm.Name,
		HotConversations: GatherHotConversations(msgs, recentlyModified, s.cfg.MaxConversations, s.cfg.TeaserMessages),
		NewStreams:       GatherNewStreams(created, realmURL),
	}

	if s.confirmations != nil {
		key, err := s.confirmations.CreateUnsubscribeKey(user.ID)
		if err != nil {
			return domain.DigestContext{}, domain.User{}, fmt.Errorf("ключ отписки: %w", err)
		}
		digestCtx.UnsubscribeURL = fmt.Sprintf("%s/accounts/unsubscribe/digest/%s", realmURL, key)
	}

	return digestCtx, user, nil
}

func (s *Service) realmURL(realm domain.Realm) string {
	return fmt.Sprintf("%s://%s", s.cfg.ExternalScheme, strings.TrimSuffix(realm.Host, "/"))
}
