package digest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chat-digest-mailer/internal/domain"
)

// aTuesday — фиксированный вторник для проверки дня недели.
var aTuesday = time.Date(2016, 1, 5, 10, 0, 0, 0, time.UTC)

type stubStore struct {
	realms     []domain.Realm
	users      map[int64]domain.User
	candidates map[int64][]domain.User
	visits     map[int64]map[int64]time.Time
	subscribed map[int64][]int64
	streams    []domain.Stream
	messages   []domain.Message
	recent     map[int64]struct{}

	lastWebPublicOnly bool
}

func (s *stubStore) GetRealm(realmID int64) (domain.Realm, error) {
	for _, realm := range s.realms {
		if realm.ID == realmID {
			return realm, nil
		}
	}
	return domain.Realm{}, errors.New("организация не найдена")
}

func (s *stubStore) ListDigestRealms() ([]domain.Realm, error) { return s.realms, nil }

func (s *stubStore) GetUser(userID int64) (domain.User, error) {
	user, ok := s.users[userID]
	if !ok {
		return domain.User{}, errors.New("пользователь не найден")
	}
	return user, nil
}

func (s *stubStore) ListDigestCandidates(realmID int64) ([]domain.User, error) {
	return s.candidates[realmID], nil
}

func (s *stubStore) LastVisits(realmID int64) (map[int64]time.Time, error) {
	return s.visits[realmID], nil
}

func (s *stubStore) ListRecipients(userIDs []int64) ([]domain.User, error) {
	var out []domain.User
	for _, id := range userIDs {
		if user, ok := s.users[id]; ok {
			out = append(out, user)
		}
	}
	return out, nil
}

func (s *stubStore) ListSubscribedStreamIDs(userID int64) ([]int64, error) {
	return s.subscribed[userID], nil
}

func (s *stubStore) ListNewStreams(realmID int64, createdAfter time.Time, webPublicOnly bool) ([]domain.Stream, error) {
	s.lastWebPublicOnly = webPublicOnly
	var out []domain.Stream
	for _, stream := range s.streams {
		if stream.RealmID != realmID || !stream.CreatedAt.After(createdAfter) {
			continue
		}
		if webPublicOnly && !stream.IsWebPublic {
			continue
		}
		out = append(out, stream)
	}
	return out, nil
}

func (s *stubStore) ListStreamMessages(streamIDs []int64, since time.Time) ([]domain.Message, error) {
	allowed := make(map[int64]struct{}, len(streamIDs))
	for _, id := range streamIDs {
		allowed[id] = struct{}{}
	}
	var out []domain.Message
	for _, msg := range s.messages {
		if _, ok := allowed[msg.StreamID]; !ok {
			continue
		}
		if !msg.SentAt.After(since) {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *stubStore) RecentlyModifiedStreamIDs(int64, time.Time) (map[int64]struct{}, error) {
	return s.recent, nil
}

func (s *stubStore) CreateUnsubscribeKey(userID int64) (string, error) {
	return fmt.Sprintf("unsub-%d", userID), nil
}

type stubRuns struct {
	seen map[string]struct{}
}

func (r *stubRuns) AcquireDigestRun(userID int64, cutoff time.Time) (bool, error) {
	if r.seen == nil {
		r.seen = make(map[string]struct{})
	}
	key := fmt.Sprintf("%d:%d", userID, cutoff.Unix())
	if _, ok := r.seen[key]; ok {
		return false, nil
	}
	r.seen[key] = struct{}{}
	return true, nil
}

type stubJobQueue struct {
	jobs []domain.DigestJob
}

func (q *stubJobQueue) Enqueue(_ context.Context, job domain.DigestJob) error {
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *stubJobQueue) Pop(context.Context) (domain.DigestJob, error) {
	return domain.DigestJob{}, errors.New("очередь пуста")
}

type stubEmailQueue struct {
	emails []domain.ScheduledEmail
}

func (q *stubEmailQueue) Enqueue(_ context.Context, email domain.ScheduledEmail) error {
	q.emails = append(q.emails, email)
	return nil
}

func (q *stubEmailQueue) Pop(context.Context) (domain.ScheduledEmail, error) {
	return domain.ScheduledEmail{}, errors.New("очередь пуста")
}

func newTestService(store *stubStore, runs domain.DigestRunRepo, jobs domain.DigestQueue, emails domain.EmailQueue, enabled bool) *Service {
	svc := NewService(store, store, store, store, store, runs, store, jobs, emails, nil, zerolog.Nop(), Config{
		Enabled:        enabled,
		Weekday:        time.Tuesday,
		ExternalScheme: "http",
	})
	svc.now = func() time.Time { return aTuesday }
	return svc
}

func defaultStore() *stubStore {
	realm := domain.Realm{ID: 1, Name: "Эльсинор", Host: "chat.example.com", DigestEmailsEnabled: true}
	return &stubStore{
		realms: []domain.Realm{realm},
		users: map[int64]domain.User{
			42: {ID: 42, RealmID: 1, Email: "othello@example.com", FullName: "Othello", IsActive: true, EnableDigestEmails: true},
		},
		candidates: map[int64][]domain.User{},
		visits:     map[int64]map[int64]time.Time{},
		subscribed: map[int64][]int64{},
	}
}

func TestEnqueueDigestsInactiveUsers(t *testing.T) {
	cutoff := aTuesday.Add(-time.Hour)
	store := defaultStore()
	store.candidates[1] = []domain.User{
		{ID: 1, RealmID: 1, IsActive: true, EnableDigestEmails: true}, // без записей активности
		{ID: 2, RealmID: 1, IsActive: true, EnableDigestEmails: true},
		{ID: 3, RealmID: 1, IsActive: true, EnableDigestEmails: true},
	}
	store.visits[1] = map[int64]time.Time{
		2: cutoff.Add(-24 * time.Hour), // неактивен
		3: cutoff.Add(24 * time.Hour),  // активен
	}

	jobs := &stubJobQueue{}
	svc := newTestService(store, nil, jobs, &stubEmailQueue{}, true)

	enqueued, err := svc.EnqueueDigests(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if enqueued != 2 || len(jobs.jobs) != 2 {
		t.Fatalf("ожидали 2 задачи, получили %d", len(jobs.jobs))
	}
	if jobs.jobs[0].UserID != 1 || jobs.jobs[1].UserID != 2 {
		t.Fatalf("неожиданные пользователи в очереди: %+v", jobs.jobs)
	}
	if jobs.jobs[0].ID == "" {
		t.Fatalf("ожидали идентификатор задачи")
	}
}

func TestEnqueueDigestsWrongWeekday(t *testing.T) {
	cutoff := aTuesday.Add(-time.Hour)
	store := defaultStore()
	store.candidates[1] = []domain.User{{ID: 1, RealmID: 1, IsActive: true, EnableDigestEmails: true}}

	jobs := &stubJobQueue{}
	svc := newTestService(store, nil, jobs, &stubEmailQueue{}, true)
	svc.now = func() time.Time { return aTuesday.Add(24 * time.Hour) } // среда

	enqueued, err := svc.EnqueueDigests(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if enqueued != 0 || len(jobs.jobs) != 0 {
		t.Fatalf("в другой день недели задач быть не должно, получили %d", len(jobs.jobs))
	}
}

func TestEnqueueDigestsDisabled(t *testing.T) {
	store := defaultStore()
	store.candidates[1] = []domain.User{{ID: 1, RealmID: 1, IsActive: true, EnableDigestEmails: true}}

	jobs := &stubJobQueue{}
	svc := newTestService(store, nil, jobs, &stubEmailQueue{}, false)

	enqueued, err := svc.EnqueueDigests(context.Background(), aTuesday.Add(-time.Hour))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if enqueued != 0 {
		t.Fatalf("при выключенных дайджестах задач быть не должно")
	}
}

func TestEnqueueDigestsSkipsBots(t *testing.T) {
	store := defaultStore()
	store.candidates[1] = []domain.User{
		{ID: 1, RealmID: 1, IsActive: true, EnableDigestEmails: true},
		{ID: 2, RealmID: 1, IsActive: true, EnableDigestEmails: true, IsBot: true},
	}

	jobs := &stubJobQueue{}
	svc := newTestService(store, nil, jobs, &stubEmailQueue{}, true)

	if _, err := svc.EnqueueDigests(context.Background(), aTuesday.Add(-time.Hour)); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	for _, job := range jobs.jobs {
		if job.UserID == 2 {
			t.Fatalf("бот не должен получать дайджест")
		}
	}
	if len(jobs.jobs) != 1 {
		t.Fatalf("ожидали 1 задачу, получили %d", len(jobs.jobs))
	}
}

func TestEnqueueDigestsSkipsDeactivatedRealms(t *testing.T) {
	store := defaultStore()
	store.realms = []domain.Realm{
		{ID: 1, Name: "живая", DigestEmailsEnabled: true},
		{ID: 2, Name: "мёртвая", DigestEmailsEnabled: true, Deactivated: true},
		{ID: 3, Name: "без дайджестов"},
	}
	store.candidates[1] = []domain.User{{ID: 1, RealmID: 1, IsActive: true, EnableDigestEmails: true}}
	store.candidates[2] = []domain.User{{ID: 2, RealmID: 2, IsActive: true, EnableDigestEmails: true}}
	store.candidates[3] = []domain.User{{ID: 3, RealmID: 3, IsActive: true, EnableDigestEmails: true}}

	jobs := &stubJobQueue{}
	svc := newTestService(store, nil, jobs, &stubEmailQueue{}, true)

	if _, err := svc.EnqueueDigests(context.Background(), aTuesday.Add(-time.Hour)); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(jobs.jobs) != 1 || jobs.jobs[0].UserID != 1 {
		t.Fatalf("ожидали задачу только для живой организации, получили %+v", jobs.jobs)
	}
}

func TestHandleDigestSendsEmail(t *testing.T) {
	cutoff := aTuesday.Add(-time.Hour)
	store := defaultStore()
	store.subscribed[42] = []int64{1}
	store.messages = streamConversation(1, "lunch", []string{"hamlet", "cordelia", "iago", "prospero", "zoe"})
	for i := range store.messages {
		store.messages[i].SentAt = cutoff.Add(time.Duration(i+1) * time.Minute)
	}

	emails := &stubEmailQueue{}
	svc := newTestService(store, nil, &stubJobQueue{}, emails, true)

	if err := svc.HandleDigest(context.Background(), 42, cutoff); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(emails.emails) != 1 {
		t.Fatalf("ожидали 1 письмо, получили %d", len(emails.emails))
	}

	email := emails.emails[0]
	if len(email.ToUserIDs) != 1 || email.ToUserIDs[0] != 42 {
		t.Fatalf("письмо адресовано не тому: %v", email.ToUserIDs)
	}
	if email.Template != "digest" {
		t.Fatalf("ожидали шаблон digest, получили %q", email.Template)
	}
	if len(email.Context.HotConversations) != 1 {
		t.Fatalf("ожидали 1 горячую беседу, получили %d", len(email.Context.HotConversations))
	}
	if email.Context.HotConversations[0].MessageCount != 3 {
		t.Fatalf("ожидали счётчик 3, получили %d", email.Context.HotConversations[0].MessageCount)
	}
	if !strings.Contains(email.Context.UnsubscribeURL, "unsub-42") {
		t.Fatalf("ожидали ссылку отписки, получили %q", email.Context.UnsubscribeURL)
	}
	if !strings.HasPrefix(email.Context.UnsubscribeURL, "http://chat.example.com/") {
		t.Fatalf("ссылка отписки должна вести на хост организации: %q", email.Context.UnsubscribeURL)
	}
}

func TestHandleDigestSuppressedWithoutTraffic(t *testing.T) {
	store := defaultStore()
	emails := &stubEmailQueue{}
	svc := newTestService(store, nil, &stubJobQueue{}, emails, true)

	if err := svc.HandleDigest(context.Background(), 42, aTuesday.Add(-time.Hour)); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(emails.emails) != 0 {
		t.Fatalf("без трафика письмо не отправляется, получили %d", len(emails.emails))
	}
}

func TestHandleDigestAtMostOncePerCutoff(t *testing.T) {
	cutoff := aTuesday.Add(-time.Hour)
	store := defaultStore()
	store.subscribed[42] = []int64{1}
	store.messages = streamConversation(1, "lunch", []string{"hamlet", "cordelia", "iago"})
	for i := range store.messages {
		store.messages[i].SentAt = cutoff.Add(time.Duration(i+1) * time.Minute)
	}

	emails := &stubEmailQueue{}
	svc := newTestService(store, &stubRuns{}, &stubJobQueue{}, emails, true)

	if err := svc.HandleDigest(context.Background(), 42, cutoff); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := svc.HandleDigest(context.Background(), 42, cutoff); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(emails.emails) != 1 {
		t.Fatalf("повторный вызов не должен отправлять второе письмо, получили %d", len(emails.emails))
	}
}

func TestBuildContextExcludesRecentlyJoinedStreams(t *testing.T) {
	cutoff := aTuesday.Add(-time.Hour)
	store := defaultStore()
	store.subscribed[42] = []int64{1}
	store.recent = map[int64]struct{}{1: {}}
	store.messages = streamConversation(1, "lunch", []string{"hamlet", "cordelia", "iago"})
	for i := range store.messages {
		store.messages[i].SentAt = cutoff.Add(time.Duration(i+1) * time.Minute)
	}

	svc := newTestService(store, nil, &stubJobQueue{}, &stubEmailQueue{}, true)
	digestCtx, _, err := svc.BuildContext(42, cutoff)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(digestCtx.HotConversations) != 0 {
		t.Fatalf("канал со свежей подпиской не должен давать бесед, получили %d", len(digestCtx.HotConversations))
	}
}

func TestBuildContextNewStreams(t *testing.T) {
	cutoff := time.Date(2017, 11, 1, 0, 0, 0, 0, time.UTC)
	store := defaultStore()
	store.streams = []domain.Stream{
		{ID: 5, RealmID: 1, Name: "New stream", CreatedAt: cutoff.Add(48 * time.Hour)},
		{ID: 6, RealmID: 1, Name: "old stream", CreatedAt: cutoff.Add(-48 * time.Hour)},
	}

	svc := newTestService(store, nil, &stubJobQueue{}, &stubEmailQueue{}, true)
	digestCtx, _, err := svc.BuildContext(42, cutoff)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(digestCtx.NewStreams) != 1 {
		t.Fatalf("ожидали 1 новый канал, получили %d", len(digestCtx.NewStreams))
	}
	want := "http://chat.example.com/#narrow/stream/5-New-stream"
	if digestCtx.NewStreams[0].URL != want {
		t.Fatalf("ожидали ссылку %q, получили %q", want, digestCtx.NewStreams[0].URL)
	}
}

func TestBuildContextGuestSeesOnlyWebPublic(t *testing.T) {
	cutoff := aTuesday.Add(-time.Hour)
	store := defaultStore()
	guest := store.users[42]
	guest.IsGuest = true
	store.users[42] = guest
	store.streams = []domain.Stream{
		{ID: 5, RealmID: 1, Name: "internal", CreatedAt: cutoff.Add(time.Hour)},
		{ID: 6, RealmID: 1, Name: "open to all", IsWebPublic: true, CreatedAt: cutoff.Add(time.Hour)},
	}

	svc := newTestService(store, nil, &stubJobQueue{}, &stubEmailQueue{}, true)
	digestCtx, _, err := svc.BuildContext(42, cutoff)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !store.lastWebPublicOnly {
		t.Fatalf("для гостя должна запрашиваться только веб-публичная выборка")
	}
	if len(digestCtx.NewStreams) != 1 || digestCtx.NewStreams[0].Name != "open to all" {
		t.Fatalf("гость должен видеть только веб-публичные каналы, получили %+v", digestCtx.NewStreams)
	}
}
