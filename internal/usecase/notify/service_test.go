package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"coupure-alert/internal/domain"
)

// stubProfiles повторяет контракт хранилища: отдаёт только профили с
// совпадающим городом и включённой подпиской на услугу.
type stubProfiles struct {
	profiles []domain.UserProfile
	err      error
}

func (s *stubProfiles) GetProfile(context.Context, string) (domain.UserProfile, bool, error) {
	return domain.UserProfile{}, false, nil
}
func (s *stubProfiles) CreateProfile(_ context.Context, p domain.UserProfile) (domain.UserProfile, error) {
	return p, nil
}
func (s *stubProfiles) UpdateProfile(context.Context, string, domain.ProfilePatch) (domain.UserProfile, bool, error) {
	return domain.UserProfile{}, false, nil
}
func (s *stubProfiles) SetPushToken(context.Context, string, string) error { return nil }
func (s *stubProfiles) ListRecipients(_ context.Context, city string, service domain.ServiceType) ([]domain.UserProfile, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.UserProfile
	for _, p := range s.profiles {
		if p.City == city && p.Preferences.For(service) {
			out = append(out, p)
		}
	}
	return out, nil
}

type sentBatch struct {
	messages []domain.PushMessage
}

type stubSender struct {
	mu      sync.Mutex
	batches []sentBatch
	failOn  map[int]error               // номер вызова → ошибка транспорта
	tickets func(int) []domain.PushTicket // статусы по номеру вызова
}

func (s *stubSender) SendBatch(_ context.Context, messages []domain.PushMessage) ([]domain.PushTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := len(s.batches)
	s.batches = append(s.batches, sentBatch{messages: messages})
	if err, ok := s.failOn[call]; ok {
		return nil, err
	}
	if s.tickets != nil {
		return s.tickets(call), nil
	}
	tickets := make([]domain.PushTicket, len(messages))
	for i := range tickets {
		tickets[i] = domain.PushTicket{Status: "ok"}
	}
	return tickets, nil
}

func token(i int) string {
	return fmt.Sprintf("ExponentPushToken[%04d]", i)
}

func anyToken(t string) bool { return t != "" }

func waterReport() domain.OutageReport {
	return domain.OutageReport{
		ID:           "rep-1",
		City:         "brazzaville",
		Neighborhood: "Bacongo",
		ServiceType:  domain.ServiceWater,
		Status:       domain.StatusOutage,
	}
}

func TestResolveTwoPhase(t *testing.T) {
	profiles := &stubProfiles{profiles: []domain.UserProfile{
		{ID: "u1", City: "brazzaville", Neighborhoods: []string{"Bacongo"}, Preferences: domain.NotificationPreferences{Water: true}, PushToken: token(1)},
		{ID: "u2", City: "brazzaville", Neighborhoods: []string{"Poto-Poto"}, Preferences: domain.NotificationPreferences{Water: true}, PushToken: token(2)},
		{ID: "u3", City: "pointe-noire", Neighborhoods: []string{"Bacongo"}, Preferences: domain.NotificationPreferences{Water: true}, PushToken: token(3)},
		{ID: "u4", City: "brazzaville", Neighborhoods: []string{"Bacongo"}, Preferences: domain.NotificationPreferences{Electricity: true}, PushToken: token(4)},
		{ID: "u5", City: "brazzaville", Neighborhoods: []string{"Bacongo"}, Preferences: domain.NotificationPreferences{Water: true}},
		{ID: "u6", City: "brazzaville", Neighborhoods: nil, Preferences: domain.NotificationPreferences{Water: true}, PushToken: token(6)},
	}}
	svc := NewService(profiles, &stubSender{}, nil, zerolog.Nop(), 100, anyToken)

	recipients, err := svc.Resolve(context.Background(), waterReport())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(recipients) != 1 {
		t.Fatalf("ожидали ровно одного адресата, получили %d", len(recipients))
	}
	if recipients[0].UserID != "u1" || recipients[0].PushToken != token(1) {
		t.Fatalf("ожидали u1, получили %+v", recipients[0])
	}
}

func TestResolveEmptyNeighborhoodsExcluded(t *testing.T) {
	// Пустой список кварталов означает «ни один квартал», а не «все».
	profiles := &stubProfiles{profiles: []domain.UserProfile{
		{ID: "u1", City: "brazzaville", Neighborhoods: []string{}, Preferences: domain.NotificationPreferences{Water: true}, PushToken: token(1)},
	}}
	svc := NewService(profiles, &stubSender{}, nil, zerolog.Nop(), 100, anyToken)

	recipients, err := svc.Resolve(context.Background(), waterReport())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(recipients) != 0 {
		t.Fatalf("ожидали пустое множество, получили %d", len(recipients))
	}
}

func makeProfiles(n int) []domain.UserProfile {
	out := make([]domain.UserProfile, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.UserProfile{
			ID:            fmt.Sprintf("u%03d", i),
			City:          "brazzaville",
			Neighborhoods: []string{"Bacongo"},
			Preferences:   domain.NotificationPreferences{Water: true},
			PushToken:     token(i),
		})
	}
	return out
}

func TestDispatchBatching(t *testing.T) {
	profiles := &stubProfiles{profiles: makeProfiles(250)}
	sender := &stubSender{}
	svc := NewService(profiles, sender, nil, zerolog.Nop(), 100, anyToken)

	if err := svc.Dispatch(context.Background(), waterReport()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	if len(sender.batches) != 3 {
		t.Fatalf("ожидали 3 вызова шлюза, получили %d", len(sender.batches))
	}
	sizes := []int{100, 100, 50}
	idx := 0
	for call, want := range sizes {
		got := len(sender.batches[call].messages)
		if got != want {
			t.Fatalf("вызов %d: ожидали %d сообщений, получили %d", call, want, got)
		}
		for _, msg := range sender.batches[call].messages {
			if msg.To != token(idx) {
				t.Fatalf("порядок токенов нарушен: позиция %d, ожидали %s, получили %s", idx, token(idx), msg.To)
			}
			idx++
		}
	}
}

func TestDispatchSingleRecipientPayload(t *testing.T) {
	profiles := &stubProfiles{profiles: makeProfiles(1)}
	sender := &stubSender{}
	svc := NewService(profiles, sender, nil, zerolog.Nop(), 100, anyToken)

	report := waterReport()
	if err := svc.Dispatch(context.Background(), report); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	if len(sender.batches) != 1 || len(sender.batches[0].messages) != 1 {
		t.Fatalf("ожидали один вызов с одним сообщением")
	}
	msg := sender.batches[0].messages[0]
	if msg.Data["reportId"] != report.ID {
		t.Fatalf("ожидали reportId %q, получили %q", report.ID, msg.Data["reportId"])
	}
	if msg.Title == "" || msg.Body == "" {
		t.Fatalf("заголовок и текст обязательны")
	}
}

func TestDispatchBatchFailureIsolated(t *testing.T) {
	profiles := &stubProfiles{profiles: makeProfiles(150)}
	sender := &stubSender{failOn: map[int]error{0: fmt.Errorf("status 500")}}
	svc := NewService(profiles, sender, nil, zerolog.Nop(), 100, anyToken)

	if err := svc.Dispatch(context.Background(), waterReport()); err != nil {
		t.Fatalf("сбой пачки не должен становиться ошибкой рассылки: %v", err)
	}
	if len(sender.batches) != 2 {
		t.Fatalf("после сбоя первой пачки должна уйти вторая, вызовов %d", len(sender.batches))
	}
	if len(sender.batches[1].messages) != 50 {
		t.Fatalf("во второй пачке ожидали 50 сообщений, получили %d", len(sender.batches[1].messages))
	}
}

func TestDispatchPartialTicketFailure(t *testing.T) {
	profiles := &stubProfiles{profiles: makeProfiles(3)}
	sender := &stubSender{tickets: func(int) []domain.PushTicket {
		return []domain.PushTicket{
			{Status: "ok"},
			{Status: "DeviceNotRegistered"},
			{Status: "ok"},
		}
	}}
	svc := NewService(profiles, sender, nil, zerolog.Nop(), 100, anyToken)

	if err := svc.Dispatch(context.Background(), waterReport()); err != nil {
		t.Fatalf("частичный отказ не должен становиться ошибкой рассылки: %v", err)
	}
}

func TestDispatchDiscardsMalformedTokens(t *testing.T) {
	profiles := &stubProfiles{profiles: []domain.UserProfile{
		{ID: "u1", City: "brazzaville", Neighborhoods: []string{"Bacongo"}, Preferences: domain.NotificationPreferences{Water: true}, PushToken: "ExponentPushToken[ok]"},
		{ID: "u2", City: "brazzaville", Neighborhoods: []string{"Bacongo"}, Preferences: domain.NotificationPreferences{Water: true}, PushToken: "garbage"},
	}}
	valid := func(token string) bool { return token == "ExponentPushToken[ok]" }
	sender := &stubSender{}
	svc := NewService(profiles, sender, nil, zerolog.Nop(), 100, valid)

	if err := svc.Dispatch(context.Background(), waterReport()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(sender.batches) != 1 || len(sender.batches[0].messages) != 1 {
		t.Fatalf("негодный токен должен быть отброшен без ошибки")
	}
}

// onceCache выполняет функцию только при первом обращении к ключу.
type onceCache struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (c *onceCache) Once(key string, _ time.Duration, fn func() error) error {
	c.mu.Lock()
	if c.seen == nil {
		c.seen = map[string]bool{}
	}
	first := !c.seen[key]
	c.seen[key] = true
	c.mu.Unlock()
	if !first {
		return nil
	}
	return fn()
}
func (c *onceCache) Set(string, []byte, time.Duration) error { return nil }
func (c *onceCache) Get(string) ([]byte, error)              { return nil, nil }

func TestDispatchOnceDeduplicates(t *testing.T) {
	profiles := &stubProfiles{profiles: makeProfiles(1)}
	sender := &stubSender{}
	svc := NewService(profiles, sender, &onceCache{}, zerolog.Nop(), 100, anyToken)

	report := waterReport()
	if err := svc.DispatchOnce(context.Background(), report); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := svc.DispatchOnce(context.Background(), report); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(sender.batches) != 1 {
		t.Fatalf("повторная задача по тому же отчёту не должна рассылаться, вызовов %d", len(sender.batches))
	}
}
