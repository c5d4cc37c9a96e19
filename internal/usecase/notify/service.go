package notify

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"coupure-alert/internal/domain"
	"coupure-alert/internal/infra/metrics"
)

// Состояния одной рассылки. Переходы только вперёд, повторов нет.
type dispatchState string

const (
	stateIdle      dispatchState = "idle"
	stateResolving dispatchState = "resolving"
	stateBatching  dispatchState = "batching"
	stateSending   dispatchState = "sending"
	stateDone      dispatchState = "done"
)

const dedupeTTL = 24 * time.Hour

// Service выполняет рассылку push-уведомлений по новому отчёту: находит
// адресатов, режет их на пачки и отправляет шлюзу. Сбои доставки логируются
// и никогда не влияют на создание отчёта.
type Service struct {
	profiles   domain.ProfileRepo
	sender     domain.PushSender
	cache      domain.Cache
	log        zerolog.Logger
	batchSize  int
	validToken func(string) bool
}

var _ domain.ReportNotifier = (*Service)(nil)

// NewService создаёт сервис рассылки. cache может быть nil, тогда защита от
// повторной рассылки по одному отчёту отключена. validToken проверяет формат
// push-токена устройства.
func NewService(profiles domain.ProfileRepo, sender domain.PushSender, cache domain.Cache, logger zerolog.Logger, batchSize int, validToken func(string) bool) *Service {
	if batchSize <= 0 {
		batchSize = 100
	}
	if validToken == nil {
		validToken = func(token string) bool { return token != "" }
	}
	return &Service{
		profiles:   profiles,
		sender:     sender,
		cache:      cache,
		log:        logger,
		batchSize:  batchSize,
		validToken: validToken,
	}
}

// Resolve вычисляет множество адресатов для отчёта. Хранилище отвечает на
// единственный составной запрос равенства (город + подписка на услугу),
// принадлежность к кварталу и наличие токена проверяются здесь. Профиль без
// кварталов не получает уведомлений — пустой список не означает «все кварталы».
func (s *Service) Resolve(ctx context.Context, report domain.OutageReport) ([]domain.Recipient, error) {
	profiles, err := s.profiles.ListRecipients(ctx, report.City, report.ServiceType)
	if err != nil {
		return nil, fmt.Errorf("выборка профилей: %w", err)
	}
	var recipients []domain.Recipient
	for _, profile := range profiles {
		if !s.validToken(profile.PushToken) {
			continue
		}
		if !slices.Contains(profile.Neighborhoods, report.Neighborhood) {
			continue
		}
		recipients = append(recipients, domain.Recipient{UserID: profile.ID, PushToken: profile.PushToken})
	}
	return recipients, nil
}

// Dispatch выполняет полную рассылку по отчёту. Сбой одной пачки не мешает
// остальным; ошибка возвращается только при невозможности найти адресатов.
func (s *Service) Dispatch(ctx context.Context, report domain.OutageReport) error {
	log := s.log.With().Str("report", report.ID).Logger()
	started := time.Now()

	state := stateIdle
	transition := func(next dispatchState) {
		log.Debug().Str("from", string(state)).Str("to", string(next)).Msg("notify: переход состояния")
		state = next
	}

	transition(stateResolving)
	recipients, err := s.Resolve(ctx, report)
	if err != nil {
		return fmt.Errorf("поиск адресатов: %w", err)
	}
	metrics.NotifyRecipients.Observe(float64(len(recipients)))
	if len(recipients) == 0 {
		transition(stateDone)
		return nil
	}

	transition(stateBatching)
	tokens := make([]string, 0, len(recipients))
	discarded := 0
	for _, r := range recipients {
		if !s.validToken(r.PushToken) {
			discarded++
			continue
		}
		tokens = append(tokens, r.PushToken)
	}
	if discarded > 0 {
		metrics.PushTokensDiscarded.Add(float64(discarded))
		log.Warn().Int("discarded", discarded).Msg("notify: токены отброшены проверкой формата")
	}

	batches := chunk(tokens, s.batchSize)
	body := fmt.Sprintf("Incident à %s (%s)", report.Neighborhood, report.ServiceType)
	for i, batch := range batches {
		transition(stateSending)
		messages := make([]domain.PushMessage, 0, len(batch))
		for _, token := range batch {
			messages = append(messages, domain.PushMessage{
				To:    token,
				Sound: "default",
				Title: "🚨 Nouvelle alerte",
				Body:  body,
				Data:  map[string]string{"reportId": report.ID},
			})
		}
		tickets, err := s.sender.SendBatch(ctx, messages)
		if err != nil {
			metrics.PushBatchErrors.Inc()
			log.Error().Err(err).Int("batch", i).Int("size", len(batch)).Msg("notify: пачка не доставлена")
			continue
		}
		for j, ticket := range tickets {
			if ticket.Status == "ok" {
				continue
			}
			metrics.PushTicketErrors.Inc()
			log.Warn().Int("batch", i).Int("message", j).
				Str("status", ticket.Status).Str("detail", ticket.Message).
				Msg("notify: сообщение отклонено шлюзом")
		}
	}

	transition(stateDone)
	metrics.NotifyDispatchSeconds.Observe(time.Since(started).Seconds())
	return nil
}

// DispatchOnce выполняет рассылку не более одного раза на отчёт: повторная
// доставка той же задачи (например, из очереди at-least-once) гасится по
// ключу в кэше. Без кэша защита отключена и вызов эквивалентен Dispatch.
func (s *Service) DispatchOnce(ctx context.Context, report domain.OutageReport) error {
	run := func() error {
		// Ошибка рассылки не возвращается: иначе Once снял бы ключ и
		// открыл дорогу повтору, а повторов по контракту нет.
		if err := s.Dispatch(ctx, report); err != nil {
			s.log.Error().Err(err).Str("report", report.ID).Msg("notify: рассылка не выполнена")
		}
		return nil
	}
	if s.cache == nil {
		return run()
	}
	if err := s.cache.Once("notify:report:"+report.ID, dedupeTTL, run); err != nil {
		s.log.Error().Err(err).Str("report", report.ID).Msg("notify: защита от повтора недоступна")
		return run()
	}
	return nil
}

// ReportCreated запускает рассылку отдельной задачей после подтверждения
// записи отчёта. Вызывающий код не ждёт завершения и не видит ошибок.
func (s *Service) ReportCreated(report domain.OutageReport) {
	go func() {
		_ = s.DispatchOnce(context.Background(), report)
	}()
}

func chunk(tokens []string, size int) [][]string {
	if size <= 0 || len(tokens) == 0 {
		return nil
	}
	batches := make([][]string, 0, (len(tokens)+size-1)/size)
	for start := 0; start < len(tokens); start += size {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}
		batches = append(batches, tokens[start:end])
	}
	return batches
}
