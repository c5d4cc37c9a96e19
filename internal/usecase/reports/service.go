package reports

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"coupure-alert/internal/domain"
	"coupure-alert/internal/infra/metrics"
)

// Service реализует бизнес-логику отчётов об отключениях: валидацию, доступ
// владельца, упорядоченные выборки и живые подписки на ленту. Запись отчёта
// подтверждается вызывающему коду сразу после сохранения; рассылка
// уведомлений и обновление подписок на неё не влияют.
type Service struct {
	repo     domain.ReportRepo
	notifier domain.ReportNotifier
	log      zerolog.Logger
	limit    int

	registry *registry
}

// NewService создаёт сервис отчётов. notifier может быть nil, тогда создание
// отчёта не запускает рассылку.
func NewService(repo domain.ReportRepo, notifier domain.ReportNotifier, logger zerolog.Logger, defaultLimit int) *Service {
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		log:      logger,
		limit:    defaultLimit,
		registry: newRegistry(),
	}
}

func validateReport(report domain.OutageReport) error {
	if report.UserID == "" || report.City == "" || report.Neighborhood == "" {
		return domain.ErrInvalidInput
	}
	if !report.ServiceType.Valid() {
		return fmt.Errorf("%w: неизвестный тип услуги %q", domain.ErrInvalidInput, report.ServiceType)
	}
	if !report.Status.Valid() {
		return fmt.Errorf("%w: неизвестный статус %q", domain.ErrInvalidInput, report.Status)
	}
	return nil
}

// Create валидирует и сохраняет отчёт. Успех отражает только запись в
// хранилище: рассылка стартует отдельной задачей уже после подтверждения.
func (s *Service) Create(ctx context.Context, report domain.OutageReport) (domain.OutageReport, error) {
	if err := validateReport(report); err != nil {
		return domain.OutageReport{}, err
	}
	saved, err := s.repo.CreateReport(ctx, report)
	if err != nil {
		return domain.OutageReport{}, err
	}
	metrics.ReportsCreatedTotal.Inc()

	if s.notifier != nil {
		s.notifier.ReportCreated(saved)
	}
	s.registry.kickMatching(saved)
	return saved, nil
}

// Get возвращает отчёт по идентификатору. Отсутствие документа не ошибка.
func (s *Service) Get(ctx context.Context, id string) (domain.OutageReport, bool, error) {
	return s.repo.GetReport(ctx, id)
}

// Update применяет исправление владельца: менять можно только статус и
// описание.
func (s *Service) Update(ctx context.Context, id, callerID string, patch domain.ReportPatch) (domain.OutageReport, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return domain.OutageReport{}, fmt.Errorf("%w: неизвестный статус %q", domain.ErrInvalidInput, *patch.Status)
	}
	current, found, err := s.repo.GetReport(ctx, id)
	if err != nil {
		return domain.OutageReport{}, err
	}
	if !found {
		return domain.OutageReport{}, domain.ErrNotFound
	}
	if current.UserID != callerID {
		return domain.OutageReport{}, domain.ErrForbidden
	}
	before, after, found, err := s.repo.UpdateReport(ctx, id, patch)
	if err != nil {
		return domain.OutageReport{}, err
	}
	if !found {
		return domain.OutageReport{}, domain.ErrNotFound
	}
	// Отчёт мог уйти из одного фильтра и попасть в другой: будим оба среза.
	s.registry.kickMatching(before)
	s.registry.kickMatching(after)
	return after, nil
}

// Delete удаляет отчёт владельца.
func (s *Service) Delete(ctx context.Context, id, callerID string) error {
	current, found, err := s.repo.GetReport(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrNotFound
	}
	if current.UserID != callerID {
		return domain.ErrForbidden
	}
	before, found, err := s.repo.DeleteReport(ctx, id)
	if err != nil {
		return err
	}
	if found {
		s.registry.kickMatching(before)
	}
	return nil
}

// Query возвращает отчёты по фильтрам равенства, новые первыми.
func (s *Service) Query(ctx context.Context, filter domain.ReportFilter, limit int) ([]domain.OutageReport, error) {
	if limit <= 0 {
		limit = s.limit
	}
	return s.repo.QueryReports(ctx, filter, limit)
}

// ListMine возвращает отчёты пользователя.
func (s *Service) ListMine(ctx context.Context, userID string) ([]domain.OutageReport, error) {
	return s.repo.ListUserReports(ctx, userID)
}

// Subscribe открывает живую подписку на ленту отчётов: подписчик сразу
// получает текущий результат фильтра, затем полный пересчитанный снапшот
// после каждой затрагивающей фильтр записи.
func (s *Service) Subscribe(filter domain.ReportFilter, limit int, consumer func(domain.ReportSnapshot)) *Subscription {
	if limit <= 0 {
		limit = s.limit
	}
	return s.registry.add(s.repo, filter, limit, consumer, s.log)
}
