package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"coupure-alert/internal/domain"
)

// QueueNotifier кладёт задачу рассылки в очередь вместо отправки из процесса
// API. Задачу забирает воркер cmd/notifier. Ошибка постановки в очередь
// логируется и не доходит до создателя отчёта.
type QueueNotifier struct {
	queue domain.NotifyQueue
	log   zerolog.Logger
}

var _ domain.ReportNotifier = (*QueueNotifier)(nil)

// NewQueueNotifier создаёт постановщика задач.
func NewQueueNotifier(queue domain.NotifyQueue, logger zerolog.Logger) *QueueNotifier {
	return &QueueNotifier{queue: queue, log: logger}
}

// ReportCreated публикует задачу рассылки отдельной горутиной.
func (n *QueueNotifier) ReportCreated(report domain.OutageReport) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.queue.Enqueue(ctx, domain.NotifyJob{Report: report}); err != nil {
			n.log.Error().Err(err).Str("report", report.ID).Msg("notify: задача не поставлена в очередь")
		}
	}()
}
