package reports

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"coupure-alert/internal/domain"
	"coupure-alert/internal/infra/metrics"
)

// registry — единственная разделяемая структура менеджера подписок:
// отображение id → подписка под mutex. Подписки между собой состояния не
// делят.
type registry struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
}

func newRegistry() *registry {
	return &registry{subs: make(map[uint64]*Subscription)}
}

// Subscription — живой фильтрованный срез коллекции отчётов для одного
// наблюдателя. Снапшоты доставляются из собственной горутины подписки, так
// что медленный потребитель не задерживает ни запись, ни других подписчиков.
type Subscription struct {
	id       uint64
	filter   domain.ReportFilter
	limit    int
	consumer func(domain.ReportSnapshot)
	repo     domain.ReportRepo
	registry *registry
	log      zerolog.Logger

	wake chan struct{}
	stop chan struct{}

	mu     sync.Mutex
	closed bool
}

func (r *registry) add(repo domain.ReportRepo, filter domain.ReportFilter, limit int, consumer func(domain.ReportSnapshot), log zerolog.Logger) *Subscription {
	r.mu.Lock()
	r.nextID++
	sub := &Subscription{
		id:       r.nextID,
		filter:   filter,
		limit:    limit,
		consumer: consumer,
		repo:     repo,
		registry: r,
		log:      log,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	r.subs[sub.id] = sub
	r.mu.Unlock()

	metrics.SubscriptionsActive.Inc()
	go sub.run()
	sub.kick()
	return sub
}

func (r *registry) remove(id uint64) {
	r.mu.Lock()
	_, ok := r.subs[id]
	delete(r.subs, id)
	r.mu.Unlock()
	if ok {
		metrics.SubscriptionsActive.Dec()
	}
}

// kickMatching будит подписки, чей фильтр затронут изменившимся отчётом.
// Список снимается под блокировкой, пробуждение происходит вне её.
func (r *registry) kickMatching(report domain.OutageReport) {
	r.mu.RLock()
	matched := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		if sub.filter.Matches(report) {
			matched = append(matched, sub)
		}
	}
	r.mu.RUnlock()
	for _, sub := range matched {
		sub.kick()
	}
}

// kick помечает подписку ожидающей пересчёта. Буфер в один элемент
// склеивает шквал записей в одно пробуждение: подписчик всё равно получает
// полный актуальный снапшот.
func (sub *Subscription) kick() {
	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *Subscription) run() {
	for {
		select {
		case <-sub.stop:
			return
		case <-sub.wake:
		}
		reports, err := sub.repo.QueryReports(context.Background(), sub.filter, sub.limit)
		if err != nil {
			// Терминальный сбой только этой подписки: остальных он не касается.
			sub.log.Error().Err(err).Uint64("subscription", sub.id).Msg("reports: подписка разорвана")
			sub.deliver(domain.ReportSnapshot{Err: err})
			sub.Unsubscribe()
			return
		}
		sub.deliver(domain.ReportSnapshot{Reports: reports})
	}
}

// deliver передаёт снапшот потребителю. Проверка флага и вызов потребителя
// идут под одним mutex: событие, гонящееся с Unsubscribe, либо успевает до
// установки флага, либо не доходит вовсе.
func (sub *Subscription) deliver(snapshot domain.ReportSnapshot) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	sub.consumer(snapshot)
	metrics.SubscriptionDeliveries.Inc()
}

// Unsubscribe закрывает подписку. Вызов идемпотентен; после возврата
// потребитель больше не вызывается.
func (sub *Subscription) Unsubscribe() {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	close(sub.stop)
	sub.mu.Unlock()

	sub.registry.remove(sub.id)
}
