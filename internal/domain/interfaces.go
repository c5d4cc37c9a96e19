package domain

import (
	"context"
	"time"
)

// ReportRepo управляет хранением отчётов об отключениях.
// Update и Delete возвращают прообраз документа, чтобы вызывающий код мог
// определить, какие подписки затронуты изменением.
type ReportRepo interface {
	CreateReport(ctx context.Context, report OutageReport) (OutageReport, error)
	GetReport(ctx context.Context, id string) (OutageReport, bool, error)
	UpdateReport(ctx context.Context, id string, patch ReportPatch) (before OutageReport, after OutageReport, found bool, err error)
	DeleteReport(ctx context.Context, id string) (before OutageReport, found bool, err error)
	QueryReports(ctx context.Context, filter ReportFilter, limit int) ([]OutageReport, error)
	ListUserReports(ctx context.Context, userID string) ([]OutageReport, error)
}

// ProfileRepo управляет профилями пользователей.
type ProfileRepo interface {
	GetProfile(ctx context.Context, id string) (UserProfile, bool, error)
	CreateProfile(ctx context.Context, profile UserProfile) (UserProfile, error)
	UpdateProfile(ctx context.Context, id string, patch ProfilePatch) (UserProfile, bool, error)
	SetPushToken(ctx context.Context, id, token string) error
	// ListRecipients выполняет единственный составной запрос равенства,
	// который поддерживает хранилище: город + включённая подписка на услугу.
	// Фильтрация по кварталу выполняется вызывающим кодом.
	ListRecipients(ctx context.Context, city string, service ServiceType) ([]UserProfile, error)
}

// PushMessage — одно сообщение push-шлюзу.
type PushMessage struct {
	To    string            `json:"to"`
	Sound string            `json:"sound,omitempty"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// PushTicket — статус одного сообщения в ответе шлюза.
type PushTicket struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// PushSender отправляет пачку сообщений шлюзу одним сетевым вызовом.
type PushSender interface {
	SendBatch(ctx context.Context, messages []PushMessage) ([]PushTicket, error)
}

// NotifyQueue — очередь задач на рассылку.
type NotifyQueue interface {
	Enqueue(ctx context.Context, job NotifyJob) error
	Pop(ctx context.Context) (NotifyJob, error)
}

// ReportNotifier запускает рассылку по новому отчёту. Вызов не блокирует
// создание отчёта и никогда не возвращает ошибку наверх.
type ReportNotifier interface {
	ReportCreated(report OutageReport)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
