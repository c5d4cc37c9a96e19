package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coupure-alert/internal/domain"
	"coupure-alert/internal/infra/metrics"
)

// Postgres реализует репозитории отчётов и профилей на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.ReportRepo  = (*Postgres)(nil)
	_ domain.ProfileRepo = (*Postgres)(nil)
)

const defaultQueryLimit = 50

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const reportColumns = `id, user_id, user_name, user_email, city, neighborhood, service_type, status, description, ts, created_at, updated_at`

func scanReport(row pgx.Row) (domain.OutageReport, error) {
	var r domain.OutageReport
	err := row.Scan(&r.ID, &r.UserID, &r.UserName, &r.UserEmail, &r.City, &r.Neighborhood,
		&r.ServiceType, &r.Status, &r.Description, &r.Timestamp, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// CreateReport сохраняет отчёт и присваивает ему идентификатор и метки времени.
func (p *Postgres) CreateReport(ctx context.Context, report domain.OutageReport) (domain.OutageReport, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	now := time.Now().UTC()
	report.ID = uuid.NewString()
	if report.Timestamp.IsZero() {
		report.Timestamp = now
	}
	report.CreatedAt = now
	report.UpdatedAt = now

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO reports (id, user_id, user_name, user_email, city, neighborhood, service_type, status, description, ts, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`, report.ID, report.UserID, report.UserName, report.UserEmail, report.City, report.Neighborhood,
		report.ServiceType, report.Status, report.Description, report.Timestamp, report.CreatedAt, report.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "reports_insert", "reports", start, err)
	if err != nil {
		return domain.OutageReport{}, fmt.Errorf("сохранение отчёта: %w", err)
	}
	return report, nil
}

// GetReport возвращает отчёт по идентификатору. Отсутствие документа не ошибка.
func (p *Postgres) GetReport(ctx context.Context, id string) (domain.OutageReport, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	report, err := scanReport(p.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id))
	metrics.ObserveNetworkRequest("postgres", "reports_get", "reports", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OutageReport{}, false, nil
	}
	if err != nil {
		return domain.OutageReport{}, false, fmt.Errorf("чтение отчёта: %w", err)
	}
	return report, true, nil
}

// UpdateReport применяет патч к существующему отчёту и возвращает прообраз и
// новое состояние документа.
func (p *Postgres) UpdateReport(ctx context.Context, id string, patch domain.ReportPatch) (domain.OutageReport, domain.OutageReport, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return domain.OutageReport{}, domain.OutageReport{}, false, fmt.Errorf("начало транзакции: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	before, err := scanReport(tx.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OutageReport{}, domain.OutageReport{}, false, nil
	}
	if err != nil {
		return domain.OutageReport{}, domain.OutageReport{}, false, fmt.Errorf("чтение отчёта: %w", err)
	}

	after := before
	if patch.Status != nil {
		after.Status = *patch.Status
	}
	if patch.Description != nil {
		after.Description = *patch.Description
	}
	after.UpdatedAt = time.Now().UTC()

	start := time.Now()
	_, err = tx.Exec(ctx, `UPDATE reports SET status = $2, description = $3, updated_at = $4 WHERE id = $1`,
		id, after.Status, after.Description, after.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "reports_update", "reports", start, err)
	if err != nil {
		return domain.OutageReport{}, domain.OutageReport{}, false, fmt.Errorf("обновление отчёта: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.OutageReport{}, domain.OutageReport{}, false, fmt.Errorf("фиксация транзакции: %w", err)
	}
	return before, after, true, nil
}

// DeleteReport удаляет отчёт и возвращает его последнее состояние.
func (p *Postgres) DeleteReport(ctx context.Context, id string) (domain.OutageReport, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	before, err := scanReport(p.pool.QueryRow(ctx, `DELETE FROM reports WHERE id = $1 RETURNING `+reportColumns, id))
	metrics.ObserveNetworkRequest("postgres", "reports_delete", "reports", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OutageReport{}, false, nil
	}
	if err != nil {
		return domain.OutageReport{}, false, fmt.Errorf("удаление отчёта: %w", err)
	}
	return before, true, nil
}

// QueryReports возвращает отчёты по фильтрам равенства, отсортированные по
// времени события по убыванию; равные метки упорядочены по id по возрастанию.
func (p *Postgres) QueryReports(ctx context.Context, filter domain.ReportFilter, limit int) ([]domain.OutageReport, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if limit <= 0 {
		limit = defaultQueryLimit
	}

	var (
		conds []string
		args  []any
	)
	if filter.City != "" {
		args = append(args, filter.City)
		conds = append(conds, fmt.Sprintf("city = $%d", len(args)))
	}
	if filter.ServiceType != "" {
		args = append(args, filter.ServiceType)
		conds = append(conds, fmt.Sprintf("service_type = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + reportColumns + ` FROM reports`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY ts DESC, id ASC LIMIT $%d`, len(args))

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "reports_query", "reports", start, err)
	if err != nil {
		return nil, fmt.Errorf("выборка отчётов: %w", err)
	}
	defer rows.Close()

	var reports []domain.OutageReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("чтение строки: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("выборка отчётов: %w", err)
	}
	return reports, nil
}

// ListUserReports возвращает отчёты одного пользователя.
func (p *Postgres) ListUserReports(ctx context.Context, userID string) ([]domain.OutageReport, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+reportColumns+` FROM reports WHERE user_id = $1 ORDER BY ts DESC, id ASC`, userID)
	metrics.ObserveNetworkRequest("postgres", "reports_by_user", "reports", start, err)
	if err != nil {
		return nil, fmt.Errorf("отчёты пользователя: %w", err)
	}
	defer rows.Close()

	var reports []domain.OutageReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("чтение строки: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("отчёты пользователя: %w", err)
	}
	return reports, nil
}

const profileColumns = `id, email, display_name, city, neighborhoods, notify_electricity, notify_water, notify_internet, notify_all_updates, push_token, created_at, updated_at`

func scanProfile(row pgx.Row) (domain.UserProfile, error) {
	var u domain.UserProfile
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.City, &u.Neighborhoods,
		&u.Preferences.Electricity, &u.Preferences.Water, &u.Preferences.Internet,
		&u.Preferences.AllUpdates, &u.PushToken, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// GetProfile возвращает профиль пользователя.
func (p *Postgres) GetProfile(ctx context.Context, id string) (domain.UserProfile, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	profile, err := scanProfile(p.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM users WHERE id = $1`, id))
	metrics.ObserveNetworkRequest("postgres", "users_get", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserProfile{}, false, nil
	}
	if err != nil {
		return domain.UserProfile{}, false, fmt.Errorf("чтение профиля: %w", err)
	}
	return profile, true, nil
}

// CreateProfile создаёт профиль при первом входе. Повторный вызов обновляет
// email и не трогает настройки пользователя.
func (p *Postgres) CreateProfile(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	now := time.Now().UTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now
	if profile.Neighborhoods == nil {
		profile.Neighborhoods = []string{}
	}

	start := time.Now()
	saved, err := scanProfile(p.pool.QueryRow(ctx, `
INSERT INTO users (id, email, display_name, city, neighborhoods, notify_electricity, notify_water, notify_internet, notify_all_updates, push_token, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, updated_at = EXCLUDED.updated_at
RETURNING `+profileColumns, profile.ID, profile.Email, profile.DisplayName, profile.City, profile.Neighborhoods,
		profile.Preferences.Electricity, profile.Preferences.Water, profile.Preferences.Internet,
		profile.Preferences.AllUpdates, profile.PushToken, profile.CreatedAt, profile.UpdatedAt))
	metrics.ObserveNetworkRequest("postgres", "users_upsert", "users", start, err)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("создание профиля: %w", err)
	}
	return saved, nil
}

// UpdateProfile применяет патч к профилю.
func (p *Postgres) UpdateProfile(ctx context.Context, id string, patch domain.ProfilePatch) (domain.UserProfile, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	sets := []string{"updated_at = now()"}
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.DisplayName != nil {
		add("display_name", *patch.DisplayName)
	}
	if patch.City != nil {
		add("city", *patch.City)
	}
	if patch.Neighborhoods != nil {
		add("neighborhoods", *patch.Neighborhoods)
	}
	if patch.Preferences != nil {
		add("notify_electricity", patch.Preferences.Electricity)
		add("notify_water", patch.Preferences.Water)
		add("notify_internet", patch.Preferences.Internet)
		add("notify_all_updates", patch.Preferences.AllUpdates)
	}

	query := `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING ` + profileColumns
	start := time.Now()
	profile, err := scanProfile(p.pool.QueryRow(ctx, query, args...))
	metrics.ObserveNetworkRequest("postgres", "users_update", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserProfile{}, false, nil
	}
	if err != nil {
		return domain.UserProfile{}, false, fmt.Errorf("обновление профиля: %w", err)
	}
	return profile, true, nil
}

// SetPushToken сохраняет push-токен устройства пользователя.
func (p *Postgres) SetPushToken(ctx context.Context, id, token string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE users SET push_token = $2, updated_at = now() WHERE id = $1`, id, token)
	metrics.ObserveNetworkRequest("postgres", "users_set_token", "users", start, err)
	if err != nil {
		return fmt.Errorf("сохранение push-токена: %w", err)
	}
	return nil
}

// Столбцы подписок по типам услуг. Белый список защищает подстановку имени
// столбца в SQL.
var preferenceColumns = map[domain.ServiceType]string{
	domain.ServiceElectricity: "notify_electricity",
	domain.ServiceWater:       "notify_water",
	domain.ServiceInternet:    "notify_internet",
}

// ListRecipients возвращает профили с совпадающим городом и включённой
// подпиской на тип услуги. Принадлежность к кварталу хранилище выразить в том
// же запросе не может, её проверяет вызывающий код.
func (p *Postgres) ListRecipients(ctx context.Context, city string, service domain.ServiceType) ([]domain.UserProfile, error) {
	column, ok := preferenceColumns[service]
	if !ok {
		return nil, fmt.Errorf("%w: неизвестный тип услуги %q", domain.ErrInvalidInput, service)
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+profileColumns+` FROM users WHERE city = $1 AND `+column+` = TRUE`, city)
	metrics.ObserveNetworkRequest("postgres", "users_recipients", "users", start, err)
	if err != nil {
		return nil, fmt.Errorf("выборка адресатов: %w", err)
	}
	defer rows.Close()

	var profiles []domain.UserProfile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("чтение строки: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("выборка адресатов: %w", err)
	}
	return profiles, nil
}
