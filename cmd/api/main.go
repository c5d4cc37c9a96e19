package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"coupure-alert/internal/adapters/push"
	"coupure-alert/internal/adapters/repo"
	"coupure-alert/internal/domain"
	"coupure-alert/internal/infra/cache"
	"coupure-alert/internal/infra/config"
	"coupure-alert/internal/infra/db"
	httpinfra "coupure-alert/internal/infra/http"
	applog "coupure-alert/internal/infra/log"
	"coupure-alert/internal/infra/metrics"
	"coupure-alert/internal/infra/queue"
	"coupure-alert/internal/usecase/notify"
	"coupure-alert/internal/usecase/reports"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	var dedupe domain.Cache
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		dedupe = cache.NewRedis(redisClient)
	}

	if cfg.Auth.JWTSecret == "" {
		logger.Fatal().Msg("api: не задан секрет провайдера аутентификации (AUTH_JWT_SECRET)")
	}

	// Режим рассылки: при настроенной очереди отчёты уходят воркеру,
	// иначе рассылка стартует отдельной горутиной в этом же процессе.
	var notifier domain.ReportNotifier
	switch {
	case cfg.RabbitURL != "":
		rabbit, err := queue.NewRabbitNotifyQueue(cfg.RabbitURL, cfg.Queues.Notify)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: не удалось инициализировать очередь RabbitMQ")
		}
		defer rabbit.Close()
		notifier = notify.NewQueueNotifier(rabbit, logger.With().Str("component", "notify_queue").Logger())
	case redisClient != nil:
		notifier = notify.NewQueueNotifier(
			queue.NewRedisNotifyQueue(redisClient, cfg.Queues.Notify),
			logger.With().Str("component", "notify_queue").Logger(),
		)
	default:
		sender := push.NewClient(cfg.Push.GatewayURL, cfg.Push.Timeout)
		notifier = notify.NewService(repoAdapter, sender, dedupe,
			logger.With().Str("component", "notify").Logger(), cfg.Push.BatchSize, push.ValidToken)
	}

	reportSvc := reports.NewService(repoAdapter, notifier,
		logger.With().Str("component", "reports").Logger(), cfg.Limits.QueryDefault)

	srv := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	api := apiHandlers{
		reports:      reportSvc,
		profiles:     repoAdapter,
		defaultLimit: cfg.Limits.QueryDefault,
		maxLimit:     cfg.Limits.QueryMax,
		log:          logger.With().Str("component", "api").Logger(),
	}

	srv.Router.Get("/api/v1/reports", api.listReports)
	srv.Router.Get("/api/v1/reports/feed", api.reportsFeed)
	srv.Router.Get("/api/v1/reports/{id}", api.getReport)
	srv.Router.Get("/api/v1/locations", api.listLocations)

	srv.Router.Group(func(protected chi.Router) {
		protected.Use(httpinfra.AuthMiddleware(cfg.Auth.JWTSecret))
		protected.Post("/api/v1/reports", api.createReport)
		protected.Get("/api/v1/reports/mine", api.listMyReports)
		protected.Patch("/api/v1/reports/{id}", api.updateReport)
		protected.Delete("/api/v1/reports/{id}", api.deleteReport)
		protected.Get("/api/v1/profile", api.getProfile)
		protected.Post("/api/v1/profile", api.createProfile)
		protected.Put("/api/v1/profile", api.updateProfile)
		protected.Put("/api/v1/profile/push-token", api.setPushToken)
	})

	go func() {
		if err := srv.Start(":" + strconv.Itoa(cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

type apiHandlers struct {
	reports      *reports.Service
	profiles     domain.ProfileRepo
	defaultLimit int
	maxLimit     int
	log          zerolog.Logger
}

type reportDTO struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	UserName     string    `json:"userName"`
	UserEmail    string    `json:"userEmail"`
	City         string    `json:"city"`
	Neighborhood string    `json:"neighborhood"`
	ServiceType  string    `json:"serviceType"`
	Status       string    `json:"status"`
	Description  string    `json:"description,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func toReportDTO(r domain.OutageReport) reportDTO {
	return reportDTO{
		ID:           r.ID,
		UserID:       r.UserID,
		UserName:     r.UserName,
		UserEmail:    r.UserEmail,
		City:         r.City,
		Neighborhood: r.Neighborhood,
		ServiceType:  string(r.ServiceType),
		Status:       string(r.Status),
		Description:  r.Description,
		Timestamp:    r.Timestamp,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func toReportDTOs(rs []domain.OutageReport) []reportDTO {
	out := make([]reportDTO, 0, len(rs))
	for _, r := range rs {
		out = append(out, toReportDTO(r))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		httpinfra.WriteError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrNotFound):
		httpinfra.WriteError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrForbidden):
		httpinfra.WriteError(w, http.StatusForbidden, err)
	default:
		httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("внутренняя ошибка"))
	}
}

func filterFromQuery(r *http.Request) domain.ReportFilter {
	q := r.URL.Query()
	return domain.ReportFilter{
		City:        q.Get("city"),
		ServiceType: domain.ServiceType(q.Get("serviceType")),
		Status:      domain.ReportStatus(q.Get("status")),
	}
}

func (h apiHandlers) queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return h.defaultLimit
	}
	if limit > h.maxLimit {
		return h.maxLimit
	}
	return limit
}

type createReportRequest struct {
	City         string    `json:"city"`
	Neighborhood string    `json:"neighborhood"`
	ServiceType  string    `json:"serviceType"`
	Status       string    `json:"status"`
	Description  string    `json:"description"`
	UserName     string    `json:"userName"`
	Timestamp    time.Time `json:"timestamp"`
}

func (h apiHandlers) createReport(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req createReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("некорректное тело запроса"))
		return
	}
	report := domain.OutageReport{
		UserID:       httpinfra.UserID(r),
		UserName:     req.UserName,
		UserEmail:    httpinfra.UserEmail(r),
		City:         req.City,
		Neighborhood: req.Neighborhood,
		ServiceType:  domain.ServiceType(req.ServiceType),
		Status:       domain.ReportStatus(req.Status),
		Description:  req.Description,
		Timestamp:    req.Timestamp,
	}
	saved, err := h.reports.Create(r.Context(), report)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReportDTO(saved))
}

func (h apiHandlers) listReports(w http.ResponseWriter, r *http.Request) {
	result, err := h.reports.Query(r.Context(), filterFromQuery(r), h.queryLimit(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTOs(result))
}

func (h apiHandlers) getReport(w http.ResponseWriter, r *http.Request) {
	report, found, err := h.reports.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !found {
		httpinfra.WriteError(w, http.StatusNotFound, domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

func (h apiHandlers) listMyReports(w http.ResponseWriter, r *http.Request) {
	result, err := h.reports.ListMine(r.Context(), httpinfra.UserID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTOs(result))
}

type updateReportRequest struct {
	Status      *string `json:"status"`
	Description *string `json:"description"`
}

func (h apiHandlers) updateReport(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req updateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("некорректное тело запроса"))
		return
	}
	patch := domain.ReportPatch{Description: req.Description}
	if req.Status != nil {
		status := domain.ReportStatus(*req.Status)
		patch.Status = &status
	}
	updated, err := h.reports.Update(r.Context(), chi.URLParam(r, "id"), httpinfra.UserID(r), patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(updated))
}

func (h apiHandlers) deleteReport(w http.ResponseWriter, r *http.Request) {
	if err := h.reports.Delete(r.Context(), chi.URLParam(r, "id"), httpinfra.UserID(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// reportsFeed отдаёт живую ленту отчётов через SSE: полный снапшот фильтра
// при подключении и после каждой затрагивающей фильтр записи.
func (h apiHandlers) reportsFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("потоковая отдача не поддерживается"))
		return
	}

	snapshots := make(chan domain.ReportSnapshot, 8)
	sub := h.reports.Subscribe(filterFromQuery(r), h.queryLimit(r), func(snapshot domain.ReportSnapshot) {
		select {
		case snapshots <- snapshot:
		default:
			// Потребитель не успевает: снапшот полный, пропуск безопасен.
			h.log.Debug().Msg("api: снапшот ленты пропущен, клиент отстаёт")
		}
	})
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case snapshot := <-snapshots:
			if snapshot.Err != nil {
				_, _ = w.Write([]byte("event: error\ndata: {\"error\":\"подписка разорвана\"}\n\n"))
				flusher.Flush()
				return
			}
			_, _ = w.Write([]byte("data: "))
			_ = enc.Encode(toReportDTOs(snapshot.Reports))
			_, _ = w.Write([]byte("\n"))
			flusher.Flush()
		}
	}
}

func (h apiHandlers) listLocations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, domain.Cities)
}

type profileDTO struct {
	ID            string                         `json:"id"`
	Email         string                         `json:"email"`
	DisplayName   string                         `json:"displayName"`
	City          string                         `json:"city"`
	Neighborhoods []string                       `json:"neighborhoods"`
	Preferences   domain.NotificationPreferences `json:"notificationPreferences"`
	HasPushToken  bool                           `json:"hasPushToken"`
	CreatedAt     time.Time                      `json:"createdAt"`
	UpdatedAt     time.Time                      `json:"updatedAt"`
}

func toProfileDTO(p domain.UserProfile) profileDTO {
	return profileDTO{
		ID:            p.ID,
		Email:         p.Email,
		DisplayName:   p.DisplayName,
		City:          p.City,
		Neighborhoods: p.Neighborhoods,
		Preferences:   p.Preferences,
		HasPushToken:  p.PushToken != "",
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func (h apiHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	profile, found, err := h.profiles.GetProfile(r.Context(), httpinfra.UserID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !found {
		httpinfra.WriteError(w, http.StatusNotFound, domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toProfileDTO(profile))
}

type createProfileRequest struct {
	DisplayName string `json:"displayName"`
	City        string `json:"city"`
}

func (h apiHandlers) createProfile(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req createProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("некорректное тело запроса"))
		return
	}
	profile := domain.UserProfile{
		ID:          httpinfra.UserID(r),
		Email:       httpinfra.UserEmail(r),
		DisplayName: req.DisplayName,
		City:        req.City,
	}
	saved, err := h.profiles.CreateProfile(r.Context(), profile)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProfileDTO(saved))
}

type updateProfileRequest struct {
	DisplayName   *string                         `json:"displayName"`
	City          *string                         `json:"city"`
	Neighborhoods *[]string                       `json:"neighborhoods"`
	Preferences   *domain.NotificationPreferences `json:"notificationPreferences"`
}

func (h apiHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("некорректное тело запроса"))
		return
	}
	patch := domain.ProfilePatch{
		DisplayName:   req.DisplayName,
		City:          req.City,
		Neighborhoods: req.Neighborhoods,
		Preferences:   req.Preferences,
	}
	updated, found, err := h.profiles.UpdateProfile(r.Context(), httpinfra.UserID(r), patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !found {
		httpinfra.WriteError(w, http.StatusNotFound, domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toProfileDTO(updated))
}

type pushTokenRequest struct {
	Token string `json:"token"`
}

func (h apiHandlers) setPushToken(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req pushTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("некорректное тело запроса"))
		return
	}
	if !push.ValidToken(req.Token) {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("push-токен не распознан"))
		return
	}
	if err := h.profiles.SetPushToken(r.Context(), httpinfra.UserID(r), req.Token); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
