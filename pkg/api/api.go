// пакет api предоставляет маршрутизатор REST API
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rtemka/lumina/domain"
	"github.com/rtemka/lumina/pkg/metrics"
	"github.com/rtemka/lumina/pkg/service"
	"golang.org/x/time/rate"

	"go.uber.org/zap"
)

var (
	ErrInternal        = errors.New("internal server error")
	ErrBadInput        = domain.E(domain.ErrValidation, "invalid input")
	ErrTooManyRequests = errors.New("too many requests, please try again later")
	ErrFileTooLarge    = errors.New("file is too large")
)

// время на обработку одного запроса
const handlerTimeout = 10 * time.Second

type ctxKey int

const (
	requestID ctxKey = iota
	userID
)

type wideResponseWriter struct {
	http.ResponseWriter
	length, status int
	internalErr    error
}

func (w *wideResponseWriter) WriteHeader(status int) {
	w.ResponseWriter.WriteHeader(status)
	w.status = status
}

func (w *wideResponseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.length += n
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return n, err
}

// Options - необязательные настройки [*API].
type Options struct {
	// ClientURL - источник, которому разрешены CORS-запросы.
	ClientURL string
	// UploadsDir - каталог, файлы из которого отдаются по /uploads/.
	// Пустая строка отключает раздачу.
	UploadsDir string
	// RateLimit - запросов в секунду с одного адреса, 0 - без ограничения.
	RateLimit rate.Limit
	Burst     int
	Metrics   *metrics.Metrics
}

// REST API.
type API struct {
	router  *mux.Router
	svc     *service.Service
	logger  *zap.Logger
	opts    Options
	limiter *ipLimiter
}

// New возвращает [*API].
func New(svc *service.Service, logger *zap.Logger, opts Options) *API {
	api := API{
		router: mux.NewRouter(),
		svc:    svc,
		logger: logger,
		opts:   opts,
	}
	if opts.Metrics == nil {
		api.opts.Metrics = metrics.New()
	}
	if opts.RateLimit > 0 {
		api.limiter = newIPLimiter(opts.RateLimit, opts.Burst)
	}
	api.endpoints()
	return &api
}

// ServeHTTP - таким образом, мы можем использовать
// сам [*API] в качестве мультиплексора на сервере.
func (api *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	api.router.ServeHTTP(w, r)
}

func (api *API) endpoints() {
	api.router.Use(
		api.requestIDMiddleware,
		api.wideEventLogMiddleware,
		api.metricsMiddleware,
		api.closerMiddleware,
		api.corsMiddleware,
		api.rateLimitMiddleware,
	)

	api.router.Handle("/metrics", api.opts.Metrics.Handler()).Methods(http.MethodGet)
	if api.opts.UploadsDir != "" {
		fs := http.StripPrefix("/uploads/", http.FileServer(http.Dir(api.opts.UploadsDir)))
		api.router.PathPrefix("/uploads/").Handler(fs).Methods(http.MethodGet, http.MethodHead)
	}

	// JSON API
	r := api.router.NewRoute().Subrouter()
	r.Use(api.headersMiddleware, api.secHeadersMiddleware)

	r.HandleFunc("/health", api.handleHealth()).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/auth/register", api.handleRegister()).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/auth/login", api.handleLogin()).Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/posts", api.handlePostList()).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/posts", api.authenticated(api.handlePostCreate())).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/posts/{id}", api.handlePostRead()).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/posts/{id}", api.authenticated(api.handlePostUpdate())).Methods(http.MethodPut, http.MethodOptions)
	r.HandleFunc("/posts/{id}", api.authenticated(api.handlePostDelete())).Methods(http.MethodDelete, http.MethodOptions)
	r.HandleFunc("/posts/{id}/like", api.authenticated(api.handlePostLike())).Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/posts/{id}/comments", api.handleCommentList()).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/posts/{id}/comments", api.authenticated(api.handleCommentCreate())).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/posts/{id}/comments/{commentId}/read",
		api.authenticated(api.handleCommentRead())).Methods(http.MethodPatch, http.MethodOptions)

	r.HandleFunc("/users/{id}", api.handleProfile()).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/users/{id}", api.authenticated(api.handleProfileUpdate())).Methods(http.MethodPatch, http.MethodOptions)
	r.HandleFunc("/users/{id}/notifications",
		api.authenticated(api.handleNotifications())).Methods(http.MethodGet, http.MethodOptions)
}

// statusCode возвращает HTTP-код для ошибки.
func statusCode(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrFileTooLarge), errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

// fail отвечает ошибкой с кодом, соответствующим ее виду.
func (api *API) fail(w http.ResponseWriter, err error) {
	code := statusCode(err)
	if code == http.StatusRequestEntityTooLarge {
		err = ErrFileTooLarge
	}
	api.WriteJSONError(w, err, code)
}

func (api *API) WriteJSONError(w http.ResponseWriter, err error, code int) {
	w.WriteHeader(code)
	if wrw, ok := w.(*wideResponseWriter); ok {
		wrw.internalErr = err
	}
	if code == http.StatusInternalServerError {
		err = ErrInternal
	}
	msg := map[string]string{"error": err.Error()}
	_ = json.NewEncoder(w).Encode(&msg)
}

func (api *API) WriteJSON(w http.ResponseWriter, data any, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"response": data})
}

func (api *API) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	}
}
