// Package api serves the comment HTTP API, the websocket gateway and the
// Prometheus endpoint from one router.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/baduk1/threadsync/internal/auth"
	"github.com/baduk1/threadsync/internal/push"
	"github.com/baduk1/threadsync/internal/store"
)

const (
	// DefaultCreateRate is the sustained comment creation rate per user.
	DefaultCreateRate = rate.Limit(1)

	// DefaultCreateBurst is how many comments a user may post back to back.
	DefaultCreateBurst = 5

	maxRequestBody = 64 << 10
)

// Options tunes a Server. Zero values take defaults.
type Options struct {
	CreateRate  rate.Limit
	CreateBurst int
	Logger      zerolog.Logger

	// Registerer receives the HTTP metrics; Gatherer backs /metrics. Both
	// default to the Prometheus default registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Server is the HTTP front of the comment store.
type Server struct {
	store    *store.Client
	issuer   *auth.Issuer
	gateway  *push.Gateway
	limiter  *userLimiter
	requests *prometheus.CounterVec
	logger   zerolog.Logger
	router   *mux.Router
}

// NewServer wires the routes.
func NewServer(client *store.Client, issuer *auth.Issuer, opts Options) *Server {
	if opts.CreateRate == 0 {
		opts.CreateRate = DefaultCreateRate
	}
	if opts.CreateBurst == 0 {
		opts.CreateBurst = DefaultCreateBurst
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	logger := opts.Logger.With().Str("component", "api").Logger()
	authorize := func(ctx context.Context, userID, projectID string) error {
		return client.RequireMember(ctx, projectID, userID)
	}
	transport := push.NewRedisTransport(client.Redis(), client.Namespace(), nil, opts.Logger)

	s := &Server{
		store:   client,
		issuer:  issuer,
		gateway: push.NewGateway(transport, issuer.UserID, authorize, opts.Logger),
		limiter: newUserLimiter(opts.CreateRate, opts.CreateBurst),
		requests: promauto.With(opts.Registerer).NewCounterVec(prometheus.CounterOpts{
			Name: "threads_http_requests_total",
			Help: "HTTP requests served, by route template and status code.",
		}, []string{"route", "code"}),
		logger: logger,
		router: mux.NewRouter(),
	}

	r := s.router
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.Handle("/ws", s.gateway).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.withLogging, s.withAuth)
	api.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)
	api.HandleFunc("/projects/{project}/comments", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/projects/{project}/comments", s.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/projects/{project}/comments/{id:[0-9]+}", s.handleUpdate).Methods(http.MethodPatch)
	api.HandleFunc("/projects/{project}/comments/{id:[0-9]+}", s.handleDelete).Methods(http.MethodDelete)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Gateway returns the websocket gateway mounted at /ws.
func (s *Server) Gateway() *push.Gateway {
	return s.gateway
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("API server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info().Msg("Shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// userLimiter hands out one token bucket per user. Buckets idle long
// enough to have refilled are dropped, since a fresh one behaves the same.
type userLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	now       func() time.Time
	lastSweep time.Time
	users     map[string]*userBucket
}

type userBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newUserLimiter(limit rate.Limit, burst int) *userLimiter {
	idle := time.Minute
	if limit > 0 && limit != rate.Inf {
		if refill := time.Duration(float64(burst) / float64(limit) * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	return &userLimiter{
		limit: limit,
		burst: burst,
		idle:  idle,
		now:   time.Now,
		users: make(map[string]*userBucket),
	}
}

func (l *userLimiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		l.sweepLocked(now)
	}

	b, ok := l.users[userID]
	if !ok {
		b = &userBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.users[userID] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (l *userLimiter) sweepLocked(now time.Time) {
	for id, b := range l.users {
		if now.Sub(b.lastSeen) >= l.idle {
			delete(l.users, id)
		}
	}
	l.lastSweep = now
}

// Len reports how many users currently hold a bucket.
func (l *userLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}
