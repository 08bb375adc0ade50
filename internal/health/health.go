// Package health отдаёт /healthz и /readyz для shop-service.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status — состояние компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// worse возвращает более тяжёлый из двух статусов.
func worse(a, b Status) Status {
	rank := func(s Status) int {
		switch s {
		case StatusUnhealthy:
			return 2
		case StatusDegraded:
			return 1
		}
		return 0
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

const probeTimeout = 2 * time.Second

// Report — результат проверки одного компонента.
type Report struct {
	Component string `json:"component"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
	TookMs    int64  `json:"took_ms"`
}

// Snapshot — тело ответа /healthz.
type Snapshot struct {
	Status     Status    `json:"status"`
	CheckedAt  time.Time `json:"checked_at"`
	Version    string    `json:"version,omitempty"`
	Uptime     string    `json:"uptime"`
	Components []Report  `json:"components,omitempty"`
}

// Checker проверяет один компонент: PostgreSQL, Redis, backlog outbox.
type Checker interface {
	Check(ctx context.Context) Report
}

// Handler собирает зарегистрированные проверки и отвечает на probe-запросы.
type Handler struct {
	version string
	started time.Time
	timeout time.Duration

	mu       sync.RWMutex
	registry map[string]Checker
}

func NewHandler(version string) *Handler {
	return &Handler{
		version:  version,
		started:  time.Now(),
		timeout:  probeTimeout,
		registry: map[string]Checker{},
	}
}

// RegisterChecker добавляет проверку; повторное имя заменяет прежнюю.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	h.registry[name] = checker
	h.mu.Unlock()
}

// snapshot опрашивает компоненты параллельно с общим дедлайном.
// Отчёты идут в порядке имён регистрации, чтобы ответ был стабильным.
func (h *Handler) snapshot(ctx context.Context) Snapshot {
	h.mu.RLock()
	names := make([]string, 0, len(h.registry))
	for name := range h.registry {
		names = append(names, name)
	}
	slices.Sort(names)
	checkers := make([]Checker, len(names))
	for i, name := range names {
		checkers[i] = h.registry[name]
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	reports := make([]Report, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		i, c := i, c
		g.Go(func() error {
			reports[i] = c.Check(ctx)
			if reports[i].Component == "" {
				reports[i].Component = names[i]
			}
			return nil
		})
	}
	_ = g.Wait()

	overall := StatusHealthy
	for _, r := range reports {
		overall = worse(overall, r.Status)
	}
	return Snapshot{
		Status:     overall,
		CheckedAt:  time.Now().UTC(),
		Version:    h.version,
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		Components: reports,
	}
}

// ServeHTTP отдаёт полный снимок; 503 только при unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshot(r.Context())

	code := http.StatusOK
	if snap.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(snap)
}

// ReadinessHandler снимает готовность только при unhealthy: деградация кеша
// или backlog outbox трафик не останавливают.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshot(r.Context())
	if snap.Status != StatusUnhealthy {
		writeText(w, http.StatusOK, "ready")
		return
	}

	var failed []string
	for _, rep := range snap.Components {
		if rep.Status == StatusUnhealthy {
			failed = append(failed, rep.Component)
		}
	}
	writeText(w, http.StatusServiceUnavailable, "not ready: "+strings.Join(failed, ","))
}

// LivenessHandler отвечает 200, пока процесс обслуживает запросы.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// timed замеряет проверку и переводит ошибку в статус onError.
func timed(component string, onError Status, probe func() error) Report {
	began := time.Now()
	err := probe()
	rep := Report{Component: component, Status: StatusHealthy, TookMs: time.Since(began).Milliseconds()}
	if err != nil {
		rep.Status = onError
		rep.Error = err.Error()
	}
	return rep
}

// PingChecker вызывает ping зависимости.
type PingChecker struct {
	component string
	ping      func(ctx context.Context) error
	onError   Status
}

// NewPingChecker — зависимость, без которой сервис не работает (БД).
func NewPingChecker(component string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{component: component, ping: ping, onError: StatusUnhealthy}
}

// NewOptionalChecker — зависимость, отказ которой только деградирует сервис (кеш).
func NewOptionalChecker(component string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{component: component, ping: ping, onError: StatusDegraded}
}

func (c *PingChecker) Check(ctx context.Context) Report {
	return timed(c.component, c.onError, func() error { return c.ping(ctx) })
}

// BacklogChecker деградирует сервис, когда старейшее неотправленное событие outbox
// ждёт дольше maxAge.
type BacklogChecker struct {
	component string
	oldest    func(ctx context.Context) (time.Time, error)
	maxAge    time.Duration
	now       func() time.Time
}

func NewBacklogChecker(component string, oldest func(ctx context.Context) (time.Time, error), maxAge time.Duration) *BacklogChecker {
	return &BacklogChecker{component: component, oldest: oldest, maxAge: maxAge, now: time.Now}
}

func (c *BacklogChecker) Check(ctx context.Context) Report {
	return timed(c.component, StatusDegraded, func() error {
		oldest, err := c.oldest(ctx)
		if err != nil {
			return err
		}
		if age := c.now().Sub(oldest); !oldest.IsZero() && age > c.maxAge {
			return &staleBacklogError{age: age, limit: c.maxAge}
		}
		return nil
	})
}

type staleBacklogError struct {
	age, limit time.Duration
}

func (e *staleBacklogError) Error() string {
	return "oldest pending event waits " + e.age.Round(time.Second).String() + ", limit " + e.limit.String()
}
