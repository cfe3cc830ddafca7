package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Checker reports whether a dependency can currently serve.
type Checker interface {
	Check() error
}

// MultiChecker aggregates checkers; it fails if any of them fail.
// Checkers may be added after the handler is already serving.
type MultiChecker struct {
	mu       sync.Mutex
	checkers []Checker
}

func NewMultiChecker(checkers ...Checker) *MultiChecker {
	return &MultiChecker{checkers: checkers}
}

func (mc *MultiChecker) Add(c Checker) {
	mc.mu.Lock()
	mc.checkers = append(mc.checkers, c)
	mc.mu.Unlock()
}

func (mc *MultiChecker) Check() error {
	mc.mu.Lock()
	checkers := make([]Checker, len(mc.checkers))
	copy(checkers, mc.checkers)
	mc.mu.Unlock()

	var failures []string
	for _, c := range checkers {
		if err := c.Check(); err != nil {
			failures = append(failures, err.Error())
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return errors.New(strings.Join(failures, "; "))
}

// Handler serves /healthz: {"status":"ok"} when the checker passes,
// 503 with the failure detail otherwise.
type Handler struct {
	checker Checker
}

func NewHandler(checker Checker) *Handler {
	return &Handler{checker: checker}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := h.checker.Check(); err != nil {
		log.WithError(err).Warn("health check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
