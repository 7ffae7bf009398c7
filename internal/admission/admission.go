// Package admission limits how often a single client may create stores.
//
// Each client gets a fixed window that opens with its first request: at most
// Limit requests are admitted until the window ends, then the count resets.
// The client table is an LRU, so memory stays bounded no matter how many
// distinct clients appear; an evicted client simply starts a fresh window.
package admission

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// Defaults match the reference deployment: 5 creations per minute per client.
const (
	DefaultLimit      = 5
	DefaultWindow     = time.Minute
	DefaultMaxClients = 10000
)

// RejectionMessage is the body message of a rejected request.
const RejectionMessage = "Too many store creation attempts. Please try again later."

var rejectionsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "storefleet_admission_rejections_total",
		Help: "Total number of store creation requests rejected by the admission gate.",
	},
)

func init() {
	prometheus.MustRegister(rejectionsTotal)
}

// Config configures a Gate. Zero fields take the defaults.
type Config struct {
	Limit      int           `yaml:"limit"`
	Window     time.Duration `yaml:"window"`
	MaxClients int           `yaml:"maxClients"`

	// Now is the gate's clock. Nil means time.Now.
	Now func() time.Time `yaml:"-"`
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetIn is how long until the client's window ends.
	ResetIn time.Duration
}

type window struct {
	start time.Time
	count int
}

// Gate is a fixed-window, per-client admission counter. It is safe for
// concurrent use.
type Gate struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	clients *lru.Cache[string, *window]
}

// New creates a gate from cfg.
func New(cfg Config) (*Gate, error) {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultMaxClients
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	clients, err := lru.New[string, *window](cfg.MaxClients)
	if err != nil {
		return nil, fmt.Errorf("create client table: %w", err)
	}
	return &Gate{
		limit:   cfg.Limit,
		window:  cfg.Window,
		now:     cfg.Now,
		clients: clients,
	}, nil
}

// Allow counts one request from key and reports whether it is admitted.
// Rejected requests do not extend the window.
func (g *Gate) Allow(key string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	w, ok := g.clients.Get(key)
	if !ok || !now.Before(w.start.Add(g.window)) {
		w = &window{start: now}
		g.clients.Add(key, w)
	}

	d := Decision{
		Limit:   g.limit,
		ResetIn: w.start.Add(g.window).Sub(now),
	}
	if w.count >= g.limit {
		return d
	}

	w.count++
	d.Allowed = true
	d.Remaining = g.limit - w.count
	return d
}

// Middleware admits requests by client IP and answers 429 once a client has
// used up its window. Rejected requests never reach next.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.Allow(ClientKey(r))

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

		if !d.Allowed {
			rejectionsTotal.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.ResetIn.Seconds()))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": RejectionMessage})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientKey identifies the client of r by the host part of its remote
// address. Run chi's RealIP middleware first when behind a proxy.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
