// Package servers keeps the in-memory directory of live game servers.
// Game servers self-report over HTTP and disappear again once they stop
// reporting; nothing here touches the database.
package servers

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultServerName is used when a report carries no usable name.
const DefaultServerName = "Yet Another Scamp Server"

// ErrBadAddress is returned for addresses that are not a full IPv4:port.
var ErrBadAddress = errors.New("Address must contain IP and port (i.e. 127.0.0.1:7777)")

// IPMismatchError is returned when a reporter claims an address it does not
// own.
type IPMismatchError struct {
	Expected string
	Actual   string
}

func (e *IPMismatchError) Error() string {
	return fmt.Sprintf("Your IP is expected to be %s, but it is %s", e.Expected, e.Actual)
}

var addressRegex = regexp.MustCompile(
	`^(([0-9]|[1-9][0-9]|1[0-9]{2}|2[0-4][0-9]|25[0-5])\.){3}([0-9]|[1-9][0-9]|1[0-9]{2}|2[0-4][0-9]|25[0-5]):[0-9]+$`)

// Server is the public view of a live game server.
type Server struct {
	Name       string `json:"name"`
	IP         string `json:"ip"`
	Port       int    `json:"port"`
	MaxPlayers int    `json:"maxPlayers"`
	Online     int    `json:"online"`
}

// Report is the raw self-report body. Numeric fields stay untyped because
// game servers send them as either JSON numbers or strings.
type Report struct {
	Name       string `json:"name"`
	MaxPlayers any    `json:"maxPlayers"`
	Online     any    `json:"online"`
}

type record struct {
	server     Server
	lastUpdate time.Time
}

// Registry is the mutex-guarded map of reported servers, keyed by
// "ip:port". Records older than the timeout are evicted lazily on read.
type Registry struct {
	logger *slog.Logger

	mu          sync.RWMutex
	servers     map[string]record
	timeout     time.Duration
	playerLimit int
}

func NewRegistry(playerLimit int, timeout time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		logger:      logger,
		servers:     make(map[string]record),
		timeout:     timeout,
		playerLimit: playerLimit,
	}
}

// SetTimeout changes how long a server survives without reporting.
func (r *Registry) SetTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeout = d
}

func (r *Registry) Timeout() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.timeout
}

// Upsert validates and stores a self-report and returns the normalized
// server entry. reporterIP is the peer address of the HTTP request; reports
// for an address the reporter does not own are rejected unless they come
// from loopback or an unspecified address.
func (r *Registry) Upsert(address string, report Report, reporterIP string, now time.Time) (Server, error) {
	if !addressRegex.MatchString(address) {
		return Server{}, ErrBadAddress
	}

	ip, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return Server{}, ErrBadAddress
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Server{}, ErrBadAddress
	}

	if !trustedReporter(reporterIP) && reporterIP != ip {
		return Server{}, &IPMismatchError{Expected: ip, Actual: reporterIP}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	maxPlayers := r.playerLimit
	if v, ok := coerceNumber(report.MaxPlayers); ok && v != 0 {
		maxPlayers = clamp(int(math.Floor(v)), 1, r.playerLimit)
	}

	online := 0
	if v, ok := coerceNumber(report.Online); ok {
		online = clamp(int(math.Floor(v)), 0, maxPlayers)
	}

	name := report.Name
	if name == "" {
		name = DefaultServerName
	}

	server := Server{
		Name:       name,
		IP:         ip,
		Port:       port,
		MaxPlayers: maxPlayers,
		Online:     online,
	}
	r.servers[address] = record{server: server, lastUpdate: now}

	r.logger.Debug("Server report accepted",
		slog.String("address", address),
		slog.Int("online", online),
		slog.Int("maxPlayers", maxPlayers))
	return server, nil
}

// List evicts stale records and returns copies of the rest.
func (r *Registry) List(now time.Time) []Server {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Server, 0, len(r.servers))
	for address, rec := range r.servers {
		if now.Sub(rec.lastUpdate) >= r.timeout {
			r.logger.Info("Evicting stale server", slog.String("address", address))
			delete(r.servers, address)
			continue
		}
		out = append(out, rec.server)
	}
	return out
}

// Snapshot returns copies of all records without evicting, for the stats
// sampler.
func (r *Registry) Snapshot() []Server {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Server, 0, len(r.servers))
	for _, rec := range r.servers {
		out = append(out, rec.server)
	}
	return out
}

// trustedReporter reports whether the peer address is exempt from the IP
// ownership check: loopback traffic and IPv6 unspecified/mapped sources
// (the proxy case).
func trustedReporter(reporterIP string) bool {
	if strings.HasPrefix(reporterIP, "::") {
		return true
	}
	ip := net.ParseIP(reporterIP)
	return ip != nil && ip.IsLoopback()
}

// coerceNumber accepts the numeric representations game servers actually
// send: JSON numbers, numeric strings, or nothing.
func coerceNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
