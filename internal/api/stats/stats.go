// Package stats records population samples (players and servers online)
// as CSV rows, both in memory and in an append-only file, and serves the
// combined history.
package stats

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Header is the first line of every stats CSV.
const Header = "Time,PlayersOnline,ServersOnline"

const timeLayout = "2006/01/02 15:04:05"

// Row is a single population sample. Fields stay strings because the CSV
// file is the source of truth and rows round-trip through it untouched.
type Row struct {
	Time          string
	PlayersOnline string
	ServersOnline string
}

// MakeRow formats a sample taken at t. Times are UTC, whole seconds.
func MakeRow(t time.Time, playersOnline, serversOnline int) Row {
	return Row{
		Time:          t.UTC().Format(timeLayout),
		PlayersOnline: strconv.Itoa(playersOnline),
		ServersOnline: strconv.Itoa(serversOnline),
	}
}

// Manager accumulates rows and mirrors them to a CSV file. With an empty
// path it is disabled and silently drops samples, matching a deployment
// that has no stats volume mounted.
type Manager struct {
	logger *slog.Logger

	mu      sync.Mutex
	path    string
	rows    []Row
	lastAdd time.Time
	hasLast bool
	rate    time.Duration
}

// NewManager opens (or creates) the live stats file at path and loads any
// rows already in it.
func NewManager(path string, rate time.Duration, logger *slog.Logger) (*Manager, error) {
	m := &Manager{
		logger: logger,
		path:   path,
		rate:   rate,
	}

	if path == "" {
		logger.Warn("Stats recording disabled: no CSV path configured")
		return m, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte(Header+"\n"), 0o644); err != nil {
			return nil, fmt.Errorf("create stats file %s: %w", path, err)
		}
		logger.Info("Created empty stats file", slog.String("path", path))
		return m, nil
	}

	rows, err := LoadRows(path)
	if err != nil {
		return nil, err
	}
	m.rows = rows
	logger.Info("Loaded stats file", slog.String("path", path), slog.Int("rows", len(rows)))
	return m, nil
}

// LoadRows reads a stats CSV. The file must begin with the exact header;
// a trailing \r is tolerated for files edited on Windows.
func LoadRows(path string) ([]Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stats file %s: %w", path, err)
	}

	content := string(data)
	firstLine, rest, _ := strings.Cut(content, "\n")
	if strings.TrimRight(firstLine, "\r") != Header {
		return nil, fmt.Errorf("stats file %s does not start with header %q", path, Header)
	}

	reader := csv.NewReader(strings.NewReader(rest))
	reader.FieldsPerRecord = 3
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse stats file %s: %w", path, err)
	}

	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, Row{Time: rec[0], PlayersOnline: rec[1], ServersOnline: rec[2]})
	}
	return rows, nil
}

// SetRate changes the minimum interval between samples.
func (m *Manager) SetRate(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rate = d
}

func (m *Manager) Rate() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate
}

// Rows returns a copy of the accumulated rows.
func (m *Manager) Rows() []Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Row, len(m.rows))
	copy(out, m.rows)
	return out
}

// MaybeSample appends a row unless one was added within the sampling rate.
// It reports whether a row was recorded.
func (m *Manager) MaybeSample(now time.Time, playersOnline, serversOnline int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.path == "" {
		return false
	}
	if m.hasLast && now.Sub(m.lastAdd) <= m.rate {
		return false
	}

	row := MakeRow(now, playersOnline, serversOnline)
	if err := m.appendToFile(row); err != nil {
		// A full disk must not take server reporting down with it.
		m.logger.Error("Failed to append stats row", slog.Any("error", err))
		return false
	}

	m.rows = append(m.rows, row)
	m.lastAdd = now
	m.hasLast = true
	m.logger.Debug("Stats sample recorded",
		slog.String("time", row.Time),
		slog.Int("playersOnline", playersOnline),
		slog.Int("serversOnline", serversOnline))
	return true
}

func (m *Manager) appendToFile(row Row) error {
	f, err := os.OpenFile(m.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line := row.Time + "," + row.PlayersOnline + "," + row.ServersOnline + "\n"
	if _, err := f.WriteString(line); err != nil {
		return err
	}
	return nil
}

// Dump renders the CSV body served to clients. An empty live set yields the
// header only, historical rows included or not.
func Dump(historical, live []Row, excludedDates []string) string {
	var b strings.Builder
	b.WriteString(Header + "\n")
	if len(live) == 0 {
		return b.String()
	}

	for _, row := range historical {
		writeUnlessExcluded(&b, row, excludedDates)
	}
	for _, row := range live {
		writeUnlessExcluded(&b, row, excludedDates)
	}
	return b.String()
}

func writeUnlessExcluded(b *strings.Builder, row Row, excludedDates []string) {
	for _, prefix := range excludedDates {
		if strings.HasPrefix(row.Time, prefix) {
			return
		}
	}
	b.WriteString(row.Time + "," + row.PlayersOnline + "," + row.ServersOnline + "\n")
}
