package stats

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stats.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestMakeRow(t *testing.T) {
	at := time.Date(2025, 3, 9, 14, 5, 7, 999_000_000, time.UTC)
	row := MakeRow(at, 123, 4)

	assert.Equal(t, "2025/03/09 14:05:07", row.Time)
	assert.Equal(t, "123", row.PlayersOnline)
	assert.Equal(t, "4", row.ServersOnline)
}

func TestMakeRowConvertsToUTC(t *testing.T) {
	zone := time.FixedZone("UTC+3", 3*60*60)
	at := time.Date(2025, 3, 9, 14, 0, 0, 0, zone)

	assert.Equal(t, "2025/03/09 11:00:00", MakeRow(at, 0, 0).Time)
}

func TestLoadRows(t *testing.T) {
	t.Run("HeaderOnly", func(t *testing.T) {
		rows, err := LoadRows(tempCSV(t, Header+"\n"))
		assert.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("WithRows", func(t *testing.T) {
		rows, err := LoadRows(tempCSV(t, Header+"\n2025/01/01 00:00:00,10,2\n2025/01/01 00:01:30,12,2\n"))
		assert.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "10", rows[0].PlayersOnline)
		assert.Equal(t, "2", rows[1].ServersOnline)
	})

	t.Run("ToleratesCRLF", func(t *testing.T) {
		rows, err := LoadRows(tempCSV(t, Header+"\r\n2025/01/01 00:00:00,10,2\r\n"))
		assert.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("RejectsWrongHeader", func(t *testing.T) {
		_, err := LoadRows(tempCSV(t, "Time,Players\n"))
		assert.Error(t, err)
	})

	t.Run("RejectsMissingFile", func(t *testing.T) {
		_, err := LoadRows(filepath.Join(t.TempDir(), "nope.csv"))
		assert.Error(t, err)
	})
}

func TestManagerCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.csv")
	m, err := NewManager(path, time.Minute, slog.Default())
	require.NoError(t, err)
	assert.Empty(t, m.Rows())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Header+"\n", string(data))
}

func TestMaybeSample(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("FirstSampleAlwaysRecorded", func(t *testing.T) {
		m, err := NewManager(tempCSV(t, Header+"\n"), time.Minute, slog.Default())
		require.NoError(t, err)

		assert.True(t, m.MaybeSample(base, 10, 2))
		assert.Len(t, m.Rows(), 1)
	})

	t.Run("DebouncedWithinRate", func(t *testing.T) {
		m, err := NewManager(tempCSV(t, Header+"\n"), time.Minute, slog.Default())
		require.NoError(t, err)

		assert.True(t, m.MaybeSample(base, 10, 2))
		assert.False(t, m.MaybeSample(base.Add(30*time.Second), 11, 2))
		assert.False(t, m.MaybeSample(base.Add(60*time.Second), 11, 2))
		assert.True(t, m.MaybeSample(base.Add(61*time.Second), 11, 2))
		assert.Len(t, m.Rows(), 2)
	})

	t.Run("AppendsToFile", func(t *testing.T) {
		path := tempCSV(t, Header+"\n")
		m, err := NewManager(path, time.Minute, slog.Default())
		require.NoError(t, err)

		m.MaybeSample(base, 10, 2)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, Header+"\n2025/06/01 12:00:00,10,2\n", string(data))
	})

	t.Run("DisabledWithoutPath", func(t *testing.T) {
		m, err := NewManager("", time.Minute, slog.Default())
		require.NoError(t, err)

		assert.False(t, m.MaybeSample(base, 10, 2))
		assert.Empty(t, m.Rows())
	})

	t.Run("RateChangeTakesEffect", func(t *testing.T) {
		m, err := NewManager(tempCSV(t, Header+"\n"), time.Minute, slog.Default())
		require.NoError(t, err)

		assert.True(t, m.MaybeSample(base, 10, 2))
		m.SetRate(time.Second)
		assert.True(t, m.MaybeSample(base.Add(2*time.Second), 11, 2))
	})

	t.Run("ReloadedManagerKeepsOldRows", func(t *testing.T) {
		path := tempCSV(t, Header+"\n")
		m, err := NewManager(path, time.Minute, slog.Default())
		require.NoError(t, err)
		m.MaybeSample(base, 10, 2)

		reloaded, err := NewManager(path, time.Minute, slog.Default())
		require.NoError(t, err)
		assert.Len(t, reloaded.Rows(), 1)
	})
}

func TestDump(t *testing.T) {
	historical := []Row{
		{Time: "2024/12/31 23:00:00", PlayersOnline: "5", ServersOnline: "1"},
		{Time: "2025/01/01 00:00:00", PlayersOnline: "7", ServersOnline: "1"},
	}
	live := []Row{
		{Time: "2025/06/01 12:00:00", PlayersOnline: "10", ServersOnline: "2"},
	}

	t.Run("EmptyLiveYieldsHeaderOnly", func(t *testing.T) {
		assert.Equal(t, Header+"\n", Dump(historical, nil, nil))
	})

	t.Run("HistoricalPrecedesLive", func(t *testing.T) {
		out := Dump(historical, live, nil)
		assert.Equal(t, Header+"\n"+
			"2024/12/31 23:00:00,5,1\n"+
			"2025/01/01 00:00:00,7,1\n"+
			"2025/06/01 12:00:00,10,2\n", out)
	})

	t.Run("ExcludedDatePrefixFiltered", func(t *testing.T) {
		out := Dump(historical, live, []string{"2024/12/31"})
		assert.NotContains(t, out, "2024/12/31")
		assert.Contains(t, out, "2025/01/01 00:00:00,7,1")
	})
}
