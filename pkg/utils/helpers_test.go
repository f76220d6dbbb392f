package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	require.Equal(t, 30*time.Second, ParseDuration("30s", time.Minute))
	require.Equal(t, time.Minute, ParseDuration("", time.Minute))
	require.Equal(t, time.Minute, ParseDuration("not-a-duration", time.Minute))
}

func TestNumeric(t *testing.T) {
	require.Equal(t, 42.0, Numeric(42))
	require.Equal(t, 42.5, Numeric("42.5"))
	require.Equal(t, 7.0, Numeric(" 7 "))
	require.Equal(t, 0.0, Numeric("n/a"))
	require.Equal(t, 0.0, Numeric(nil))
	require.Equal(t, 0.0, Numeric(map[string]string{}))
}

func TestPeriodKey(t *testing.T) {
	require.Equal(t, "2026-W03", PeriodKey(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)))
	// Jan 1 2027 falls in ISO week 53 of 2026.
	require.Equal(t, "2026-W53", PeriodKey(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestPeriodKeySortsChronologically(t *testing.T) {
	earlier := PeriodKey(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	later := PeriodKey(time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC))
	require.Less(t, earlier, later)
}

func TestAtomicWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.txt")

	require.NoError(t, AtomicWriteFile(path, []byte("hello"), 0644))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), content)

	// No temp file debris left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestAtomicWriteFileOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, AtomicWriteFile(path, []byte("first"), 0644))
	require.NoError(t, AtomicWriteFile(path, []byte("second"), 0644))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), content)
}
