package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dekarrin/rowsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_New(t *testing.T) {
	testCases := []struct {
		name       string
		provider   rowsync.LogProvider
		filename   string
		expectSink sink
		expectErr  bool
	}{
		{
			name:       "jellog log",
			provider:   rowsync.Jellog,
			filename:   "test-jellog.log",
			expectSink: jellogSink{},
		},
		{
			name:       "standard log",
			provider:   rowsync.StdLog,
			filename:   "test-std.log",
			expectSink: stdSink{},
		},
		{
			name:      "NoLog provider is an error",
			provider:  rowsync.NoLog,
			filename:  "test-none.log",
			expectErr: true,
		},
		{
			name:      "unknown provider is an error",
			provider:  rowsync.LogProvider(-1),
			filename:  "test-unknown.log",
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			filePath := filepath.Join(t.TempDir(), tc.filename)

			actual, err := New(tc.provider, "rowsync-test", filePath)

			if tc.expectErr {
				assert.Error(err)
				return
			}
			if !assert.NoError(err) {
				return
			}
			if assert.IsType(leveled{}, actual) {
				assert.IsType(tc.expectSink, actual.(leveled).sink)
			}
		})
	}
}

func Test_StdLogger_Levels(t *testing.T) {
	assert := assert.New(t)
	file := filepath.Join(t.TempDir(), "std.log")

	log, err := New(rowsync.StdLog, "store", file)
	require.NoError(t, err)

	log.Trace("t")
	log.Debugf("d%d", 1)
	log.Info("i")
	log.InfoBreak()
	log.Warnf("w %q", "x")
	log.Error("e")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")

	if assert.Len(lines, 6) {
		assert.True(strings.HasSuffix(lines[0], "store: TRACE t"), lines[0])
		assert.True(strings.HasSuffix(lines[1], "store: DEBUG d1"), lines[1])
		assert.True(strings.HasSuffix(lines[2], "store: INFO  i"), lines[2])
		assert.Equal("", lines[3])
		assert.True(strings.HasSuffix(lines[4], `store: WARN  w "x"`), lines[4])
		assert.True(strings.HasSuffix(lines[5], "store: ERROR e"), lines[5])
	}
}

func Test_FromConfig(t *testing.T) {
	t.Run("disabled gives no-op logger", func(t *testing.T) {
		assert := assert.New(t)

		actual, err := FromConfig(rowsync.LogConfig{Provider: rowsync.Jellog}, "rowsync-test")

		assert.NoError(err)
		assert.IsType(rowsync.NoOpLogger{}, actual)
	})

	t.Run("enabled std logger writes to file", func(t *testing.T) {
		assert := assert.New(t)
		file := filepath.Join(t.TempDir(), "std.log")

		actual, err := FromConfig(rowsync.LogConfig{Enabled: true, Provider: rowsync.StdLog, File: file}, "rowsync-test")
		if !assert.NoError(err) {
			return
		}
		actual.Warnf("cache population failed for %q", "abc")

		data, err := os.ReadFile(file)
		assert.NoError(err)
		assert.Contains(string(data), `WARN  cache population failed for "abc"`)
	})
}
