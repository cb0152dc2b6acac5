/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"trace":   logrus.TraceLevel,
		"DEBUG":   logrus.DebugLevel,
		" warn ":  logrus.WarnLevel,
		"warning": logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"":        logrus.InfoLevel,
		"bogus":   logrus.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLogLevel(in), in)
	}
}

func TestNewLoggerIsRegistered(t *testing.T) {
	l := NewLogger("TEST-REG")
	assert.Same(t, l, NewLogger("TEST-REG"))

	assert.True(t, SetLoggerLevel("TEST-REG", "debug"))
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.False(t, SetLoggerLevel("TEST-MISSING", "debug"))
}

func TestConsoleOutputCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	SetConsoleOutput(&buf)
	t.Cleanup(func() { SetConsoleOutput(nil) })

	l := NewLogger("TEST-OUT")
	l.SetLevel(logrus.InfoLevel)
	l.WithFields(logrus.Fields{"table": "contacts", "rows": 3}).Info("deleted")

	out := buf.String()
	assert.Contains(t, out, "deleted")
	assert.Contains(t, out, "rows=3 table=contacts")
	assert.Contains(t, out, "logger_test.go:")
}

func TestJSONLogFormatter(t *testing.T) {
	f := &JSONLogFormatter{LoggerName: "DATABASE", PathFmt: PathFormatFilenameOnly}
	entry := logrus.WithFields(logrus.Fields{"error": errors.New("boom"), "id": 7})
	entry.Level = logrus.WarnLevel
	entry.Message = "slow query"

	b, err := f.Format(entry)
	require.NoError(t, err)

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &rec))
	assert.Equal(t, "warning", rec["level"])
	assert.Equal(t, "DATABASE", rec["logger"])
	assert.Equal(t, "slow query", rec["message"])
	fields := rec["fields"].(map[string]interface{})
	assert.Equal(t, "boom", fields["error"])
	assert.EqualValues(t, 7, fields["id"])
}

func TestCallerString(t *testing.T) {
	assert.Equal(t, "store.go:12", callerString(PathFormatFilenameOnly, "/src/app/database/store.go", 12))
	assert.Equal(t, "database/store.go:12", callerString(PathFormatShortRelative, "/src/app/database/store.go", 12))
	assert.Equal(t, "ore.go:1", limitRunesTail("store.go:1", 8))
	assert.Equal(t, "  ab", padLeft("ab", 4))
}

func TestEnvDefaults(t *testing.T) {
	t.Setenv("CONTACTS_TEST_BOOL", "true")
	t.Setenv("CONTACTS_TEST_BAD", "maybe")
	assert.True(t, EnvDefaultBool("CONTACTS_TEST_BOOL", false))
	assert.False(t, EnvDefaultBool("CONTACTS_TEST_BAD", false))
	assert.Equal(t, "fallback", EnvDefaultString("CONTACTS_TEST_UNSET", "fallback"))
}
