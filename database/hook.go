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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/uptrace/bun"
)

// Environment switches read on every query.
const (
	QueryLogEnv     = "DB_QUERY_LOG"      // "1" logs failures, "2" logs everything
	SlowQueryLogEnv = "DB_SLOW_QUERY_LOG" // "1" enables, anything else disables
)

var bunSqlSilentMode atomic.Bool

// EnableBunSqlSilent mutes the query hooks, e.g. while the schema is bootstrapped.
func EnableBunSqlSilent(b bool) {
	bunSqlSilentMode.Store(b)
}

var (
	tagColor = color.New(color.FgCyan)
	errColor = color.New(color.BgRed, color.FgHiWhite)

	operationColors = map[string]color.Attribute{
		"SELECT": color.FgGreen,
		"INSERT": color.FgBlue,
		"UPDATE": color.FgYellow,
		"DELETE": color.FgMagenta,
	}
)

// operationColor picks the color of a statement by its verb. Statements
// other than DML are red.
func operationColor(operation string, background bool) *color.Color {
	attr, ok := operationColors[operation]
	if !ok {
		attr = color.FgRed
	}
	if background {
		// background attributes sit 10 above their foreground counterparts
		return color.New(attr+10, color.FgHiWhite)
	}
	return color.New(attr)
}

// QueryHook echoes statements colored by operation.
type QueryHook struct {
	enabled bool
	verbose bool
	writer  io.Writer
}

var _ bun.QueryHook = (*QueryHook)(nil)

// NewQueryHook returns a hook writing to w, or stdout when w is nil. The
// QueryLogEnv variable overrides enabled and verbose when set.
func NewQueryHook(w io.Writer, enabled, verbose bool) *QueryHook {
	if w == nil {
		w = os.Stdout
	}
	return &QueryHook{enabled: enabled, verbose: verbose, writer: w}
}

func (h *QueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *QueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if bunSqlSilentMode.Load() {
		return
	}
	enabled, verbose := h.enabled, h.verbose
	if env, ok := os.LookupEnv(QueryLogEnv); ok {
		enabled = env != "" && env != "0"
		verbose = env == "2"
	}
	if !enabled || (!verbose && expectedOutcome(event.Err)) {
		return
	}

	now := time.Now()
	line := fmt.Sprintf("%s %s %17s   %s",
		now.Format("2006-01-02 15:04:05.000"),
		tagColor.Sprintf("%10s", "[BUN]"),
		now.Sub(event.StartTime).Round(time.Microsecond),
		operationColor(event.Operation(), false).Sprint(event.Query),
	)
	if event.Err != nil {
		line += "\t" + errColor.Sprintf(" %T: %v ", event.Err, event.Err)
	}
	_, _ = fmt.Fprintln(h.writer, line)
}

// expectedOutcome reports results that are not worth echoing outside
// verbose mode.
func expectedOutcome(err error) bool {
	return err == nil || errors.Is(err, sql.ErrNoRows) || errors.Is(err, sql.ErrTxDone)
}

// SlowQueryHook warns about successful statements slower than its threshold.
type SlowQueryHook struct {
	threshold time.Duration
	logger    Logger
}

var _ bun.QueryHook = (*SlowQueryHook)(nil)

// NewSlowQueryHook reports statements slower than threshold to logger. The
// SlowQueryLogEnv variable switches it off when set to anything but "1".
func NewSlowQueryHook(threshold time.Duration, logger Logger) *SlowQueryHook {
	if logger == nil {
		logger = GetLogger()
	}
	return &SlowQueryHook{threshold: threshold, logger: logger}
}

func (h *SlowQueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *SlowQueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if bunSqlSilentMode.Load() || event.Err != nil {
		return
	}
	if env, ok := os.LookupEnv(SlowQueryLogEnv); ok && strings.TrimSpace(env) != "1" {
		return
	}
	if d := time.Since(event.StartTime); d > h.threshold {
		h.logger.Warn("Database slow query detected",
			"duration", d.Round(time.Microsecond),
			"slow_threshold", h.threshold,
			"operation", event.Operation(),
			"query", operationColor(event.Operation(), true).Sprint(event.Query),
		)
	}
}
