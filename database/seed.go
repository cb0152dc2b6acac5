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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

const (
	commonSeedDir   = "common"
	unorderedSeed   = 999
	environmentsDir = "environments"
)

var fileOrderPattern = regexp.MustCompile(`^(\d+)_`)

// SQLInitManager seeds data by executing the SQL files of a file tree:
// common/*.sql first, then environments/<env>/*.sql, each group ordered by
// the NNN_ file name prefix. Every file runs in its own store scope.
type SQLInitManager struct {
	store       *Store
	fsys        fs.FS
	environment string
	logger      Logger
}

// SQLFileInfo describes a SQL file to be executed during initialization.
type SQLFileInfo struct {
	Path        string
	Name        string
	Order       int
	Environment string
}

// ExecutionResult contains the outcome of executing a single SQL file.
type ExecutionResult struct {
	File         string
	Success      bool
	Error        error
	Duration     time.Duration
	RowsAffected int64
}

// NewSQLInitManager creates a SQL initializer reading fsys for the given
// environment.
func NewSQLInitManager(store *Store, fsys fs.FS, environment string) *SQLInitManager {
	return &SQLInitManager{
		store:       store,
		fsys:        fsys,
		environment: environment,
		logger:      GetLogger(),
	}
}

// SetLogger replaces the logger.
func (s *SQLInitManager) SetLogger(logger Logger) {
	s.logger = logger
}

// ExecuteInitialization runs all discovered SQL files in order and stops at
// the first failing file. The returned error carries the failure's kind.
func (s *SQLInitManager) ExecuteInitialization(ctx context.Context) ([]ExecutionResult, error) {
	files, err := s.GetSQLFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to get SQL files: %w", err)
	}
	s.logger.Info("Starting SQL initialization", "environment", s.environment, "files", len(files))

	results := make([]ExecutionResult, 0, len(files))
	for _, file := range files {
		result := s.executeFile(ctx, file)
		results = append(results, result)
		if !result.Success {
			s.logger.Error("SQL file execution failed", "file", result.File, "error", result.Error)
			return results, fmt.Errorf("SQL file %s: %w", result.File, result.Error)
		}
		s.logger.Debug("SQL file executed", "file", result.File, "duration", result.Duration.String(), "rows_affected", result.RowsAffected)
	}
	s.logger.Info("SQL initialization completed", "total_files", len(results), "environment", s.environment)
	return results, nil
}

// GetSQLFiles returns the SQL files of the common and environment
// directories in execution order. Missing directories contribute nothing.
func (s *SQLInitManager) GetSQLFiles() ([]SQLFileInfo, error) {
	files, err := s.listDir(commonSeedDir, commonSeedDir)
	if err != nil || s.environment == "" {
		return files, err
	}
	envFiles, err := s.listDir(path.Join(environmentsDir, s.environment), s.environment)
	if err != nil {
		return nil, err
	}
	return append(files, envFiles...), nil
}

func (s *SQLInitManager) listDir(dir, environment string) ([]SQLFileInfo, error) {
	entries, err := fs.ReadDir(s.fsys, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var files []SQLFileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(path.Ext(e.Name()), ".sql") {
			continue
		}
		files = append(files, SQLFileInfo{
			Path:        path.Join(dir, e.Name()),
			Name:        e.Name(),
			Order:       parseFileOrder(e.Name()),
			Environment: environment,
		})
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Order != files[j].Order {
			return files[i].Order < files[j].Order
		}
		return files[i].Name < files[j].Name
	})
	return files, nil
}

// parseFileOrder reads the NNN_ prefix; files without one run last.
func parseFileOrder(filename string) int {
	if m := fileOrderPattern.FindStringSubmatch(filename); m != nil {
		if order, err := strconv.Atoi(m[1]); err == nil {
			return order
		}
	}
	return unorderedSeed
}

func (s *SQLInitManager) executeFile(ctx context.Context, file SQLFileInfo) (result ExecutionResult) {
	start := time.Now()
	result.File = file.Path
	defer func() { result.Duration = time.Since(start) }()

	content, err := fs.ReadFile(s.fsys, file.Path)
	if err != nil {
		result.Error = fmt.Errorf("failed to read file: %w", err)
		return result
	}
	statements := splitSQLStatements(string(content))

	result.Error = s.store.RunInTx(ctx, func(ctx context.Context, db bun.IDB) error {
		for _, stmt := range statements {
			res, err := db.ExecContext(ctx, stmt)
			if err != nil {
				return fmt.Errorf("statement %q: %w", stmt, err)
			}
			n, _ := res.RowsAffected()
			result.RowsAffected += n
		}
		return nil
	})
	result.Success = result.Error == nil
	return result
}

// splitSQLStatements splits a script on lines ending with ';'. Blank lines
// and "--" comment lines are dropped.
func splitSQLStatements(content string) []string {
	var statements []string
	var current strings.Builder

	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte(' ')
		if strings.HasSuffix(line, ";") {
			flush()
		}
	}
	flush()
	return statements
}
