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
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"
)

// backend knows how to reach one database type.
type backend struct {
	driver  func(c *ConnectionConfig) string
	dsn     func(c *ConnectionConfig) string
	dialect func() schema.Dialect
}

var backends = map[string]backend{
	"postgres":   {driver: postgresDriver, dsn: postgresDSN, dialect: func() schema.Dialect { return pgdialect.New() }},
	"postgresql": {driver: postgresDriver, dsn: postgresDSN, dialect: func() schema.Dialect { return pgdialect.New() }},
	"mysql":      {driver: constDriver("mysql"), dsn: mysqlDSN, dialect: func() schema.Dialect { return mysqldialect.New() }},
	"sqlite":     {driver: constDriver(sqliteshim.ShimName), dsn: sqliteDSN, dialect: func() schema.Dialect { return sqlitedialect.New() }},
	"sqlite3":    {driver: constDriver(sqliteshim.ShimName), dsn: sqliteDSN, dialect: func() schema.Dialect { return sqlitedialect.New() }},
}

// openDB opens the pool described by c without connecting.
func openDB(c *ConnectionConfig) (*sql.DB, *bun.DB, error) {
	b, ok := backends[c.Type]
	if !ok {
		return nil, nil, fmt.Errorf("unsupported database type: %s", c.Type)
	}
	sqlDB, err := sql.Open(b.driver(c), b.dsn(c))
	if err != nil {
		return nil, nil, err
	}
	return sqlDB, bun.NewDB(sqlDB, b.dialect()), nil
}

func constDriver(name string) func(*ConnectionConfig) string {
	return func(*ConnectionConfig) string { return name }
}

// lib/pq registers "postgres", pgx/v5/stdlib registers "pgx".
func postgresDriver(c *ConnectionConfig) string {
	if c.Driver == "pgx" {
		return "pgx"
	}
	return "postgres"
}

func postgresDSN(c *ConnectionConfig) string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout/time.Second)))
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func mysqlDSN(c *ConnectionConfig) string {
	charset := c.Charset
	if charset == "" {
		charset = "utf8mb4"
	}
	cfg := mysql.NewConfig()
	cfg.User = c.Username
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	cfg.DBName = c.DBName
	cfg.ParseTime = true
	cfg.Loc = time.Local
	cfg.Timeout = c.ConnectTimeout
	cfg.ReadTimeout = c.ReadTimeout
	cfg.WriteTimeout = c.WriteTimeout
	cfg.Params = map[string]string{"charset": charset}
	return cfg.FormatDSN()
}

func sqliteDSN(c *ConnectionConfig) string {
	if c.IsMemory() {
		return ":memory:"
	}
	return c.DBName + ".db"
}
