// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package types contains the data model and core interfaces shared across
// the query and transform engine: datasources, actors, the transform DSL,
// request/response shapes, sync bookkeeping records, and the row/cell
// representation used for results that cross dialect boundaries.
package types

import (
	"time"

	"github.com/querysync/core/internal/sql/dialect"
)

// DatasourceKind enumerates the backend kinds a Datasource can describe.
type DatasourceKind string

// The six datasource kinds.
const (
	KindEmbeddedColumnar DatasourceKind = "embedded-columnar"
	KindPostgresFamily   DatasourceKind = "postgres-family"
	KindMySQLFamily      DatasourceKind = "mysql-family"
	KindMSSQLFamily      DatasourceKind = "mssql-family"
	KindSQLite           DatasourceKind = "sqlite"
	KindHTTPAPI          DatasourceKind = "http-api"
)

// SQLDialect maps a DatasourceKind to the SQL dialect used to compile
// queries against it. http-api datasources have no SQL dialect of their
// own; callers must not call this for KindHTTPAPI.
func (k DatasourceKind) SQLDialect() dialect.Kind {
	switch k {
	case KindEmbeddedColumnar:
		return dialect.EmbeddedColumnar
	case KindPostgresFamily:
		return dialect.Postgres
	case KindMySQLFamily:
		return dialect.MySQL
	case KindMSSQLFamily:
		return dialect.MSSQL
	case KindSQLite:
		return dialect.SQLite
	default:
		return dialect.EmbeddedColumnar
	}
}

// BlackoutWindow is a time-of-day range, possibly wrapping midnight,
// during which sync runs against a datasource are rejected.
type BlackoutWindow struct {
	// Start and End are "HH:MM", evaluated in UTC; Datasource carries no
	// timezone.
	Start string
	End   string
}

// Datasource is an opaque descriptor created and owned by an external
// collaborator; the core only reads it, referencing it by ID throughout.
type Datasource struct {
	ID                 string
	Kind               DatasourceKind
	Name               string
	EncryptedConn      string // opaque; decrypted by an external collaborator before use.
	Options            DatasourceOptions
	OwnerID            string
	Active             bool
	MaxConcurrentSyncs int
	Blackouts          []BlackoutWindow
}

// DatasourceOptions is the decoded form of a Datasource's opaque options
// blob, including the transform DSL and a handful of supplemental
// knobs.
type DatasourceOptions struct {
	Transforms []TransformItem

	// MaxRowsOverride, when > 0, clamps QUERY_MAX_LIMIT further for this
	// datasource specifically.
	MaxRowsOverride int

	// UserScopedTables is decoded from the options blob but not read: the
	// embedded store does not produce per-owner table name variants.
	UserScopedTables bool
}

// Actor is the caller identity used for rate-limiting and ACL checks
// (GLOSSARY). The core treats it as an opaque, comparable token.
type Actor struct {
	ID string
}

// CacheTTLDefault is the default Result Cache TTL.
const CacheTTLDefault = 5 * time.Second

// HeavyQueryLimitThreshold is the row-limit at or above which a query request is
// classified "heavy" for concurrency-gating purposes.
const HeavyQueryLimitThreshold = 5000

// QueryMaxLimitDefault is the default clamp applied to paginated row
// requests.
const QueryMaxLimitDefault = 10000
