// Package ingest drives HTTP-sourced syncs for http-api datasources. A
// task's configuration (endpoint, auth, pagination, placeholders) is the
// decoded JSON payload carried in the SyncTask's CustomQuery field, the
// same slot a SQL-family task would use for a hand-written query,
// generalized here from raw SQL text to an opaque per-kind config string.
package ingest

// Config is the decoded form of a SyncTask.CustomQuery payload for an
// http-api datasource.
type Config struct {
	Endpoint     string            `json:"endpoint"`
	Method       string            `json:"method"`
	Headers      []KV              `json:"headers"`
	Query        []KV              `json:"query"`
	Body         string            `json:"body"`
	Placeholders []Placeholder     `json:"placeholders"`
	JSONRoot     string            `json:"jsonRoot"`
	Parse        string            `json:"parse"`
	WriteMode    string            `json:"writeMode"`
	Auth         AuthConfig        `json:"auth"`
	Pagination   PaginationConfig  `json:"pagination"`
	Sequence     SequenceConfig    `json:"sequence"`
	GapFill      GapFillConfig     `json:"gapFill"`
}

// KV is a header or query-string entry; slice-of-pairs rather than a map
// so request order is stable and a key can legally repeat.
type KV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PlaceholderKind enumerates how a placeholder's value is resolved.
type PlaceholderKind string

// PlaceholderKind values.
const (
	PlaceholderStatic PlaceholderKind = "static"
	PlaceholderDate   PlaceholderKind = "date"
)

// Placeholder declares one named template token substituted into the
// endpoint URL, headers, query values, and body before the request.
type Placeholder struct {
	Name   string          `json:"name"`
	Kind   PlaceholderKind `json:"kind"`
	Value  string          `json:"value"`
	Format string          `json:"format"`
}

// AuthType enumerates the supported auth flows.
type AuthType string

// Supported auth flows.
const (
	AuthNone         AuthType = "none"
	AuthBearer       AuthType = "bearer"
	AuthAPIKeyHeader AuthType = "apiKeyHeader"
	AuthAPIKeyQuery  AuthType = "apiKeyQuery"
	AuthBasic        AuthType = "basic"
	AuthOAuth2CC     AuthType = "oauth2ClientCredentials"
)

// AuthConfig configures one auth flow. Fields not relevant to Type are
// ignored.
type AuthConfig struct {
	Type          AuthType `json:"type"`
	Token         string   `json:"token"`
	Header        string   `json:"header"`
	Param         string   `json:"param"`
	ValueTemplate string   `json:"valueTemplate"`
	Username      string   `json:"username"`
	Password      string   `json:"password"`
	TokenURL      string   `json:"tokenUrl"`
	ClientID      string   `json:"clientId"`
	ClientSecret  string   `json:"clientSecret"`
	Scope         string   `json:"scope"`
}

// PaginationType enumerates the supported pagination strategies.
type PaginationType string

// Supported pagination strategies.
const (
	PaginationNone   PaginationType = "none"
	PaginationPage   PaginationType = "page"
	PaginationCursor PaginationType = "cursor"
)

// PaginationConfig configures one pagination strategy. Fields not
// relevant to Type are ignored.
type PaginationConfig struct {
	Type            PaginationType `json:"type"`
	PageParam       string         `json:"pageParam"`
	PageSizeParam   string         `json:"pageSizeParam"`
	PageSize        int            `json:"pageSize"`
	PageStart       int            `json:"pageStart"`
	MaxPages        int            `json:"maxPages"`
	CursorParam     string         `json:"cursorParam"`
	NextCursorPath  string         `json:"nextCursorPath"`
}

// SequenceConfig configures the date-range watermark a sequenced sync
// advances through on each run.
type SequenceConfig struct {
	Enabled    bool   `json:"enabled"`
	Mode       string `json:"mode"`
	DateField  string `json:"dateField"`
	WindowDays int    `json:"windowDays"`
	StartParam string `json:"startParam"`
	EndParam   string `json:"endParam"`
}

// GapFillConfig configures the optional post-insert gap-fill step.
// Columns and Method generalize "fill every non-key column with ffill"
// into an explicit column subset and an ffill/zero method switch.
type GapFillConfig struct {
	Enabled   bool     `json:"enabled"`
	DateField string   `json:"dateField"`
	KeyFields string   `json:"keyFields"`
	Columns   []string `json:"columns"`
	Method    string   `json:"method"`
}
