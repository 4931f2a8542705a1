package types

// Scope identifies how narrowly a transform DSL item applies.
type Scope struct {
	// Kind is one of "datasource", "table", or "widget".
	Kind string
	// Name holds the table name when Kind=="table", or the widget ID when
	// Kind=="widget"; empty when Kind=="datasource".
	Name string
}

// Scope kinds.
const (
	ScopeDatasource = "datasource"
	ScopeTable      = "table"
	ScopeWidget     = "widget"
)

// Applies reports whether this scope applies to a query against the given
// table, optionally scoped further to a widget.
func (s Scope) Applies(table, widgetID string) bool {
	switch s.Kind {
	case ScopeDatasource:
		return true
	case ScopeTable:
		return s.Name == table
	case ScopeWidget:
		return s.Name == widgetID
	default:
		return false
	}
}

// CustomColumn is a named projection; expr may reference base columns and
// earlier aliases.
type CustomColumn struct {
	Scope Scope
	Name  string
	Expr  string
	// Type is a hint ("string", "number", "date", "boolean"); when empty
	// it is inferred from the expression shape.
	Type string
}

// TransformKind discriminates the Transform variants.
type TransformKind string

// The six transform variants.
const (
	TransformComputed     TransformKind = "computed"
	TransformCase         TransformKind = "case"
	TransformReplace      TransformKind = "replace"
	TransformTranslate    TransformKind = "translate"
	TransformNullHandling TransformKind = "nullHandling"
	TransformUnpivot      TransformKind = "unpivot"
)

// CaseBranch is one WHEN branch of a `case` transform.
type CaseBranch struct {
	WhenOp    string // emitted verbatim between WhenLeft and WhenRight (e.g. "=", "!=", ">", "<", ">=", "<="); "contains" is not translated to LIKE
	WhenLeft  string // expression or column reference
	WhenRight string // literal or expression
	Then      string
}

// NullHandlingMode enumerates the three null-coalescing functions a
// nullHandling transform can emit.
type NullHandlingMode string

// The three null-handling modes.
const (
	NullCoalesce NullHandlingMode = "coalesce"
	NullIsNull   NullHandlingMode = "isnull"
	NullIfNull   NullHandlingMode = "ifnull"
)

// UnpivotSpec widens each row into one row per named source column, with
// synthetic key/value columns (GLOSSARY).
type UnpivotSpec struct {
	SourceColumns []string
	KeyColumn     string
	ValueColumn   string
	OmitZeroNull  bool
}

// Transform is one item of the ordered transform sequence. Its Kind
// selects which of the optional fields is populated; no method checks
// that the fields for that Kind are set.
type Transform struct {
	Scope Scope
	Kind  TransformKind

	// computed
	ComputedName string
	ComputedExpr string

	// case
	CaseTarget string
	CaseWhens  []CaseBranch
	CaseElse   string

	// replace / translate
	Target      string
	Search      []string
	Replace     []string

	// nullHandling
	NullMode  NullHandlingMode
	NullValue string

	// unpivot
	Unpivot UnpivotSpec
}

// JoinType enumerates the supported join kinds.
type JoinType string

// The four join kinds.
const (
	JoinLeft    JoinType = "left"
	JoinInner   JoinType = "inner"
	JoinRight   JoinType = "right"
	JoinLateral JoinType = "lateral"
)

// JoinAggregate describes an aggregate-join's grouped subquery projection.
type JoinAggregate struct {
	Fn     string // "sum", "count", "avg", "min", "max"
	Column string
	Alias  string
}

// LateralCorrelation is one correlation predicate of a LATERAL join.
type LateralCorrelation struct {
	SourceCol string
	Op        string
	TargetCol string
}

// Join describes one join DSL item.
type Join struct {
	Scope       Scope
	Type        JoinType
	TargetTable string
	SourceKey   string
	TargetKey   string
	Columns     []string
	Aggregate   *JoinAggregate
	Filter      string

	// Lateral-only fields.
	Correlations []LateralCorrelation
	OrderBy      string
	Limit        int
}

// SortDefault is the optional default sort applied by the transform
// composer.
type SortDefault struct {
	By        string
	Direction string // "asc" | "desc"
}

// LimitTopNDefault is the optional default TopN limiting applied by the
// transform composer.
type LimitTopNDefault struct {
	N         int
	By        int // 1-based ordinal into the resolved column list
	Direction string
}

// Defaults bundles the optional per-scope sort/limit defaults.
type Defaults struct {
	Sort        *SortDefault
	LimitTopN   *LimitTopNDefault
}

// TransformItemKind discriminates which concrete DSL item a TransformItem
// wraps, since the ordered sequence interleaves CustomColumns,
// Transforms, Joins, and Defaults.
type TransformItemKind string

// The four item kinds that can appear in the ordered transform sequence.
const (
	ItemCustomColumn TransformItemKind = "customColumn"
	ItemTransform    TransformItemKind = "transform"
	ItemJoin         TransformItemKind = "join"
	ItemDefaults     TransformItemKind = "defaults"
)

// TransformItem is one element of the ordered transform DSL sequence.
type TransformItem struct {
	Kind         TransformItemKind
	CustomColumn *CustomColumn
	Transform    *Transform
	Join         *Join
	Defaults     *Defaults
}

// ForScope filters items to those whose scope applies to the given table
// and widget, preserving original order.
func ForScope(items []TransformItem, table, widgetID string) []TransformItem {
	var out []TransformItem
	for _, it := range items {
		var sc Scope
		switch it.Kind {
		case ItemCustomColumn:
			sc = it.CustomColumn.Scope
		case ItemTransform:
			sc = it.Transform.Scope
		case ItemJoin:
			sc = it.Join.Scope
		case ItemDefaults:
			// Defaults always apply once selected by the caller; scope is
			// carried on the wrapping item only when constructed with one.
			out = append(out, it)
			continue
		}
		if sc.Applies(table, widgetID) {
			out = append(out, it)
		}
	}
	return out
}
