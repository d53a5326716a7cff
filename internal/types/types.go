// Package types defines the core data structures for the recona pipeline.
package types

import (
	"strings"
	"time"
)

// FileStatus tracks an uploaded file through the pipeline.
type FileStatus string

const (
	FileUploaded   FileStatus = "uploaded"
	FileProcessing FileStatus = "processing"
	FileProcessed  FileStatus = "processed"
	FileFailed     FileStatus = "failed"
)

// ReconciliationStatus is the final verdict stamped on a report row.
type ReconciliationStatus string

const (
	Reconciled   ReconciliationStatus = "RECONCILED"
	Unreconciled ReconciliationStatus = "UNRECONCILED"
)

// DataSource identifies a named input stream and its row-identity rule.
type DataSource struct {
	Name           string   `json:"name"`
	UniqueIDs      []string `json:"unique_ids"`
	SelectedFields []string `json:"selected_fields,omitempty"`
	// AllowNullIdentity controls rows missing a unique_ids component:
	// true inserts them with a null unique_id (warned), false rejects them.
	AllowNullIdentity bool      `json:"allow_null_identity"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NormalizeName lowercases a data-source name for storage and lookup.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RawCollection returns the raw staging collection for the source.
func (ds *DataSource) RawCollection() string { return NormalizeName(ds.Name) }

// ProcessedCollection returns the processed collection for the source.
func (ds *DataSource) ProcessedCollection() string {
	return NormalizeName(ds.Name) + "_processed"
}

// BackupCollection returns the append-only archive collection for the source.
func (ds *DataSource) BackupCollection() string {
	return NormalizeName(ds.Name) + "_backup"
}

// ConditionOperator is a filter predicate operator on source rows.
type ConditionOperator string

const (
	OpEq  ConditionOperator = "eq"
	OpNe  ConditionOperator = "ne"
	OpGt  ConditionOperator = "gt"
	OpLt  ConditionOperator = "lt"
	OpGe  ConditionOperator = "ge"
	OpLe  ConditionOperator = "le"
	OpIn  ConditionOperator = "in"
	OpNin ConditionOperator = "nin"
)

// ValidOperator reports whether op is one of the supported predicate operators.
func ValidOperator(op ConditionOperator) bool {
	switch op {
	case OpEq, OpNe, OpGt, OpLt, OpGe, OpLe, OpIn, OpNin:
		return true
	}
	return false
}

// SourceCondition filters which processed rows a report evaluates.
type SourceCondition struct {
	Column   string            `json:"column" toml:"column"`
	Operator ConditionOperator `json:"operator" toml:"operator"`
	Value    interface{}       `json:"value" toml:"value"`
}

// ClauseType selects the comparison used by a piecewise formula clause.
type ClauseType string

const (
	ClauseEqual        ClauseType = "equal"
	ClauseGreaterThan  ClauseType = "greater_than"
	ClauseLessThan     ClauseType = "less_than"
	ClauseGreaterEqual ClauseType = "greater_equal"
	ClauseLessEqual    ClauseType = "less_equal"
	ClauseBetween      ClauseType = "between"
)

// FormulaClause is one piecewise lookup clause. When a formula carries
// clauses, the arithmetic result becomes the base value and the first
// matching clause's FormulaValue is returned instead; no match yields zero.
type FormulaClause struct {
	ConditionType ClauseType `json:"conditionType" toml:"condition_type"`
	Value1        float64    `json:"value1" toml:"value1"`
	Value2        *float64   `json:"value2,omitempty" toml:"value2"`
	FormulaValue  float64    `json:"formulaValue" toml:"formula_value"`
}

// Formula computes one derived column.
type Formula struct {
	LogicNameKey string          `json:"logicNameKey" toml:"logic_name_key"`
	FormulaText  string          `json:"formulaText" toml:"formula_text"`
	Conditions   []FormulaClause `json:"conditions,omitempty" toml:"conditions"`
}

// DeltaColumn is a post-merge arithmetic expression over derived fields.
type DeltaColumn struct {
	DeltaColumnName string `json:"delta_column_name" toml:"delta_column_name"`
	Value           string `json:"value" toml:"value"`
}

// Reason emits a human-readable tag when |delta| exceeds |threshold|.
// MustCheck=false short-circuits reason evaluation after the first match;
// true forces evaluation regardless of earlier matches.
type Reason struct {
	Reason      string  `json:"reason" toml:"reason"`
	DeltaColumn string  `json:"delta_column" toml:"delta_column"`
	Threshold   float64 `json:"threshold" toml:"threshold"`
	MustCheck   bool    `json:"must_check" toml:"must_check"`
}

// FormulaDocument is a full report specification. ReportName doubles as the
// target collection name.
type FormulaDocument struct {
	ReportName   string                       `json:"report_name" toml:"report_name"`
	Formulas     []Formula                    `json:"formulas" toml:"formulas"`
	MappingKeys  map[string][]string          `json:"mapping_keys" toml:"mapping_keys"`
	Conditions   map[string][]SourceCondition `json:"conditions,omitempty" toml:"conditions"`
	DeltaColumns []DeltaColumn                `json:"delta_columns,omitempty" toml:"delta_columns"`
	Reasons      []Reason                     `json:"reasons,omitempty" toml:"reasons"`
	// StrictDeltas flags a row UNRECONCILED when a reason references a delta
	// column the row does not carry, instead of treating it as zero.
	StrictDeltas bool      `json:"strict_deltas,omitempty" toml:"strict_deltas"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UploadedFile is the per-file upload record kept in uploaded_files.
type UploadedFile struct {
	ID          string     `json:"_id,omitempty"`
	FileName    string     `json:"file_name"`
	SourceName  string     `json:"source_name"`
	Status      FileStatus `json:"status"`
	RowCount    int        `json:"row_count"`
	Error       string     `json:"error,omitempty"`
	UploadedAt  time.Time  `json:"uploaded_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Reserved attribute names stamped onto documents by the pipeline.
const (
	FieldUniqueID    = "unique_id"
	FieldProcessedAt = "processed_at"
	FieldUpdatedAt   = "updated_at"
	FieldReason      = "reason"
	FieldReconStatus = "reconciliation_status"
)

// Well-known collection names.
const (
	CollDataSources   = "raw_data_collection"
	CollFieldMappings = "collection_field_mappings"
	CollFormulas      = "formulas"
	CollUploadedFiles = "uploaded_files"
)

// MappingKeyField returns the report attribute holding a source collection's
// composite mapping key, e.g. "orders_mapping_key".
func MappingKeyField(baseName string) string {
	return NormalizeName(baseName) + "_mapping_key"
}

// SystemField reports whether an attribute is pipeline metadata rather than
// a candidate operand for delta expressions.
func SystemField(name string) bool {
	switch name {
	case "_id", FieldProcessedAt, FieldUpdatedAt, FieldReason, FieldReconStatus:
		return true
	}
	return strings.HasSuffix(name, "_mapping_key")
}
