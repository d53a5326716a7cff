package formula

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/ledgerline/recona/internal/types"
)

// Report definition file extensions. TOML is preferred, JSON is the legacy
// fallback.
const (
	ReportExtTOML = ".report.toml"
	ReportExtJSON = ".report.json"
)

// LoadReportFile parses a report definition from a file path, detecting the
// format from the extension. The returned document is validated.
func LoadReportFile(path string) (*types.FormulaDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report file: %w", err)
	}

	var doc types.FormulaDocument
	switch {
	case strings.HasSuffix(path, ReportExtTOML) || strings.HasSuffix(path, ".toml"):
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%s: invalid TOML: %w", path, err)
		}
	case strings.HasSuffix(path, ReportExtJSON) || strings.HasSuffix(path, ".json"):
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%s: invalid JSON: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%s: unknown report format (want %s or %s)", path, ReportExtTOML, ReportExtJSON)
	}

	if err := ValidateDocument(&doc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &doc, nil
}

// ValidateDocument checks a report specification before it is persisted:
// report name present, every formula named with non-empty text, no duplicate
// logicNameKeys, mapping key field lists non-empty, operators and clause
// types from the supported sets.
func ValidateDocument(doc *types.FormulaDocument) error {
	if strings.TrimSpace(doc.ReportName) == "" {
		return fmt.Errorf("report_name is required")
	}
	if len(doc.Formulas) == 0 {
		return fmt.Errorf("report %s: at least one formula is required", doc.ReportName)
	}

	seen := make(map[string]bool, len(doc.Formulas))
	for i, f := range doc.Formulas {
		if strings.TrimSpace(f.LogicNameKey) == "" {
			return fmt.Errorf("formula %d: logicNameKey is required", i)
		}
		if strings.TrimSpace(f.FormulaText) == "" {
			return fmt.Errorf("formula %s: formulaText must be non-empty", f.LogicNameKey)
		}
		key := strings.ToLower(f.LogicNameKey)
		if seen[key] {
			return fmt.Errorf("duplicate logicNameKey %s", f.LogicNameKey)
		}
		seen[key] = true
		for _, c := range f.Conditions {
			switch c.ConditionType {
			case types.ClauseEqual, types.ClauseGreaterThan, types.ClauseLessThan,
				types.ClauseGreaterEqual, types.ClauseLessEqual:
			case types.ClauseBetween:
				if c.Value2 == nil {
					return fmt.Errorf("formula %s: between clause needs value2", f.LogicNameKey)
				}
			default:
				return fmt.Errorf("formula %s: unsupported clause type %q", f.LogicNameKey, c.ConditionType)
			}
		}
	}

	if len(doc.MappingKeys) == 0 {
		return fmt.Errorf("report %s: mapping_keys is required", doc.ReportName)
	}
	for base, fields := range doc.MappingKeys {
		if len(fields) == 0 {
			return fmt.Errorf("mapping_keys.%s: fields list must be non-empty", base)
		}
	}

	for base, conds := range doc.Conditions {
		if _, ok := doc.MappingKeys[base]; !ok {
			return fmt.Errorf("conditions.%s: no mapping_keys entry for this collection", base)
		}
		for _, c := range conds {
			if strings.TrimSpace(c.Column) == "" {
				return fmt.Errorf("conditions.%s: column is required", base)
			}
			if !types.ValidOperator(c.Operator) {
				return fmt.Errorf("conditions.%s: unsupported operator %q", base, c.Operator)
			}
		}
	}

	for _, d := range doc.DeltaColumns {
		if strings.TrimSpace(d.DeltaColumnName) == "" || strings.TrimSpace(d.Value) == "" {
			return fmt.Errorf("delta columns need both delta_column_name and value")
		}
	}
	for _, r := range doc.Reasons {
		if strings.TrimSpace(r.Reason) == "" || strings.TrimSpace(r.DeltaColumn) == "" {
			return fmt.Errorf("reasons need both reason and delta_column")
		}
	}
	return nil
}
