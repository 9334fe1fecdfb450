package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/mmrzaf/listmat/internal/domain"
	"github.com/mmrzaf/listmat/internal/registry"
)

type Validator struct {
	entities *registry.EntityRegistry
}

func NewValidator(entities *registry.EntityRegistry) *Validator {
	return &Validator{entities: entities}
}

// identifier validation: allow simple SQL identifiers only (prevents injection via table/column names).
var (
	identRe       = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	reservedWords = map[string]struct{}{
		"add": {}, "all": {}, "alter": {}, "and": {}, "any": {}, "as": {},
		"asc": {}, "between": {}, "by": {}, "case": {}, "check": {},
		"column": {}, "constraint": {}, "create": {}, "cross": {}, "current_date": {},
		"current_time": {}, "current_timestamp": {}, "database": {}, "default": {}, "delete": {},
		"desc": {}, "distinct": {}, "do": {}, "drop": {}, "else": {},
		"end": {}, "except": {}, "exists": {}, "false": {}, "for": {},
		"foreign": {}, "from": {}, "full": {}, "grant": {}, "group": {},
		"having": {}, "in": {}, "index": {}, "inner": {}, "insert": {},
		"intersect": {}, "into": {}, "is": {}, "join": {}, "key": {},
		"left": {}, "like": {}, "limit": {}, "natural": {}, "not": {},
		"null": {}, "offset": {}, "on": {}, "or": {}, "order": {},
		"outer": {}, "primary": {}, "references": {}, "returning": {}, "revoke": {},
		"right": {}, "schema": {}, "select": {}, "set": {}, "table": {},
		"then": {}, "to": {}, "true": {}, "truncate": {}, "union": {},
		"unique": {}, "update": {}, "user": {}, "using": {}, "values": {},
		"view": {}, "when": {}, "where": {}, "with": {},
	}
)

func IsValidIdentifier(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if !identRe.MatchString(s) {
		return false
	}
	if _, ok := reservedWords[strings.ToLower(s)]; ok {
		return false
	}
	return true
}

const (
	maxNameLength  = 200
	maxQueryLength = 64 * 1024
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// ValidateEntityType checks that every name used to build SQL is a plain identifier.
func ValidateEntityType(et *domain.EntityType) error {
	if et == nil {
		return errors.New("entity type is required")
	}
	if !IsValidIdentifier(et.Name) {
		return fmt.Errorf("invalid entity identifier: %s", et.Name)
	}
	if !IsValidIdentifier(et.Table) {
		return fmt.Errorf("entity %s: invalid table identifier: %s", et.Name, et.Table)
	}
	if !IsValidIdentifier(et.IDColumn) {
		return fmt.Errorf("entity %s: invalid id_column identifier: %s", et.Name, et.IDColumn)
	}
	if et.DeletedColumn != "" && !IsValidIdentifier(et.DeletedColumn) {
		return fmt.Errorf("entity %s: invalid deleted_column identifier: %s", et.Name, et.DeletedColumn)
	}
	if len(et.Columns) == 0 {
		return fmt.Errorf("entity %s: at least one column is required", et.Name)
	}

	seen := make(map[string]bool, len(et.Columns))
	for _, col := range et.Columns {
		if !IsValidIdentifier(col.Name) {
			return fmt.Errorf("entity %s: invalid column identifier: %s", et.Name, col.Name)
		}
		if seen[col.Name] {
			return fmt.Errorf("entity %s: duplicate column name: %s", et.Name, col.Name)
		}
		seen[col.Name] = true
		if !isValidColumnType(col.Type) {
			return fmt.Errorf("entity %s: column %s: invalid column type: %s", et.Name, col.Name, col.Type)
		}
	}
	return nil
}

func isValidColumnType(t domain.ColumnType) bool {
	switch t {
	case domain.ColumnTypeInt, domain.ColumnTypeBigInt, domain.ColumnTypeFloat,
		domain.ColumnTypeString, domain.ColumnTypeText, domain.ColumnTypeBool,
		domain.ColumnTypeTimestamp, domain.ColumnTypeDate, domain.ColumnTypeUUID:
		return true
	}
	return false
}

func (v *Validator) ValidateCreateList(req *domain.CreateListRequest) error {
	if req == nil {
		return invalid("request body is required")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return invalid("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return invalid("name is longer than %d characters", maxNameLength)
	}
	if _, err := v.entities.Get(req.EntityType); err != nil {
		return invalid("unknown entity type %q", req.EntityType)
	}
	return validateQuery(req.Query)
}

func validateQuery(q string) error {
	if strings.TrimSpace(q) == "" {
		return invalid("query is required")
	}
	if len(q) > maxQueryLength {
		return invalid("query is longer than %d bytes", maxQueryLength)
	}
	if strings.Contains(q, ";") {
		return invalid("query must be a single expression")
	}
	return nil
}

// ValidateExportFields requires a non-empty list of distinct columns of et.
func (v *Validator) ValidateExportFields(et *domain.EntityType, fields []string) error {
	if len(fields) == 0 {
		return invalid("at least one export field is required")
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f] {
			return invalid("duplicate export field %q", f)
		}
		seen[f] = true
		if _, ok := et.Column(f); !ok {
			return invalid("entity %s has no column %q", et.Name, f)
		}
	}
	return nil
}
