package dataman

import (
	"fmt"
	"strings"

	"dataman/internal/psqltype"
)

type IssueKind string

const (
	IssueMissingColumn  IssueKind = "missing_column"   // есть в БД, нет в DTO
	IssueExtraColumn    IssueKind = "extra_column"     // есть в DTO, нет в БД
	IssueTypeMismatch   IssueKind = "type_mismatch"    // есть в обоих, типы не эквивалентны
	IssueSchemaNotFound IssueKind = "schema_not_found" // information_schema ничего не вернула
)

// LintIssue — одна находка линтера. Реализует error (schemaNotFound возвращается как ошибка).
type LintIssue struct {
	Kind     IssueKind
	Name     string
	Expected psqltype.Type
	Actual   psqltype.Type
	Schema   string
	Table    string
}

func MissingColumn(name string) LintIssue { return LintIssue{Kind: IssueMissingColumn, Name: name} }
func ExtraColumn(name string) LintIssue   { return LintIssue{Kind: IssueExtraColumn, Name: name} }

func TypeMismatch(name string, expected, actual psqltype.Type) LintIssue {
	return LintIssue{Kind: IssueTypeMismatch, Name: name, Expected: expected, Actual: actual}
}

func SchemaNotFound(schema, table string) LintIssue {
	return LintIssue{Kind: IssueSchemaNotFound, Schema: schema, Table: table}
}

func (i LintIssue) Error() string {
	switch i.Kind {
	case IssueMissingColumn:
		return "Missing column: " + i.Name
	case IssueExtraColumn:
		return "Extra column: " + i.Name
	case IssueTypeMismatch:
		return fmt.Sprintf("Type mismatch for %s: expected %s, actual %s", i.Name, i.Expected, i.Actual)
	case IssueSchemaNotFound:
		return fmt.Sprintf("Table not found: %s.%s", i.Schema, i.Table)
	}
	return "unknown lint issue"
}

func (i LintIssue) Reason() string {
	switch i.Kind {
	case IssueMissingColumn:
		return fmt.Sprintf("The database table contains column %q that the DTO does not declare.", i.Name)
	case IssueExtraColumn:
		return fmt.Sprintf("The DTO defines a column %q that is not present in the database.", i.Name)
	case IssueTypeMismatch:
		return fmt.Sprintf("The database type %s does not match the DTO's expected type %s.", i.Actual, i.Expected)
	case IssueSchemaNotFound:
		return fmt.Sprintf("No rows were returned from information_schema for %s.%s.", i.Schema, i.Table)
	}
	return ""
}

func (i LintIssue) Suggestion() string {
	switch i.Kind {
	case IssueMissingColumn:
		return fmt.Sprintf("Declare %q in the registry, or drop the column if it is obsolete.", i.Name)
	case IssueExtraColumn:
		return fmt.Sprintf("Drop the DTO field %q or add the corresponding column to the table.", i.Name)
	case IssueTypeMismatch:
		return fmt.Sprintf("Align the types for %q: migrate the table to %s or update the DTO to %s.", i.Name, i.Expected, i.Actual)
	case IssueSchemaNotFound:
		return "Verify the database name, schema, and table; ensure the table exists and that the querying role has access."
	}
	return ""
}

// Describe — сообщение, причина и совет одним текстом.
func (i LintIssue) Describe() string {
	parts := []string{i.Error()}
	if r := i.Reason(); r != "" {
		parts = append(parts, r)
	}
	if s := i.Suggestion(); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n\n")
}

// IssueJSON — форма для HTTP-ответа и CLI.
type IssueJSON struct {
	Code       string `json:"code"`
	Column     string `json:"column,omitempty"`
	Expected   string `json:"expected,omitempty"`
	Actual     string `json:"actual,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (i LintIssue) JSON() IssueJSON {
	out := IssueJSON{
		Code:       string(i.Kind),
		Column:     i.Name,
		Message:    i.Error(),
		Suggestion: i.Suggestion(),
	}
	if i.Kind == IssueTypeMismatch {
		out.Expected = i.Expected.String()
		out.Actual = i.Actual.String()
	}
	return out
}
