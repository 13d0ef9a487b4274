package dataman

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"dataman/internal/jsonvalue"
	"dataman/internal/metrics"
	"dataman/internal/psqltype"
)

// Linter сверяет объявленные типы колонок с information_schema живой БД.
type Linter struct {
	Sender Sender
}

// SplitQualified: "schema.table" -> (schema, table); без точки схема "public".
func SplitQualified(qualified string) (schema, table string) {
	if i := strings.IndexByte(qualified, '.'); i >= 0 {
		return qualified[:i], qualified[i+1:]
	}
	return "public", qualified
}

// ColumnsRequest — запрос к information_schema.columns для одной таблицы.
func ColumnsRequest(database, qualifiedTable string) Request {
	schema, table := SplitQualified(qualifiedTable)
	eq := func(col, val string) jsonvalue.Value {
		return jsonvalue.NewObject(jsonvalue.Pair{Key: col, Value: jsonvalue.NewObject(
			jsonvalue.Pair{Key: "$eq", Value: jsonvalue.NewString(val)},
		)})
	}
	criteria := jsonvalue.NewObject(jsonvalue.Pair{Key: "$and", Value: jsonvalue.NewArray(
		eq("table_schema", schema),
		eq("table_name", table),
	)})
	order := jsonvalue.NewArray(jsonvalue.NewObject(
		jsonvalue.Pair{Key: "ordinal_position", Value: jsonvalue.NewString("asc")},
	))
	return Request{
		Operation: OpFetch,
		Database:  database,
		Table:     "information_schema.columns",
		Criteria:  &criteria,
		FieldTypes: FieldTypes{
			"table_schema":     psqltype.TText,
			"table_name":       psqltype.TText,
			"column_name":      psqltype.TText,
			"data_type":        psqltype.TText,
			"udt_name":         psqltype.TText,
			"ordinal_position": psqltype.TInteger,
		},
		Order: &order,
	}
}

// FetchActualTypes — фактические типы колонок. Пустой ответ -> SchemaNotFound (как error).
func (l Linter) FetchActualTypes(ctx context.Context, database, qualifiedTable string) (map[string]psqltype.Type, error) {
	schema, table := SplitQualified(qualifiedTable)
	res, err := l.Sender.Send(ctx, ColumnsRequest(database, qualifiedTable))
	if err != nil {
		return nil, fmt.Errorf("fetch columns of %s.%s: %w", schema, table, err)
	}
	if len(res.Results) == 0 {
		return nil, SchemaNotFound(schema, table)
	}

	out := make(map[string]psqltype.Type, len(res.Results))
	for _, row := range res.Results {
		col, ok := stringField(row, "column_name")
		if !ok {
			continue
		}
		dt, ok := stringField(row, "data_type")
		if !ok {
			continue
		}
		udt, _ := stringField(row, "udt_name")
		out[col] = psqltype.FromCatalog(dt, udt)
	}
	return out, nil
}

func stringField(row jsonvalue.Value, key string) (string, bool) {
	v, ok := row.Get(key)
	if !ok {
		return "", false
	}
	s, err := v.StringValue()
	if err != nil {
		return "", false
	}
	return s, true
}

// Compare: expected — из DTO/реестра, actual — из БД.
// Нет в БД -> extraColumn; типы не эквивалентны -> typeMismatch; нет в DTO -> missingColumn.
func Compare(expected, actual map[string]psqltype.Type) []LintIssue {
	var issues []LintIssue
	for _, name := range sortedKeys(expected) {
		exp := expected[name]
		act, ok := actual[name]
		if !ok {
			issues = append(issues, ExtraColumn(name))
			continue
		}
		if !Equivalent(exp, act) {
			issues = append(issues, TypeMismatch(name, exp, act))
		}
	}
	for _, name := range sortedKeys(actual) {
		if _, ok := expected[name]; !ok {
			issues = append(issues, MissingColumn(name))
		}
	}
	return issues
}

// Equivalent — «достаточно одинаковые» типы: varchar ~ text, numeric по (p,s) с -1 для незаданных,
// массивы по элементу, остальное по текстовому представлению.
func Equivalent(lhs, rhs psqltype.Type) bool {
	switch {
	case lhs.Kind == psqltype.Varchar && rhs.Kind == psqltype.Text,
		lhs.Kind == psqltype.Text && rhs.Kind == psqltype.Varchar:
		return true
	case lhs.Kind == psqltype.Varchar && rhs.Kind == psqltype.Varchar,
		lhs.Kind == psqltype.Char && rhs.Kind == psqltype.Char:
		return (lhs.Length == nil && rhs.Length == nil) ||
			(lhs.Length != nil && rhs.Length != nil && *lhs.Length == *rhs.Length)
	case lhs.Kind == psqltype.Numeric && rhs.Kind == psqltype.Numeric:
		return lhs.Equal(rhs)
	case lhs.Kind == psqltype.Array && rhs.Kind == psqltype.Array:
		if lhs.Elem == nil || rhs.Elem == nil {
			return lhs.Elem == nil && rhs.Elem == nil
		}
		return Equivalent(*lhs.Elem, *rhs.Elem)
	}
	return lhs.String() == rhs.String()
}

func sortedKeys(m map[string]psqltype.Type) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lint = FetchActualTypes + Compare.
func (l Linter) Lint(ctx context.Context, database, qualifiedTable string, expected map[string]psqltype.Type) ([]LintIssue, error) {
	actual, err := l.FetchActualTypes(ctx, database, qualifiedTable)
	if err != nil {
		return nil, err
	}
	issues := Compare(expected, actual)
	for _, is := range issues {
		metrics.LintIssues.WithLabelValues(string(is.Kind)).Inc()
	}
	return issues, nil
}
