// Package dataman — перевод JSON-запросов (criteria/values) в параметризованный SQL и его исполнение.
//
// Имена таблиц и колонок подставляются в текст SQL как есть: это доверенный вход
// (реестр таблиц), а не пользовательские данные.
package dataman

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"dataman/internal/jsonvalue"
	"dataman/internal/psqltype"
)

type Operation string

var ErrUnknownOperation = errors.New("dataman: unknown operation")

const (
	OpFetch  Operation = "fetch"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

func ParseOperation(s string) (Operation, error) {
	switch op := Operation(strings.ToLower(strings.TrimSpace(s))); op {
	case OpFetch, OpCreate, OpUpdate, OpDelete:
		return op, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownOperation, s)
}

func (o *Operation) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	op, err := ParseOperation(s)
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// FieldTypes — колонка -> объявленный тип (для cast-суффиксов).
type FieldTypes map[string]psqltype.Type

// Request — один CRUD-запрос к одной таблице.
type Request struct {
	Operation  Operation        `json:"operation"`
	Database   string           `json:"database"`
	Table      string           `json:"table"` // "schema.table"
	Criteria   *jsonvalue.Value `json:"criteria,omitempty"`
	Values     *jsonvalue.Value `json:"values,omitempty"`
	FieldTypes FieldTypes       `json:"fieldTypes,omitempty"`
	Order      *jsonvalue.Value `json:"order,omitempty"`
	Limit      *int             `json:"limit,omitempty"`
}

// Response — то, что возвращает исполнитель/удалённый сервис.
type Response struct {
	Success bool              `json:"success"`
	Results []jsonvalue.Value `json:"results,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Sender — что угодно, что умеет выполнить Request: локальный Executor или удалённый Client.
type Sender interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// Ptr — короткий способ положить Value в опциональное поле запроса.
func Ptr(v jsonvalue.Value) *jsonvalue.Value { return &v }

// Limit — то же для лимита.
func Limit(n int) *int { return &n }

func (r Request) String() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf("Request{%s %s.%s}", r.Operation, r.Database, r.Table)
	}
	return string(b)
}
