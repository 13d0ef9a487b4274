// Package registry — объявленные таблицы и типы колонок (YAML).
// Отсюда берутся fieldTypes для запросов, ожидаемые типы для линтера и bootstrap DDL.
package registry

import (
	"dataman/internal/psqltype"
)

// Document — корень YAML-файла реестра.
type Document struct {
	Tables []TableSpec `yaml:"tables"`
}

// TableSpec — таблица как она записана в YAML.
type TableSpec struct {
	Database string       `yaml:"database"`
	Table    string       `yaml:"table"` // "schema.table"; без схемы — public
	View     bool         `yaml:"view,omitempty"`
	Columns  []ColumnSpec `yaml:"columns"`
	Unique   [][]string   `yaml:"unique,omitempty"`
}

type ColumnSpec struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"` // "varchar(64)", "numeric(10,2)", "text[]", ...
	Primary  bool   `yaml:"primary,omitempty"`
	Identity bool   `yaml:"identity,omitempty"`
	Required bool   `yaml:"required,omitempty"`
	Unique   bool   `yaml:"unique,omitempty"`
	Default  string `yaml:"default,omitempty"` // SQL-выражение как есть: now(), false, 0
}

// Table — проверенная таблица с разобранными типами.
type Table struct {
	Database string
	Schema   string
	Name     string
	View     bool
	Columns  []Column
	Unique   [][]string
}

type Column struct {
	Name     string
	Type     psqltype.Type
	Primary  bool
	Identity bool
	Required bool
	Unique   bool
	Default  string
}

// Qualified — "schema.table".
func (t *Table) Qualified() string { return t.Schema + "." + t.Name }

// Column по имени.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}
