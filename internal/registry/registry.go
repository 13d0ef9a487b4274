package registry

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"dataman/internal/dataman"
	"dataman/internal/psqltype"
)

//go:embed default.yaml
var defaultYAML []byte

// ErrUnknownTable — таблицы нет в реестре.
var ErrUnknownTable = errors.New("table is not registered")

// Registry — таблицы по ключу "database/schema.table".
type Registry struct {
	tables map[string]*Table
	order  []string
}

func key(database, qualified string) string {
	schema, table := dataman.SplitQualified(strings.ToLower(strings.TrimSpace(qualified)))
	return strings.ToLower(strings.TrimSpace(database)) + "/" + schema + "." + table
}

// Default — встроенный реестр (captcha_tokens, web.events, web.v_session_first_touch).
func Default() *Registry {
	r, err := Parse(defaultYAML)
	if err != nil {
		panic("registry: embedded default.yaml: " + err.Error())
	}
	return r
}

// Load читает файл или все *.yaml/*.yml из папки. Пустой path — встроенный реестр.
func Load(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return Parse(data)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	r := &Registry{tables: map[string]*Table{}}
	for _, e := range entries {
		if e.IsDir() || !(strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(path, e.Name()))
		if err != nil {
			return nil, err
		}
		if err := r.add(data); err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
	}
	return r, nil
}

// Parse — реестр из одного YAML-документа.
func Parse(data []byte) (*Registry, error) {
	r := &Registry{tables: map[string]*Table{}}
	if err := r.add(data); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) add(data []byte) error {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse registry: %w", err)
	}
	for _, spec := range doc.Tables {
		t, err := build(spec)
		if err != nil {
			return err
		}
		k := key(t.Database, t.Qualified())
		if _, dup := r.tables[k]; dup {
			return fmt.Errorf("table %s declared twice", k)
		}
		r.tables[k] = t
		r.order = append(r.order, k)
	}
	return nil
}

func build(spec TableSpec) (*Table, error) {
	if strings.TrimSpace(spec.Database) == "" || strings.TrimSpace(spec.Table) == "" {
		return nil, fmt.Errorf("table entry needs database and table (got %q/%q)", spec.Database, spec.Table)
	}
	schema, name := dataman.SplitQualified(strings.ToLower(strings.TrimSpace(spec.Table)))
	t := &Table{
		Database: strings.ToLower(strings.TrimSpace(spec.Database)),
		Schema:   schema,
		Name:     name,
		View:     spec.View,
		Unique:   spec.Unique,
	}
	if len(spec.Columns) == 0 {
		return nil, fmt.Errorf("%s: no columns", t.Qualified())
	}

	seen := map[string]struct{}{}
	for _, cs := range spec.Columns {
		n := strings.ToLower(strings.TrimSpace(cs.Name))
		if n == "" {
			return nil, fmt.Errorf("%s: column without name", t.Qualified())
		}
		if _, dup := seen[n]; dup {
			return nil, fmt.Errorf("%s: duplicate column %q", t.Qualified(), n)
		}
		seen[n] = struct{}{}

		typ, err := psqltype.Parse(cs.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Qualified(), n, err)
		}
		t.Columns = append(t.Columns, Column{
			Name:     n,
			Type:     typ,
			Primary:  cs.Primary,
			Identity: cs.Identity,
			Required: cs.Required || cs.Primary,
			Unique:   cs.Unique,
			Default:  strings.TrimSpace(cs.Default),
		})
	}
	for _, set := range t.Unique {
		for _, c := range set {
			if _, ok := seen[strings.ToLower(c)]; !ok {
				return nil, fmt.Errorf("%s: unique constraint on unknown column %q", t.Qualified(), c)
			}
		}
	}
	return t, nil
}

// Table — таблица из реестра.
func (r *Registry) Table(database, qualified string) (*Table, error) {
	t, ok := r.tables[key(database, qualified)]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownTable, database, qualified)
	}
	return t, nil
}

// FieldTypes — колонка -> тип для dataman.Request.
func (r *Registry) FieldTypes(database, qualified string) (dataman.FieldTypes, error) {
	t, err := r.Table(database, qualified)
	if err != nil {
		return nil, err
	}
	out := make(dataman.FieldTypes, len(t.Columns))
	for _, c := range t.Columns {
		out[c.Name] = c.Type
	}
	return out, nil
}

// Expected — то же в виде, который ждёт линтер.
func (r *Registry) Expected(database, qualified string) (map[string]psqltype.Type, error) {
	ft, err := r.FieldTypes(database, qualified)
	if err != nil {
		return nil, err
	}
	return map[string]psqltype.Type(ft), nil
}

// Tables — в порядке объявления.
func (r *Registry) Tables() []*Table {
	out := make([]*Table, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.tables[k])
	}
	return out
}

// TablesIn — таблицы одной базы.
func (r *Registry) TablesIn(database string) []*Table {
	database = strings.ToLower(strings.TrimSpace(database))
	var out []*Table
	for _, t := range r.Tables() {
		if t.Database == database {
			out = append(out, t)
		}
	}
	return out
}

// Databases — ключи баз, упомянутых в реестре.
func (r *Registry) Databases() []string {
	set := map[string]struct{}{}
	for _, t := range r.tables {
		set[t.Database] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Complete дополняет req.FieldTypes из реестра; явно заданные в запросе типы не трогает.
func (r *Registry) Complete(req *dataman.Request) error {
	ft, err := r.FieldTypes(req.Database, req.Table)
	if err != nil {
		return err
	}
	if req.FieldTypes == nil {
		req.FieldTypes = make(dataman.FieldTypes, len(ft))
	}
	for name, t := range ft {
		if _, ok := req.FieldTypes[name]; !ok {
			req.FieldTypes[name] = t
		}
	}
	return nil
}
