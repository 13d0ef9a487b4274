package pg

import (
	"fmt"
	"sort"
	"strings"

	"dataman/internal/psqltype"
	"dataman/internal/registry"
)

func sqlIdent(s string) string { return `"` + strings.ToLower(s) + `"` }

func fqn(schema, tbl string) string { return sqlIdent(schema) + "." + sqlIdent(tbl) }

func columnType(c registry.Column) string {
	name := c.Type.SQLName()
	if c.Identity {
		switch c.Type.Kind {
		case psqltype.Integer, psqltype.BigInt, psqltype.SmallInt:
			return name + " generated by default as identity"
		}
	}
	return name
}

// GenerateDDL: ключ -> SQL. Ключи сортируются так, что схемы/таблицы идут раньше индексов.
// Представления (view: true) пропускаются — их создаёт не Dataman.
func GenerateDDL(tables []*registry.Table) (map[string]string, error) {
	out := make(map[string]string, len(tables)+1)

	sorted := make([]*registry.Table, 0, len(tables))
	for _, t := range tables {
		if !t.View {
			sorted = append(sorted, t)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Qualified() < sorted[j].Qualified() })

	var phaseA strings.Builder
	seenSchemas := map[string]struct{}{}
	seenTables := map[string]struct{}{}

	for _, t := range sorted {
		if _, dup := seenTables[t.Qualified()]; dup {
			// одна и та же таблица в разных базах — DDL применяется к своей базе отдельно
			continue
		}
		seenTables[t.Qualified()] = struct{}{}

		if _, ok := seenSchemas[t.Schema]; !ok && t.Schema != "public" {
			fmt.Fprintf(&phaseA, "create schema if not exists %s;\n", sqlIdent(t.Schema))
			seenSchemas[t.Schema] = struct{}{}
		}

		var cols, pk []string
		for _, c := range t.Columns {
			if c.Type.Kind == psqltype.Custom {
				return nil, fmt.Errorf("%s.%s: custom type %q has no DDL mapping", t.Qualified(), c.Name, c.Type.DBType)
			}
			null := "null"
			if c.Required {
				null = "not null"
			}
			def := ""
			if c.Default != "" {
				def = " default " + c.Default
			}
			cols = append(cols, fmt.Sprintf("%s %s %s%s", sqlIdent(c.Name), columnType(c), null, def))
			if c.Primary {
				pk = append(pk, sqlIdent(c.Name))
			}
		}
		if len(pk) > 0 {
			cols = append(cols, "primary key ("+strings.Join(pk, ", ")+")")
		}

		fmt.Fprintf(&phaseA, "create table if not exists %s (\n  %s\n);\n",
			fqn(t.Schema, t.Name), strings.Join(cols, ",\n  "))

		var idx strings.Builder
		for _, c := range t.Columns {
			if c.Unique && !c.Primary {
				fmt.Fprintf(&idx, "create unique index if not exists %s on %s(%s);\n",
					sqlIdent(t.Name+"_"+c.Name+"_uq"), fqn(t.Schema, t.Name), sqlIdent(c.Name))
			}
		}
		for _, set := range t.Unique {
			if len(set) == 0 {
				continue
			}
			parts := make([]string, len(set))
			for i, p := range set {
				parts[i] = sqlIdent(p)
			}
			fmt.Fprintf(&idx, "create unique index if not exists %s on %s(%s);\n",
				sqlIdent(strings.ToLower(t.Name+"_"+strings.Join(set, "_")+"_uq")),
				fqn(t.Schema, t.Name), strings.Join(parts, ", "))
		}
		if idx.Len() > 0 {
			out["100_"+t.Qualified()] = idx.String()
		}
	}

	out["000_schemas_and_tables"] = phaseA.String()
	return out, nil
}

// RenderDDL — всё одним текстом в порядке применения (для datamanctl ddl).
func RenderDDL(ddl map[string]string) string {
	var b strings.Builder
	for _, k := range sortedKeys(ddl) {
		if s := strings.TrimSpace(ddl[k]); s != "" {
			b.WriteString(s)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
