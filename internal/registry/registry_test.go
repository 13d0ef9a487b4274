package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dataman/internal/dataman"
	"dataman/internal/psqltype"
)

const shopYAML = `
tables:
  - database: Shop
    table: sales.orders
    columns:
      - { name: id, type: bigint, primary: true, identity: true }
      - { name: Customer, type: varchar(64), required: true }
      - { name: total, type: "numeric(10,2)" }
      - { name: tags, type: "text[]" }
    unique:
      - [customer, total]
  - database: shop
    table: items
    columns:
      - { name: sku, type: text, primary: true }
`

func TestParse(t *testing.T) {
	r, err := Parse([]byte(shopYAML))
	require.NoError(t, err)

	orders, err := r.Table("SHOP", "sales.orders")
	require.NoError(t, err)
	assert.Equal(t, "shop", orders.Database)
	assert.Equal(t, "sales.orders", orders.Qualified())

	c, ok := orders.Column("customer")
	require.True(t, ok)
	assert.Equal(t, "varchar(64)", c.Type.SQLName())
	assert.True(t, c.Required)

	id, _ := orders.Column("id")
	assert.True(t, id.Required, "primary implies required")

	items, err := r.Table("shop", "items")
	require.NoError(t, err)
	assert.Equal(t, "public.items", items.Qualified())

	assert.Equal(t, []string{"shop"}, r.Databases())
	assert.Len(t, r.TablesIn("shop"), 2)
	assert.Equal(t, "sales.orders", r.Tables()[0].Qualified())
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"no database": `tables: [{table: a.b, columns: [{name: x, type: text}]}]`,
		"no columns":  `tables: [{database: d, table: a.b}]`,
		"bad type":    `tables: [{database: d, table: a.b, columns: [{name: x, type: "varchar(x)"}]}]`,
		"dup column":  `tables: [{database: d, table: a.b, columns: [{name: x, type: text}, {name: X, type: text}]}]`,
		"dup table": `tables:
  - {database: d, table: a.b, columns: [{name: x, type: text}]}
  - {database: d, table: a.b, columns: [{name: x, type: text}]}`,
		"unknown unique": `tables: [{database: d, table: a.b, columns: [{name: x, type: text}], unique: [[y]]}]`,
		"bad yaml":       `tables: [`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestDefault(t *testing.T) {
	r := Default()

	ft, err := r.FieldTypes("tokens", "public.captcha_tokens")
	require.NoError(t, err)
	assert.Equal(t, psqltype.TTimestamptz, ft["expires_at"])
	assert.Equal(t, psqltype.TBoolean, ft["invalidated"])

	events, err := r.Table("analytics", "web.events")
	require.NoError(t, err)
	assert.False(t, events.View)

	view, err := r.Table("analytics", "web.v_session_first_touch")
	require.NoError(t, err)
	assert.True(t, view.View)
}

func TestComplete(t *testing.T) {
	r, err := Parse([]byte(shopYAML))
	require.NoError(t, err)

	req := dataman.Request{
		Database:   "shop",
		Table:      "sales.orders",
		FieldTypes: dataman.FieldTypes{"total": psqltype.TText},
	}
	require.NoError(t, r.Complete(&req))
	assert.Equal(t, psqltype.TBigInt, req.FieldTypes["id"])
	// явный тип из запроса не перетирается
	assert.Equal(t, psqltype.TText, req.FieldTypes["total"])

	err = r.Complete(&dataman.Request{Database: "shop", Table: "sales.refunds"})
	assert.True(t, errors.Is(err, ErrUnknownTable))
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(shopYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"),
		[]byte(`tables: [{database: crm, table: people, columns: [{name: id, type: uuid}]}]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	r, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"crm", "shop"}, r.Databases())

	r, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"analytics", "tokens"}, r.Databases())

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
