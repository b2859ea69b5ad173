package catalog

import (
	"fmt"
	"sync"
	"testing"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
)

func TestSchema(t *testing.T) {
	schema := NewEmptySchema("users")
	assert.ErrorIs(t, schema.Validate(), ErrInvalidSchema)
	assert.Nil(t, schema.AppendPKCol("id", TInt64))
	assert.ErrorIs(t, schema.AppendPKCol("id2", TInt64), ErrInvalidSchema)
	assert.Nil(t, schema.AppendCol("name", TString))
	assert.ErrorIs(t, schema.AppendCol("name", TString), ErrInvalidSchema)
	assert.Nil(t, schema.AppendCol("score", TFloat64))
	assert.Nil(t, schema.Validate())
	assert.Equal(t, 3, schema.ColCnt())
	assert.Equal(t, 1, schema.GetColIdx("name"))
	assert.Equal(t, -1, schema.GetColIdx("missing"))
	assert.Equal(t, "id", schema.GetPKDef().Name)
	t.Log(schema.String())

	assert.Nil(t, schema.ValidateRow([]interface{}{int64(1), "a", 1.5}))
	assert.Nil(t, schema.ValidateRow([]interface{}{2, nil, nil}))
	assert.ErrorIs(t, schema.ValidateRow([]interface{}{nil, "a", 1.5}), ErrTypeMismatch)
	assert.ErrorIs(t, schema.ValidateRow([]interface{}{int64(1), 2, 1.5}), ErrTypeMismatch)
	assert.ErrorIs(t, schema.ValidateRow([]interface{}{int64(1)}), ErrTypeMismatch)

	noPK := NewEmptySchema("nopk")
	assert.Nil(t, noPK.AppendCol("a", TBool))
	assert.ErrorIs(t, noPK.Validate(), ErrInvalidSchema)
}

func TestCreateTable(t *testing.T) {
	catalog := NewCatalog()
	schema := MockSchema(3)
	schema.Name = "tb1"
	e1, err := catalog.CreateTable(schema)
	assert.Nil(t, err)
	assert.Equal(t, schema, e1.GetSchema())
	assert.Equal(t, catalog, e1.GetCatalog())

	_, err = catalog.CreateTable(schema)
	assert.ErrorIs(t, err, ErrDuplicate)

	schema2 := MockSchema(2)
	schema2.Name = "tb0"
	e2, err := catalog.CreateTable(schema2)
	assert.Nil(t, err)
	assert.NotEqual(t, e1.GetID(), e2.GetID())
	assert.True(t, e2.CreateAt > e1.CreateAt)

	got, err := catalog.GetTableByName("tb1")
	assert.Nil(t, err)
	assert.Equal(t, e1, got)
	got, err = catalog.GetTableByID(e2.GetID())
	assert.Nil(t, err)
	assert.Equal(t, e2, got)

	names := make([]string, 0)
	catalog.ForEachTable(func(entry *TableEntry) bool {
		names = append(names, entry.GetSchema().Name)
		return true
	})
	assert.Equal(t, []string{"tb0", "tb1"}, names)
	t.Log(catalog.String())

	dropped, err := catalog.DropTableByName("tb1")
	assert.Nil(t, err)
	assert.True(t, dropped.HasDropped())
	_, err = catalog.DropTableByName("tb1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = catalog.GetTableByName("tb1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = catalog.GetTableByID(e1.GetID())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, catalog.TableCnt())

	_, err = catalog.CreateTable(schema)
	assert.Nil(t, err)
}

func TestCreateTableConcurrent(t *testing.T) {
	catalog := NewCatalog()
	p, _ := ants.NewPool(8)
	defer p.Release()
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 64; i++ {
		wg.Add(1)
		name := fmt.Sprintf("tb%d", i%16)
		_ = p.Submit(func() {
			defer wg.Done()
			schema := MockSchema(2)
			schema.Name = name
			if _, err := catalog.CreateTable(schema); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrDuplicate)
			}
		})
	}
	wg.Wait()
	assert.Equal(t, 16, created)
	assert.Equal(t, 16, catalog.TableCnt())
}
