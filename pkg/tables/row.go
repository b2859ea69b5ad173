package tables

import (
	"fmt"
	"tiledb/pkg/catalog"
	"tiledb/pkg/common"
)

// Row holds one value per schema column; nil is NULL.
type Row = []interface{}

func EncodeRow(schema *catalog.Schema, row Row) (common.RawTuple, error) {
	if err := schema.ValidateRow(row); err != nil {
		return nil, err
	}
	data := make(common.RawTuple, len(row))
	for i, v := range row {
		buf, err := common.EncodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", schema.ColDefs[i].Name, err)
		}
		data[i] = buf
	}
	return data, nil
}

func DecodeRow(schema *catalog.Schema, data common.RawTuple) (Row, error) {
	if len(data) != schema.ColCnt() {
		return nil, fmt.Errorf("%w: %d columns stored for %d defined",
			catalog.ErrTypeMismatch, len(data), schema.ColCnt())
	}
	row := make(Row, len(data))
	for i, buf := range data {
		v, err := common.DecodeValue(buf)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", schema.ColDefs[i].Name, err)
		}
		row[i] = v
	}
	return row, nil
}

// decodeKey extracts the primary key from stored data.
func decodeKey(schema *catalog.Schema, data common.RawTuple) (interface{}, error) {
	if schema.PrimaryKey >= len(data) {
		return nil, fmt.Errorf("%w: missing primary key column", catalog.ErrTypeMismatch)
	}
	return common.DecodeValue(data[schema.PrimaryKey])
}
