package catalog

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSchema = errors.New("tiledb: invalid schema")
	ErrTypeMismatch  = errors.New("tiledb: value type mismatch")
)

type ColType uint8

const (
	TInt64 ColType = iota
	TFloat64
	TString
	TBool
)

var ColTypeNames = map[ColType]string{
	TInt64:   "INT64",
	TFloat64: "FLOAT64",
	TString:  "STRING",
	TBool:    "BOOL",
}

func (t ColType) String() string {
	if name, ok := ColTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ColType(%d)", uint8(t))
}

// Accepts reports whether v can be stored in a column of type t.
func (t ColType) Accepts(v interface{}) bool {
	switch v.(type) {
	case int64, int:
		return t == TInt64
	case float64:
		return t == TFloat64
	case string:
		return t == TString
	case bool:
		return t == TBool
	}
	return false
}

type ColDef struct {
	Name     string
	Idx      int
	Type     ColType
	Nullable bool
}

type Schema struct {
	Name         string
	ColDefs      []*ColDef
	PrimaryKey   int
	BlockMaxRows uint32
	nameIndex    map[string]int
}

func NewEmptySchema(name string) *Schema {
	return &Schema{
		Name:       name,
		ColDefs:    make([]*ColDef, 0),
		PrimaryKey: -1,
		nameIndex:  make(map[string]int),
	}
}

func (s *Schema) AppendCol(name string, typ ColType) error {
	return s.appendCol(name, typ, true)
}

// AppendPKCol appends a non-null column and makes it the primary key.
func (s *Schema) AppendPKCol(name string, typ ColType) error {
	if s.PrimaryKey >= 0 {
		return fmt.Errorf("%w: primary key already set to %s", ErrInvalidSchema, s.ColDefs[s.PrimaryKey].Name)
	}
	if err := s.appendCol(name, typ, false); err != nil {
		return err
	}
	s.PrimaryKey = len(s.ColDefs) - 1
	return nil
}

func (s *Schema) appendCol(name string, typ ColType, nullable bool) error {
	if name == "" {
		return fmt.Errorf("%w: empty column name", ErrInvalidSchema)
	}
	if _, ok := s.colIndex()[name]; ok {
		return fmt.Errorf("%w: duplicate column %s", ErrInvalidSchema, name)
	}
	def := &ColDef{
		Name:     name,
		Idx:      len(s.ColDefs),
		Type:     typ,
		Nullable: nullable,
	}
	s.ColDefs = append(s.ColDefs, def)
	s.nameIndex[name] = def.Idx
	return nil
}

func (s *Schema) colIndex() map[string]int {
	if s.nameIndex == nil {
		s.nameIndex = make(map[string]int, len(s.ColDefs))
		for i, def := range s.ColDefs {
			s.nameIndex[def.Name] = i
		}
	}
	return s.nameIndex
}

func (s *Schema) ColCnt() int { return len(s.ColDefs) }

// GetColIdx returns -1 if no column is named name.
func (s *Schema) GetColIdx(name string) int {
	idx, ok := s.colIndex()[name]
	if !ok {
		return -1
	}
	return idx
}

func (s *Schema) GetPKDef() *ColDef {
	if s.PrimaryKey < 0 || s.PrimaryKey >= len(s.ColDefs) {
		return nil
	}
	return s.ColDefs[s.PrimaryKey]
}

func (s *Schema) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil schema", ErrInvalidSchema)
	}
	if s.Name == "" {
		return fmt.Errorf("%w: empty table name", ErrInvalidSchema)
	}
	if len(s.ColDefs) == 0 {
		return fmt.Errorf("%w: no columns", ErrInvalidSchema)
	}
	names := make(map[string]bool, len(s.ColDefs))
	for i, def := range s.ColDefs {
		if def.Idx != i {
			return fmt.Errorf("%w: column %s at %d has idx %d", ErrInvalidSchema, def.Name, i, def.Idx)
		}
		if names[def.Name] {
			return fmt.Errorf("%w: duplicate column %s", ErrInvalidSchema, def.Name)
		}
		names[def.Name] = true
		if _, ok := ColTypeNames[def.Type]; !ok {
			return fmt.Errorf("%w: column %s has type %s", ErrInvalidSchema, def.Name, def.Type)
		}
	}
	pk := s.GetPKDef()
	if pk == nil {
		return fmt.Errorf("%w: no primary key", ErrInvalidSchema)
	}
	if pk.Nullable {
		return fmt.Errorf("%w: nullable primary key %s", ErrInvalidSchema, pk.Name)
	}
	return nil
}

// ValidateRow checks arity, types and nullability of row against s.
func (s *Schema) ValidateRow(row []interface{}) error {
	if len(row) != len(s.ColDefs) {
		return fmt.Errorf("%w: %d values for %d columns", ErrTypeMismatch, len(row), len(s.ColDefs))
	}
	for i, v := range row {
		def := s.ColDefs[i]
		if v == nil {
			if !def.Nullable {
				return fmt.Errorf("%w: null in column %s", ErrTypeMismatch, def.Name)
			}
			continue
		}
		if !def.Type.Accepts(v) {
			return fmt.Errorf("%w: %T in %s column %s", ErrTypeMismatch, v, def.Type, def.Name)
		}
	}
	return nil
}

func (s *Schema) String() string {
	str := fmt.Sprintf("Schema<%s>(", s.Name)
	for i, def := range s.ColDefs {
		if i > 0 {
			str += ","
		}
		str += fmt.Sprintf("%s %s", def.Name, def.Type)
		if i == s.PrimaryKey {
			str += " PK"
		}
	}
	return str + ")"
}

// MockSchema builds a schema with an int64 primary key "pk" followed by
// colCnt-1 nullable int64 columns.
func MockSchema(colCnt int) *Schema {
	schema := NewEmptySchema(fmt.Sprintf("mock_%d", colCnt))
	_ = schema.AppendPKCol("pk", TInt64)
	for i := 1; i < colCnt; i++ {
		_ = schema.AppendCol(fmt.Sprintf("mock_%d", i), TInt64)
	}
	return schema
}
