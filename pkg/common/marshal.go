package common

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	ErrUnsupportedType = errors.New("tiledb: unsupported value type")
	ErrShortBuffer     = errors.New("tiledb: short buffer")
)

// Value tags used by EncodeValue. A nil value encodes as an empty buffer.
const (
	tagInt64 byte = iota + 1
	tagFloat64
	tagString
	tagBool
)

// WriteString writes str behind a uint32 length prefix.
func WriteString(str string, w io.Writer) (n int64, err error) {
	buf := []byte(str)
	if uint64(len(buf)) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: string of %d bytes", ErrUnsupportedType, len(buf))
	}
	if err = binary.Write(w, binary.BigEndian, uint32(len(buf))); err != nil {
		return
	}
	wn, err := w.Write(buf)
	return int64(wn + 4), err
}

func ReadString(r io.Reader) (str string, n int64, err error) {
	strLen := uint32(0)
	if err = binary.Read(r, binary.BigEndian, &strLen); err != nil {
		return
	}
	buf := make([]byte, strLen)
	if _, err = io.ReadFull(r, buf); err != nil {
		return
	}
	str = string(buf)
	n = 4 + int64(strLen)
	return
}

func EncodeValue(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte{}, nil
	}
	var bbuf bytes.Buffer
	var err error
	switch val := v.(type) {
	case int64:
		bbuf.WriteByte(tagInt64)
		err = binary.Write(&bbuf, binary.BigEndian, val)
	case int:
		bbuf.WriteByte(tagInt64)
		err = binary.Write(&bbuf, binary.BigEndian, int64(val))
	case int32:
		bbuf.WriteByte(tagInt64)
		err = binary.Write(&bbuf, binary.BigEndian, int64(val))
	case float64:
		bbuf.WriteByte(tagFloat64)
		err = binary.Write(&bbuf, binary.BigEndian, math.Float64bits(val))
	case string:
		bbuf.WriteByte(tagString)
		_, err = WriteString(val, &bbuf)
	case bool:
		bbuf.WriteByte(tagBool)
		if val {
			bbuf.WriteByte(1)
		} else {
			bbuf.WriteByte(0)
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	if err != nil {
		return nil, err
	}
	return bbuf.Bytes(), nil
}

func DecodeValue(buf []byte) (interface{}, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	r := bytes.NewReader(buf[1:])
	switch buf[0] {
	case tagInt64:
		var v int64
		if err := binary.Read(r, binary.BigEndian, &v); err != nil {
			return nil, ErrShortBuffer
		}
		return v, nil
	case tagFloat64:
		var bits uint64
		if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
			return nil, ErrShortBuffer
		}
		return math.Float64frombits(bits), nil
	case tagString:
		str, _, err := ReadString(r)
		if err != nil {
			return nil, ErrShortBuffer
		}
		return str, nil
	case tagBool:
		if len(buf) < 2 {
			return nil, ErrShortBuffer
		}
		return buf[1] == 1, nil
	}
	return nil, fmt.Errorf("%w: tag %d", ErrUnsupportedType, buf[0])
}
