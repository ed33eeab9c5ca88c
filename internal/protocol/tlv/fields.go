package tlv

import (
	"encoding/binary"
	"fmt"
	"sort"
)

func U8(id uint16, v uint8) Field {
	return Field{ID: id, Type: TypeU8, Value: []byte{v}}
}

func U16(id uint16, v uint16) Field {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, v)
	return Field{ID: id, Type: TypeU16, Value: buf}
}

func U32(id uint16, v uint32) Field {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return Field{ID: id, Type: TypeU32, Value: buf}
}

func U64(id uint16, v uint64) Field {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return Field{ID: id, Type: TypeU64, Value: buf}
}

func I64(id uint16, v int64) Field {
	f := U64(id, uint64(v))
	f.Type = TypeI64
	return f
}

func Bool(id uint16, v bool) Field {
	b := byte(0)
	if v {
		b = 1
	}
	return Field{ID: id, Type: TypeBool, Value: []byte{b}}
}

func String(id uint16, v string) Field {
	return Field{ID: id, Type: TypeString, Value: []byte(v)}
}

func Bytes(id uint16, v []byte) Field {
	buf := make([]byte, len(v))
	copy(buf, v)
	return Field{ID: id, Type: TypeBytes, Value: buf}
}

func (f Field) AsU8() (uint8, error) {
	if err := f.expect(TypeU8, 1); err != nil {
		return 0, err
	}
	return f.Value[0], nil
}

func (f Field) AsU16() (uint16, error) {
	if err := f.expect(TypeU16, 2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(f.Value), nil
}

func (f Field) AsU32() (uint32, error) {
	if err := f.expect(TypeU32, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(f.Value), nil
}

func (f Field) AsU64() (uint64, error) {
	if err := f.expect(TypeU64, 8); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(f.Value), nil
}

func (f Field) AsI64() (int64, error) {
	if err := f.expect(TypeI64, 8); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(f.Value)), nil
}

func (f Field) AsBool() (bool, error) {
	if err := f.expect(TypeBool, 1); err != nil {
		return false, err
	}
	switch f.Value[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: bool value %d", ErrInvalidLength, f.Value[0])
	}
}

func (f Field) AsString() (string, error) {
	if err := MustType(f, TypeString); err != nil {
		return "", err
	}
	return string(f.Value), nil
}

func (f Field) AsBytes() ([]byte, error) {
	if err := MustType(f, TypeBytes); err != nil {
		return nil, err
	}
	buf := make([]byte, len(f.Value))
	copy(buf, f.Value)
	return buf, nil
}

func (f Field) expect(typ uint8, size int) error {
	if err := MustType(f, typ); err != nil {
		return err
	}
	if len(f.Value) != size {
		return fmt.Errorf("%w: field %d has %d bytes, want %d", ErrInvalidLength, f.ID, len(f.Value), size)
	}
	return nil
}

// Map encodes a property map as a nested field list of key/value pairs.
// Keys are emitted in sorted order so encoding is deterministic. Supported
// value types: string, bool, []byte, uint8/16/32/64, int/int32/int64.
func Map(id uint16, m map[string]any) (Field, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	inner := make([]Field, 0, 2*len(keys))
	for i, k := range keys {
		slot := uint16(i)
		v, err := valueField(slot, m[k])
		if err != nil {
			return Field{}, fmt.Errorf("tlv: property %q: %w", k, err)
		}
		inner = append(inner, String(slot, k), v)
	}
	return Field{ID: id, Type: TypeMap, Value: EncodeFields(inner)}, nil
}

// AsMap decodes a field produced by Map.
func (f Field) AsMap() (map[string]any, error) {
	if err := MustType(f, TypeMap); err != nil {
		return nil, err
	}
	inner, err := DecodeFields(f.Value)
	if err != nil {
		return nil, err
	}
	if len(inner)%2 != 0 {
		return nil, fmt.Errorf("%w: odd property field count %d", ErrInvalidLength, len(inner))
	}
	out := make(map[string]any, len(inner)/2)
	for i := 0; i < len(inner); i += 2 {
		key, err := inner[i].AsString()
		if err != nil {
			return nil, err
		}
		val, err := inner[i+1].value()
		if err != nil {
			return nil, err
		}
		out[key] = val
	}
	return out, nil
}

func valueField(id uint16, v any) (Field, error) {
	switch x := v.(type) {
	case string:
		return String(id, x), nil
	case bool:
		return Bool(id, x), nil
	case []byte:
		return Bytes(id, x), nil
	case uint8:
		return U8(id, x), nil
	case uint16:
		return U16(id, x), nil
	case uint32:
		return U32(id, x), nil
	case uint64:
		return U64(id, x), nil
	case int:
		return I64(id, int64(x)), nil
	case int32:
		return I64(id, int64(x)), nil
	case int64:
		return I64(id, x), nil
	case uint:
		return U64(id, uint64(x)), nil
	default:
		return Field{}, fmt.Errorf("%w: unsupported value type %T", ErrTypeMismatch, v)
	}
}

func (f Field) value() (any, error) {
	switch f.Type {
	case TypeString:
		return f.AsString()
	case TypeBool:
		return f.AsBool()
	case TypeBytes:
		return f.AsBytes()
	case TypeU8:
		return f.AsU8()
	case TypeU16:
		return f.AsU16()
	case TypeU32:
		return f.AsU32()
	case TypeU64:
		return f.AsU64()
	case TypeI64:
		return f.AsI64()
	default:
		return nil, fmt.Errorf("%w: unsupported property type %d", ErrTypeMismatch, f.Type)
	}
}
