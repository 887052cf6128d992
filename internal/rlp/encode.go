package rlp

import "reflect"

// EncodeBytesList RLP-encodes a flat list of byte strings — the inverse
// of DecodeBytesList, and the serialization of a 9-field transaction.
func EncodeBytesList(items [][]byte) []byte {
	var payload []byte
	for _, it := range items {
		payload = append(payload, encodeString(it)...)
	}
	return wrapList(payload)
}

// EncodeToBytes returns the RLP encoding of val. Supported values are
// byte slices/arrays, unsigned integers, and (possibly nested) slices or
// arrays of those — enough for the [address, nonce] contract-address
// preimage. Anything else is ErrUnsupportedType.
func EncodeToBytes(val interface{}) ([]byte, error) {
	return encodeValue(reflect.ValueOf(val))
}

func encodeValue(v reflect.Value) ([]byte, error) {
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return []byte{0x80}, nil
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		return encodeUint(v.Uint()), nil

	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return encodeString(v.Bytes()), nil
		}
		return encodeList(v)

	case reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, v.Len())
			for i := 0; i < v.Len(); i++ {
				b[i] = byte(v.Index(i).Uint())
			}
			return encodeString(b), nil
		}
		return encodeList(v)

	default:
		return nil, ErrUnsupportedType
	}
}

func encodeList(v reflect.Value) ([]byte, error) {
	var payload []byte
	for i := 0; i < v.Len(); i++ {
		enc, err := encodeValue(v.Index(i))
		if err != nil {
			return nil, err
		}
		payload = append(payload, enc...)
	}
	return wrapList(payload), nil
}

// encodeUint encodes n as a minimal big-endian RLP string.
func encodeUint(n uint64) []byte {
	if n == 0 {
		return []byte{0x80}
	}
	if n < 128 {
		return []byte{byte(n)}
	}
	return encodeString(bigEndian(n))
}

func encodeString(data []byte) []byte {
	n := len(data)
	if n == 1 && data[0] <= 0x7f {
		return data
	}
	if n <= 55 {
		buf := make([]byte, 1+n)
		buf[0] = 0x80 + byte(n)
		copy(buf[1:], data)
		return buf
	}
	lenBytes := bigEndian(uint64(n))
	buf := make([]byte, 1+len(lenBytes)+n)
	buf[0] = 0xb7 + byte(len(lenBytes))
	copy(buf[1:], lenBytes)
	copy(buf[1+len(lenBytes):], data)
	return buf
}

func wrapList(payload []byte) []byte {
	n := len(payload)
	if n <= 55 {
		buf := make([]byte, 1+n)
		buf[0] = 0xc0 + byte(n)
		copy(buf[1:], payload)
		return buf
	}
	lenBytes := bigEndian(uint64(n))
	buf := make([]byte, 1+len(lenBytes)+n)
	buf[0] = 0xf7 + byte(len(lenBytes))
	copy(buf[1:], lenBytes)
	copy(buf[1+len(lenBytes):], payload)
	return buf
}

// bigEndian encodes n big-endian with no leading zero bytes.
func bigEndian(n uint64) []byte {
	var b []byte
	for shift := 56; shift >= 0; shift -= 8 {
		byt := byte(n >> shift)
		if byt == 0 && b == nil {
			continue
		}
		b = append(b, byt)
	}
	return b
}
