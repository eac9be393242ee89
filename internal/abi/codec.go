package abi

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// EncodeMap serializes a mapping<string,string> into the canonical wire
// format: a little-endian u32 entry count, followed by each entry as
// u32 key_len | key_bytes | u32 value_len | value_bytes. Entries are sorted
// by key so the encoding is deterministic: encoding the same map twice (or
// decoding then re-encoding) always produces identical bytes, which is what
// the round-trip and idempotence properties in the spec require.
func EncodeMap(m map[string]string) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	size := 4
	for _, k := range keys {
		size += 4 + len(k) + 4 + len(m[k])
	}

	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(keys)))
	off += 4
	for _, k := range keys {
		v := m[k]
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(k)))
		off += 4
		off += copy(buf[off:], k)
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(v)))
		off += 4
		off += copy(buf[off:], v)
	}
	return buf
}

// DecodeMap parses the canonical wire format produced by EncodeMap. It
// returns an error rather than panicking on truncated or malformed input,
// since the bytes may originate from an untrusted guest module.
func DecodeMap(raw []byte) (map[string]string, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("abi: map header truncated: need 4 bytes, have %d", len(raw))
	}
	count := binary.LittleEndian.Uint32(raw)
	off := 4

	m := make(map[string]string, count)
	for i := uint32(0); i < count; i++ {
		key, next, err := readLenPrefixed(raw, off)
		if err != nil {
			return nil, fmt.Errorf("abi: map entry %d key: %w", i, err)
		}
		off = next

		val, next, err := readLenPrefixed(raw, off)
		if err != nil {
			return nil, fmt.Errorf("abi: map entry %d value: %w", i, err)
		}
		off = next

		m[string(key)] = string(val)
	}
	return m, nil
}

func readLenPrefixed(raw []byte, off int) (field []byte, next int, err error) {
	if off+4 > len(raw) {
		return nil, 0, fmt.Errorf("length prefix truncated at offset %d", off)
	}
	n := int(binary.LittleEndian.Uint32(raw[off:]))
	off += 4
	if n < 0 || off+n > len(raw) {
		return nil, 0, fmt.Errorf("field of length %d out of range at offset %d", n, off)
	}
	return raw[off : off+n], off + n, nil
}
