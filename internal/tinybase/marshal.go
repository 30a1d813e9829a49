package tinybase

import "math"

func marshalUint32(buf []byte, n uint32, i uint64) []byte {
	buf[i+0] = byte(n >> 0)
	buf[i+1] = byte(n >> 8)
	buf[i+2] = byte(n >> 16)
	buf[i+3] = byte(n >> 24)
	return buf
}

func unmarshalUint32(buf []byte, i uint64) uint32 {
	return 0 |
		(uint32(buf[i+0]) << 0) |
		(uint32(buf[i+1]) << 8) |
		(uint32(buf[i+2]) << 16) |
		(uint32(buf[i+3]) << 24)
}

func marshalUint64(buf []byte, n, i uint64) []byte {
	buf[i+0] = byte(n >> 0)
	buf[i+1] = byte(n >> 8)
	buf[i+2] = byte(n >> 16)
	buf[i+3] = byte(n >> 24)
	buf[i+4] = byte(n >> 32)
	buf[i+5] = byte(n >> 40)
	buf[i+6] = byte(n >> 48)
	buf[i+7] = byte(n >> 56)
	return buf
}

func unmarshalUint64(buf []byte, i uint64) uint64 {
	return 0 |
		(uint64(buf[i+0]) << 0) |
		(uint64(buf[i+1]) << 8) |
		(uint64(buf[i+2]) << 16) |
		(uint64(buf[i+3]) << 24) |
		(uint64(buf[i+4]) << 32) |
		(uint64(buf[i+5]) << 40) |
		(uint64(buf[i+6]) << 48) |
		(uint64(buf[i+7]) << 56)
}

func marshalInt32(buf []byte, n int32, i uint64) []byte {
	return marshalUint32(buf, uint32(n), i)
}

func unmarshalInt32(buf []byte, i uint64) int32 {
	return int32(unmarshalUint32(buf, i))
}

func marshalInt64(buf []byte, n int64, i uint64) []byte {
	return marshalUint64(buf, uint64(n), i)
}

func unmarshalInt64(buf []byte, i uint64) int64 {
	return int64(unmarshalUint64(buf, i))
}

func marshalFloat64(buf []byte, n float64, i uint64) []byte {
	return marshalUint64(buf, math.Float64bits(n), i)
}

func unmarshalFloat64(buf []byte, i uint64) float64 {
	return math.Float64frombits(unmarshalUint64(buf, i))
}

func marshalPageID(buf []byte, id PageID, i uint64) []byte {
	return marshalInt64(buf, int64(id), i)
}

func unmarshalPageID(buf []byte, i uint64) PageID {
	return PageID(unmarshalInt64(buf, i))
}

// keySize returns the on-disk width of K in bytes.
func keySize[K IndexKey]() uint64 {
	var zero K
	switch any(zero).(type) {
	case int32, uint32:
		return 4
	default:
		return 8
	}
}

func marshalKey[K IndexKey](buf []byte, key K, i uint64) {
	switch v := any(key).(type) {
	case int32:
		marshalInt32(buf, v, i)
	case uint32:
		marshalUint32(buf, v, i)
	case int64:
		marshalInt64(buf, v, i)
	case uint64:
		marshalUint64(buf, v, i)
	case float64:
		marshalFloat64(buf, v, i)
	}
}

func unmarshalKey[K IndexKey](buf []byte, i uint64) K {
	var zero K
	switch any(zero).(type) {
	case int32:
		return any(unmarshalInt32(buf, i)).(K)
	case uint32:
		return any(unmarshalUint32(buf, i)).(K)
	case int64:
		return any(unmarshalInt64(buf, i)).(K)
	case uint64:
		return any(unmarshalUint64(buf, i)).(K)
	default:
		return any(unmarshalFloat64(buf, i)).(K)
	}
}
