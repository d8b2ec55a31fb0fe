package debug

import (
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/dshills/dbgsync/internal/debug/dap"
)

// codeID returns the path under which a kernel stores anonymous code, as
// advertised by its debugInfo reply.
func codeID(info *dap.DebugInfoResponseBody, code string) string {
	if info == nil {
		return ""
	}
	var hash string
	switch info.HashMethod {
	case dap.HashXXH64:
		d := xxhash.NewWithSeed(uint64(info.HashSeed))
		d.WriteString(code)
		hash = strconv.FormatUint(d.Sum64(), 16)
	default:
		hash = strconv.FormatUint(uint64(murmur2([]byte(code), info.HashSeed)), 10)
	}
	return info.TmpFilePrefix + hash + info.TmpFileSuffix
}

// murmur2 is the 32-bit MurmurHash2 of data.
func murmur2(data []byte, seed uint32) uint32 {
	const (
		m = 0x5bd1e995
		r = 24
	)

	h := seed ^ uint32(len(data))
	for len(data) >= 4 {
		k := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
		k *= m
		k ^= k >> r
		k *= m
		h *= m
		h ^= k
		data = data[4:]
	}

	switch len(data) {
	case 3:
		h ^= uint32(data[2]) << 16
		fallthrough
	case 2:
		h ^= uint32(data[1]) << 8
		fallthrough
	case 1:
		h ^= uint32(data[0])
		h *= m
	}

	h ^= h >> 13
	h *= m
	h ^= h >> 15
	return h
}
