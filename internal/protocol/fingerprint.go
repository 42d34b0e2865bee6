package protocol

import (
	"encoding/binary"
	"hash/fnv"
	"strings"
)

// Fingerprint computes the commutative 64-bit hash of env described in
// the spec: pairs whose key starts with any of excludePrefixes are
// dropped (used to filter benchmark-harness noise), and the remaining
// pairs are folded into an accumulator with XOR so that the result does
// not depend on their order.
func Fingerprint(env []EnvPair, excludePrefixes []string) uint64 {
	var acc uint64
	for _, pair := range env {
		if hasAnyPrefix(pair.Key, excludePrefixes) {
			continue
		}
		acc ^= fingerprintPair(pair.Key, pair.Value)
	}
	return acc
}

func fingerprintPair(key, value string) uint64 {
	h := fnv.New64a()
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(key)))
	h.Write(lenBuf[:])
	h.Write([]byte(key))
	h.Write([]byte(value))
	return h.Sum64()
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
