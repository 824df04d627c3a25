package antibody

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
)

// specHasher accumulates a deterministic byte stream for SHA-256 hashing.
// Field writes are ordered explicitly by the caller and map keys are
// always sorted first, so two structurally equal specs hash identically
// regardless of map iteration order.
type specHasher struct {
	h []byte
}

func newSpecHasher() *specHasher {
	return &specHasher{h: make([]byte, 0, 256)}
}

func (s *specHasher) writeString(v string) {
	s.h = append(s.h, '|')
	s.h = append(s.h, v...)
}

// writeStrings treats vs as a set: it hashes a sorted copy so that
// reordering the input (Scope.Environments, Scope.Namespaces) never
// changes the resulting hash.
func (s *specHasher) writeStrings(vs []string) {
	sorted := append([]string(nil), vs...)
	sort.Strings(sorted)
	for _, v := range sorted {
		s.writeString(v)
	}
}

func (s *specHasher) writeInt(v int) {
	s.writeString(strconv.Itoa(v))
}

func (s *specHasher) writeFloat(v float64) {
	s.writeString(strconv.FormatFloat(v, 'g', -1, 64))
}

func (s *specHasher) writeStringMap(m map[string]string) {
	for _, k := range sortedKeys(m) {
		s.writeString(k)
		s.writeString(m[k])
	}
}

func (s *specHasher) writeFeatureMap(m map[string]FeatureValue) {
	for _, k := range sortedFeatureKeys(m) {
		s.writeString(k)
		s.writeString(m[k].canonical())
	}
}

func (s *specHasher) sum() string {
	digest := sha256.Sum256(s.h)
	return hex.EncodeToString(digest[:])
}
