package pb

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"
)

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeFloat64(buf *bytes.Buffer, f float64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(f))
	buf.Write(b[:])
}

// TrustScore tracks a peer cluster's reputation across three axes:
// whether it stores sketches successfully, whether it responds to
// requests, and whether its reports agree with quorum consensus.
type TrustScore struct {
	ReliabilityScore float64
	ResponseScore    float64
	ConsensusScore   float64
}
