// Package hllcodec packs and unpacks signed sketch attestations around
// an internal/federation/hll sketch: the wire payload two clusters
// exchange is the attestation, and the sketch bytes inside it carry
// their own self-describing header so a receiver can reject an
// incompatible configuration before even attempting to merge.
package hllcodec

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"time"

	"github.com/a-swarm/evolution-core/internal/federation/hll"
	fpb "github.com/a-swarm/evolution-core/internal/federation/pb"
)

var (
	ErrIncompatibleHLL = errors.New("incompatible HLL configuration")
	ErrInvalidMetadata = errors.New("invalid sketch metadata")
	ErrCorruptSketch   = errors.New("sketch hash mismatch")
)

// PackSketch converts an HLL sketch and its coverage metadata into a
// signable SketchAttestation.
func PackSketch(antibodyID, environment string, signatureType fpb.SignatureType, windowStart time.Time, windowSize time.Duration, sketch hll.HLL, phase fpb.AntibodyPhase) (*fpb.SketchAttestation, error) {
	if antibodyID == "" || environment == "" {
		return nil, ErrInvalidMetadata
	}
	if windowSize < 0 {
		return nil, ErrInvalidMetadata
	}

	sketchData, err := sketch.MarshalBinary()
	if err != nil {
		return nil, err
	}

	hash := sha256.Sum256(sketchData)

	metadata := &fpb.SketchMetadata{
		AntibodyId:          antibodyID,
		Environment:         environment,
		WindowStartUnix:     uint64(windowStart.UTC().Unix()),
		WindowSizeSeconds:   uint64(windowSize / time.Second),
		SignatureType:       signatureType,
		CardinalityEstimate: sketch.Count(),
		ConfidenceScore:     0.0, // filled in by the fitness evaluator, not here
		SketchHash:          hash[:],
	}

	return &fpb.SketchAttestation{
		Metadata:      metadata,
		SketchData:    sketchData,
		Phase:         phase,
		Qc:            nil, // filled in by quorum certificate assembly
		LineageHashes: nil, // filled in by the evolution core
	}, nil
}

// UnpackSketch extracts and validates an HLL sketch from a signed attestation.
func UnpackSketch(attestation *fpb.SketchAttestation, expectedConfig hll.HLLConfig) (hll.HLL, error) {
	if attestation == nil || attestation.Metadata == nil {
		return nil, ErrInvalidMetadata
	}

	metadata := attestation.Metadata
	if metadata.AntibodyId == "" || metadata.Environment == "" || len(attestation.SketchData) == 0 {
		return nil, ErrInvalidMetadata
	}

	if err := validateHeader(attestation.SketchData, expectedConfig); err != nil {
		return nil, err
	}

	sketch, err := hll.NewDense(expectedConfig)
	if err != nil {
		return nil, err
	}

	if err := sketch.UnmarshalBinary(attestation.SketchData); err != nil {
		return nil, err
	}

	hash := sha256.Sum256(attestation.SketchData)
	if !bytes.Equal(hash[:], metadata.SketchHash) {
		return nil, ErrCorruptSketch
	}

	return sketch, nil
}

// ValidateCompatibility checks whether an attestation's sketch config
// matches localConfig, without fully unpacking or verifying it.
func ValidateCompatibility(attestation *fpb.SketchAttestation, localConfig hll.HLLConfig) error {
	if attestation == nil || attestation.Metadata == nil {
		return ErrInvalidMetadata
	}
	return validateHeader(attestation.SketchData, localConfig)
}

// CreateSketchKey builds an hll.SketchKey from wire metadata.
func CreateSketchKey(metadata *fpb.SketchMetadata) hll.SketchKey {
	return hll.SketchKey{
		AntibodyID:    metadata.AntibodyId,
		Environment:   metadata.Environment,
		WindowStart:   time.Unix(int64(metadata.WindowStartUnix), 0).UTC(),
		WindowSize:    time.Duration(metadata.WindowSizeSeconds) * time.Second,
		SignatureType: convertSignatureType(metadata.SignatureType),
	}
}

func convertSignatureType(sigType fpb.SignatureType) string {
	switch sigType {
	case fpb.SignatureType_SIGNATURE_TYPE_IOC_HASH:
		return "ioc_hash"
	case fpb.SignatureType_SIGNATURE_TYPE_BEHAVIORAL:
		return "behavioral"
	case fpb.SignatureType_SIGNATURE_TYPE_NETWORK:
		return "network"
	case fpb.SignatureType_SIGNATURE_TYPE_PROCESS:
		return "process"
	default:
		return "unknown"
	}
}

// ConvertToProtoSignatureType maps the internal string form back to
// the wire enum.
func ConvertToProtoSignatureType(sigType string) fpb.SignatureType {
	switch sigType {
	case "ioc_hash":
		return fpb.SignatureType_SIGNATURE_TYPE_IOC_HASH
	case "behavioral":
		return fpb.SignatureType_SIGNATURE_TYPE_BEHAVIORAL
	case "network":
		return fpb.SignatureType_SIGNATURE_TYPE_NETWORK
	case "process":
		return fpb.SignatureType_SIGNATURE_TYPE_PROCESS
	default:
		return fpb.SignatureType_SIGNATURE_TYPE_UNKNOWN
	}
}

// ConvertFromProto unpacks a previously-packed attestation straight
// into an HLL sketch. It delegates to UnpackSketch, so it runs the same
// metadata, header and hash checks.
func ConvertFromProto(attestation *fpb.SketchAttestation, expectedConfig hll.HLLConfig) (hll.HLL, error) {
	return UnpackSketch(attestation, expectedConfig)
}

// ConvertToProto re-packs a stored sketch for an outgoing RequestSketch
// response, using the coordinates recorded alongside it in the store.
func ConvertToProto(key hll.SketchKey, sketch hll.HLL, phase fpb.AntibodyPhase) (*fpb.SketchAttestation, error) {
	return PackSketch(key.AntibodyID, key.Environment, ConvertToProtoSignatureType(key.SignatureType), key.WindowStart, key.WindowSize, sketch, phase)
}

// --- internal helpers ---

// validateHeader peeks the 19-byte dense header to check
// version/precision/salt compatibility without fully unmarshalling.
// Header layout: version(1)|precision(1)|salt(8)|sparse_threshold(4)|flags(1)|reg_len(4).
func validateHeader(b []byte, cfg hll.HLLConfig) error {
	if len(b) < 19 {
		return ErrCorruptSketch
	}
	ver := b[0]
	prec := int(b[1])
	salt := binary.LittleEndian.Uint64(b[2:10])

	if ver != 1 || cfg.Version != "v1" {
		return ErrIncompatibleHLL
	}
	if prec != cfg.Precision || salt != cfg.Salt {
		return ErrIncompatibleHLL
	}
	return nil
}
