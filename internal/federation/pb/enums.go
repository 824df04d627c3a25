// Package pb defines the federation wire message shapes. protoc is not
// available in this build, so these are plain Go structs carrying the
// same field names and nil-safe GetXxx() accessors a generated
// protobuf package would have, plus marker-interface oneof wrappers
// for the Auth field every signed request carries.
package pb

// SignatureType names the kind of IOC signature a sketch covers.
type SignatureType int32

const (
	SignatureType_SIGNATURE_TYPE_UNKNOWN SignatureType = iota
	SignatureType_SIGNATURE_TYPE_IOC_HASH
	SignatureType_SIGNATURE_TYPE_BEHAVIORAL
	SignatureType_SIGNATURE_TYPE_NETWORK
	SignatureType_SIGNATURE_TYPE_PROCESS
)

func (s SignatureType) String() string {
	switch s {
	case SignatureType_SIGNATURE_TYPE_IOC_HASH:
		return "ioc_hash"
	case SignatureType_SIGNATURE_TYPE_BEHAVIORAL:
		return "behavioral"
	case SignatureType_SIGNATURE_TYPE_NETWORK:
		return "network"
	case SignatureType_SIGNATURE_TYPE_PROCESS:
		return "process"
	default:
		return "unknown"
	}
}

// AntibodyPhase mirrors internal/promotion's phase strings for wire
// transport (the CRD status uses the string form directly; the wire
// form is numeric to keep the signed payload compact).
type AntibodyPhase int32

const (
	AntibodyPhase_PHASE_UNSPECIFIED AntibodyPhase = iota
	AntibodyPhase_PHASE_PENDING
	AntibodyPhase_PHASE_SHADOW
	AntibodyPhase_PHASE_STAGED
	AntibodyPhase_PHASE_CANARY
	AntibodyPhase_PHASE_ACTIVE
	AntibodyPhase_PHASE_RETIRED
)

func (p AntibodyPhase) String() string {
	switch p {
	case AntibodyPhase_PHASE_PENDING:
		return "pending"
	case AntibodyPhase_PHASE_SHADOW:
		return "shadow"
	case AntibodyPhase_PHASE_STAGED:
		return "staged"
	case AntibodyPhase_PHASE_CANARY:
		return "canary"
	case AntibodyPhase_PHASE_ACTIVE:
		return "active"
	case AntibodyPhase_PHASE_RETIRED:
		return "retired"
	default:
		return "unspecified"
	}
}

// ErrorCode enumerates federation RPC failure reasons returned inline
// in response messages (the RPC status itself stays OK; these are
// protocol-level, not transport-level, failures).
type ErrorCode int32

const (
	ErrorCode_ERROR_CODE_UNSPECIFIED ErrorCode = iota
	ErrorCode_ERROR_CODE_RATE_LIMITED
	ErrorCode_ERROR_CODE_INVALID_SIGNATURE
	ErrorCode_ERROR_CODE_REPLAY_DETECTED
	ErrorCode_ERROR_CODE_TRUST_BELOW_THRESHOLD
	ErrorCode_ERROR_CODE_INVALID_SKETCH
	ErrorCode_ERROR_CODE_INTERNAL_ERROR
)

func (e ErrorCode) String() string {
	switch e {
	case ErrorCode_ERROR_CODE_RATE_LIMITED:
		return "rate_limited"
	case ErrorCode_ERROR_CODE_INVALID_SIGNATURE:
		return "signature_invalid"
	case ErrorCode_ERROR_CODE_REPLAY_DETECTED:
		return "replay"
	case ErrorCode_ERROR_CODE_TRUST_BELOW_THRESHOLD:
		return "trust_below_threshold"
	case ErrorCode_ERROR_CODE_INVALID_SKETCH:
		return "incompatible_sketch"
	case ErrorCode_ERROR_CODE_INTERNAL_ERROR:
		return "internal_error"
	default:
		return "unspecified"
	}
}

// HealthStatus reports the coarse health of a peer cluster.
type HealthStatus int32

const (
	HealthStatus_HEALTH_STATUS_UNSPECIFIED HealthStatus = iota
	HealthStatus_HEALTH_STATUS_HEALTHY
	HealthStatus_HEALTH_STATUS_DEGRADED
	HealthStatus_HEALTH_STATUS_UNHEALTHY
)

func (h HealthStatus) String() string {
	switch h {
	case HealthStatus_HEALTH_STATUS_HEALTHY:
		return "healthy"
	case HealthStatus_HEALTH_STATUS_DEGRADED:
		return "degraded"
	case HealthStatus_HEALTH_STATUS_UNHEALTHY:
		return "unhealthy"
	default:
		return "unspecified"
	}
}
