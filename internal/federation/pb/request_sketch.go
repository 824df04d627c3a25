package pb

import "bytes"

type isRequestSketchRequest_Auth interface {
	isRequestSketchRequest_Auth()
}

type RequestSketchRequest_HmacSha256 struct{ HmacSha256 []byte }
type RequestSketchRequest_SignatureEd25519 struct{ SignatureEd25519 []byte }

func (*RequestSketchRequest_HmacSha256) isRequestSketchRequest_Auth()       {}
func (*RequestSketchRequest_SignatureEd25519) isRequestSketchRequest_Auth() {}

// RequestSketchRequest asks a peer cluster for sketches matching a
// coverage window, optionally scoped to one antibody.
type RequestSketchRequest struct {
	RequestingClusterId string
	TargetAntibodyId    string
	Environment         string
	WindowStartUnix     uint64
	WindowSizeSeconds   uint64
	SignatureType       SignatureType
	SinceTimestamp      int64
	Limit               int32
	SequenceNumber      uint64
	Nonce               []byte
	TimestampUnix       uint64
	Auth                isRequestSketchRequest_Auth
}

func (r *RequestSketchRequest) GetRequestingClusterId() string {
	if r == nil {
		return ""
	}
	return r.RequestingClusterId
}

func (r *RequestSketchRequest) GetTargetAntibodyId() string {
	if r == nil {
		return ""
	}
	return r.TargetAntibodyId
}

func (r *RequestSketchRequest) GetEnvironment() string {
	if r == nil {
		return ""
	}
	return r.Environment
}

func (r *RequestSketchRequest) GetWindowStartUnix() uint64 {
	if r == nil {
		return 0
	}
	return r.WindowStartUnix
}

func (r *RequestSketchRequest) GetWindowSizeSeconds() uint64 {
	if r == nil {
		return 0
	}
	return r.WindowSizeSeconds
}

func (r *RequestSketchRequest) GetSignatureType() SignatureType {
	if r == nil {
		return SignatureType_SIGNATURE_TYPE_UNKNOWN
	}
	return r.SignatureType
}

func (r *RequestSketchRequest) GetSinceTimestamp() int64 {
	if r == nil {
		return 0
	}
	return r.SinceTimestamp
}

func (r *RequestSketchRequest) GetLimit() int32 {
	if r == nil {
		return 0
	}
	return r.Limit
}

func (r *RequestSketchRequest) GetSequenceNumber() uint64 {
	if r == nil {
		return 0
	}
	return r.SequenceNumber
}

func (r *RequestSketchRequest) GetNonce() []byte {
	if r == nil {
		return nil
	}
	return r.Nonce
}

func (r *RequestSketchRequest) GetTimestampUnix() uint64 {
	if r == nil {
		return 0
	}
	return r.TimestampUnix
}

func (r *RequestSketchRequest) GetAuth() isRequestSketchRequest_Auth {
	if r == nil {
		return nil
	}
	return r.Auth
}

// RequestSketchResponse carries the sketches matching a request.
type RequestSketchResponse struct {
	Success     bool
	ErrorCode   ErrorCode
	Sketches    []*SketchAttestation
	ClusterId   string
	RespondedAt int64
}

// RequestSketchSignView is the canonical view signed for RequestSketch.
type RequestSketchSignView struct {
	RequestingClusterId string
	TargetAntibodyId    string
	Environment         string
	WindowStartUnix     uint64
	WindowSizeSeconds   uint64
	SignatureType       SignatureType
	TimestampUnix       uint64
	SequenceNumber      uint64
	Nonce               []byte
}

func (v *RequestSketchSignView) CanonicalBytes() []byte {
	var buf bytes.Buffer
	buf.WriteString("requesting_cluster_id:")
	buf.WriteString(v.RequestingClusterId)
	buf.WriteString(";target_antibody_id:")
	buf.WriteString(v.TargetAntibodyId)
	buf.WriteString(";environment:")
	buf.WriteString(v.Environment)
	buf.WriteString(";window_start:")
	writeUint64(&buf, v.WindowStartUnix)
	buf.WriteString(";window_size:")
	writeUint64(&buf, v.WindowSizeSeconds)
	buf.WriteString(";signature_type:")
	writeUint64(&buf, uint64(v.SignatureType))
	buf.WriteString(";timestamp_unix:")
	writeUint64(&buf, v.TimestampUnix)
	buf.WriteString(";sequence_number:")
	writeUint64(&buf, v.SequenceNumber)
	buf.WriteString(";nonce:")
	buf.Write(v.Nonce)
	return buf.Bytes()
}
