package pb

import (
	"bytes"
	"encoding/binary"
)

// isShareSketchRequest_Auth marks the oneof wrapper types a
// ShareSketchRequest's Auth field can hold: either an HMAC or an
// Ed25519 signature, never both.
type isShareSketchRequest_Auth interface {
	isShareSketchRequest_Auth()
}

type ShareSketchRequest_HmacSha256 struct{ HmacSha256 []byte }
type ShareSketchRequest_SignatureEd25519 struct{ SignatureEd25519 []byte }

func (*ShareSketchRequest_HmacSha256) isShareSketchRequest_Auth()       {}
func (*ShareSketchRequest_SignatureEd25519) isShareSketchRequest_Auth() {}

// ShareSketchRequest broadcasts one cluster's sketch attestation to a
// peer, signed over ShareSketchSignView.
type ShareSketchRequest struct {
	ClusterId      string
	Attestation    *SketchAttestation
	SequenceNumber uint64
	Nonce          []byte
	TimestampUnix  uint64
	Auth           isShareSketchRequest_Auth
}

func (r *ShareSketchRequest) GetClusterId() string {
	if r == nil {
		return ""
	}
	return r.ClusterId
}

func (r *ShareSketchRequest) GetAttestation() *SketchAttestation {
	if r == nil {
		return nil
	}
	return r.Attestation
}

func (r *ShareSketchRequest) GetSequenceNumber() uint64 {
	if r == nil {
		return 0
	}
	return r.SequenceNumber
}

func (r *ShareSketchRequest) GetNonce() []byte {
	if r == nil {
		return nil
	}
	return r.Nonce
}

func (r *ShareSketchRequest) GetTimestampUnix() uint64 {
	if r == nil {
		return 0
	}
	return r.TimestampUnix
}

func (r *ShareSketchRequest) GetAuth() isShareSketchRequest_Auth {
	if r == nil {
		return nil
	}
	return r.Auth
}

// ShareSketchResponse reports the outcome of a ShareSketch call.
type ShareSketchResponse struct {
	Success     bool
	ErrorCode   ErrorCode
	Message     string
	ReceiverId  string
	ProcessedAt int64
}

// ShareSketchSignView is the canonical, auth-field-excluded view of a
// ShareSketchRequest that both sides sign/verify over.
type ShareSketchSignView struct {
	Attestation    *SketchAttestation
	TimestampUnix  uint64
	SequenceNumber uint64
	Nonce          []byte
	ClusterId      string
}

// CanonicalBytes encodes the view deterministically: field-name
// prefixed, semicolon-delimited.
func (v *ShareSketchSignView) CanonicalBytes() []byte {
	var buf bytes.Buffer
	buf.WriteString("cluster_id:")
	buf.WriteString(v.ClusterId)
	buf.WriteString(";timestamp_unix:")
	writeUint64(&buf, v.TimestampUnix)
	buf.WriteString(";sequence_number:")
	writeUint64(&buf, v.SequenceNumber)
	buf.WriteString(";nonce:")
	buf.Write(v.Nonce)
	buf.WriteString(";attestation:")
	writeAttestation(&buf, v.Attestation)
	return buf.Bytes()
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeAttestation(buf *bytes.Buffer, a *SketchAttestation) {
	if a == nil {
		return
	}
	if md := a.Metadata; md != nil {
		buf.WriteString("antibody_id:")
		buf.WriteString(md.AntibodyId)
		buf.WriteString(";environment:")
		buf.WriteString(md.Environment)
		buf.WriteString(";window_start:")
		writeUint64(buf, md.WindowStartUnix)
		buf.WriteString(";window_size:")
		writeUint64(buf, md.WindowSizeSeconds)
		buf.WriteString(";signature_type:")
		writeUint64(buf, uint64(md.SignatureType))
		buf.WriteString(";sketch_hash:")
		buf.Write(md.SketchHash)
	}
	buf.WriteString(";sketch_data:")
	buf.Write(a.SketchData)
	buf.WriteString(";phase:")
	writeUint64(buf, uint64(a.Phase))
}
