package pb

import "bytes"

type isHealthReportRequest_Auth interface {
	isHealthReportRequest_Auth()
}

type HealthReportRequest_HmacSha256 struct{ HmacSha256 []byte }
type HealthReportRequest_SignatureEd25519 struct{ SignatureEd25519 []byte }

func (*HealthReportRequest_HmacSha256) isHealthReportRequest_Auth()       {}
func (*HealthReportRequest_SignatureEd25519) isHealthReportRequest_Auth() {}

// ClusterCapabilities advertises what a cluster's federation layer
// supports, reported alongside every health check.
type ClusterCapabilities struct {
	ProtocolVersion    string
	SupportsHll        bool
	MaxSketchPrecision int32
}

// HealthReportRequest carries a cluster's self-reported capabilities
// and load metrics to a peer.
type HealthReportRequest struct {
	ClusterId      string
	Capabilities   *ClusterCapabilities
	Metrics        map[string]float64
	TimestampUnix  uint64
	SequenceNumber uint64
	Nonce          []byte
	Auth           isHealthReportRequest_Auth
}

func (r *HealthReportRequest) GetClusterId() string {
	if r == nil {
		return ""
	}
	return r.ClusterId
}

func (r *HealthReportRequest) GetCapabilities() *ClusterCapabilities {
	if r == nil {
		return nil
	}
	return r.Capabilities
}

func (r *HealthReportRequest) GetMetrics() map[string]float64 {
	if r == nil {
		return nil
	}
	return r.Metrics
}

func (r *HealthReportRequest) GetSequenceNumber() uint64 {
	if r == nil {
		return 0
	}
	return r.SequenceNumber
}

func (r *HealthReportRequest) GetNonce() []byte {
	if r == nil {
		return nil
	}
	return r.Nonce
}

func (r *HealthReportRequest) GetTimestampUnix() uint64 {
	if r == nil {
		return 0
	}
	return r.TimestampUnix
}

func (r *HealthReportRequest) GetAuth() isHealthReportRequest_Auth {
	if r == nil {
		return nil
	}
	return r.Auth
}

// HealthReportResponse reports a peer's status back to the caller.
type HealthReportResponse struct {
	ClusterId    string
	Status       HealthStatus
	SketchCount  int64
	LastUpdate   int64
	Version      string
	Capabilities []string
	Load         float64
}

// HealthReportSignView is the canonical view signed for ReportHealth.
type HealthReportSignView struct {
	ClusterId      string
	Capabilities   *ClusterCapabilities
	Metrics        map[string]float64
	TimestampUnix  uint64
	SequenceNumber uint64
	Nonce          []byte
}

func (v *HealthReportSignView) CanonicalBytes() []byte {
	var buf bytes.Buffer
	buf.WriteString("cluster_id:")
	buf.WriteString(v.ClusterId)
	buf.WriteString(";capabilities:")
	if v.Capabilities != nil {
		buf.WriteString(v.Capabilities.ProtocolVersion)
	}
	buf.WriteString(";metrics:")
	for _, k := range sortedKeys(v.Metrics) {
		buf.WriteString(k)
		buf.WriteString("=")
		writeFloat64(&buf, v.Metrics[k])
		buf.WriteString(",")
	}
	buf.WriteString(";timestamp_unix:")
	writeUint64(&buf, v.TimestampUnix)
	buf.WriteString(";sequence_number:")
	writeUint64(&buf, v.SequenceNumber)
	buf.WriteString(";nonce:")
	buf.Write(v.Nonce)
	return buf.Bytes()
}
