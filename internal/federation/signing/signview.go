package signing

import (
	fpb "github.com/a-swarm/evolution-core/internal/federation/pb"
)

// Sign views exclude the Auth field; they're what both sides actually
// sign and HMAC.

func ShareSketchSignView(req *fpb.ShareSketchRequest) *fpb.ShareSketchSignView {
	return &fpb.ShareSketchSignView{
		Attestation:    req.GetAttestation(),
		TimestampUnix:  req.GetTimestampUnix(),
		SequenceNumber: req.GetSequenceNumber(),
		Nonce:          req.GetNonce(),
		ClusterId:      req.GetClusterId(),
	}
}

func HealthReportSignView(req *fpb.HealthReportRequest) *fpb.HealthReportSignView {
	return &fpb.HealthReportSignView{
		ClusterId:      req.GetClusterId(),
		Capabilities:   req.GetCapabilities(),
		Metrics:        req.GetMetrics(),
		TimestampUnix:  req.GetTimestampUnix(),
		SequenceNumber: req.GetSequenceNumber(),
		Nonce:          req.GetNonce(),
	}
}

func RequestSketchSignView(req *fpb.RequestSketchRequest) *fpb.RequestSketchSignView {
	return &fpb.RequestSketchSignView{
		RequestingClusterId: req.GetRequestingClusterId(),
		TargetAntibodyId:    req.GetTargetAntibodyId(),
		Environment:         req.GetEnvironment(),
		WindowStartUnix:     req.GetWindowStartUnix(),
		WindowSizeSeconds:   req.GetWindowSizeSeconds(),
		SignatureType:       req.GetSignatureType(),
		TimestampUnix:       req.GetTimestampUnix(),
		SequenceNumber:      req.GetSequenceNumber(),
		Nonce:               req.GetNonce(),
	}
}
