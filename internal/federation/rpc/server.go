package rpc

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/a-swarm/evolution-core/internal/federation/hll"
	"github.com/a-swarm/evolution-core/internal/federation/hllcodec"
	fpb "github.com/a-swarm/evolution-core/internal/federation/pb"
	"github.com/a-swarm/evolution-core/internal/federation/server"
	"github.com/a-swarm/evolution-core/internal/federation/signing"
)

// FederationServer implements FederatorServer: it authenticates,
// rate-limits and replay-checks every inbound request, then either
// merges an attested sketch into local state (subject to quorum) or
// answers a sketch/health query from local state.
type FederationServer struct {
	ClusterID string
	Config    hll.HLLConfig

	Sketches     hll.SketchStore
	Attestations *server.AttestationStore
	Keys         signing.Keyring
	Limiter      server.RateLimiter
	Replay       server.ReplayGuard
	Trust        *server.TrustRegistry
	Quorum       server.Quorum

	Log zerolog.Logger

	now func() time.Time
}

func NewFederationServer(clusterID string, cfg hll.HLLConfig, keys signing.Keyring, log zerolog.Logger) *FederationServer {
	return &FederationServer{
		ClusterID:    clusterID,
		Config:       cfg,
		Sketches:     hll.NewMemoryStore(),
		Attestations: server.NewAttestationStore(),
		Keys:         keys,
		Limiter:      server.NewTokenBucket(600),
		Replay:       server.NewReplayGuard(10 * time.Minute),
		Trust:        server.NewTrustRegistry(),
		Quorum:       server.DefaultQuorum(),
		Log:          log,
		now:          time.Now,
	}
}

func (s *FederationServer) ShareSketch(ctx context.Context, req *fpb.ShareSketchRequest) (*fpb.ShareSketchResponse, error) {
	clusterID := req.GetClusterId()

	if ok, _, _ := s.Limiter.Allow(clusterID); !ok {
		return errResponse(fpb.ErrorCode_ERROR_CODE_RATE_LIMITED, "rate limit exceeded"), nil
	}

	if err := signing.VerifyShareSketch(s.Keys, req); err != nil {
		s.Trust.Update(clusterID, false)
		return errResponse(fpb.ErrorCode_ERROR_CODE_INVALID_SIGNATURE, "signature verification failed"), nil
	}

	unique := signing.UniqueKeyForShare(req)
	if err := s.Replay.Check(clusterID, req.GetTimestampUnix(), unique); err != nil {
		return errResponse(fpb.ErrorCode_ERROR_CODE_REPLAY_DETECTED, "replay detected"), nil
	}

	att := req.GetAttestation()
	sketch, err := hllcodec.UnpackSketch(att, s.Config)
	if err != nil {
		s.Trust.Update(clusterID, false)
		return errResponse(fpb.ErrorCode_ERROR_CODE_INVALID_SKETCH, err.Error()), nil
	}

	key := hllcodec.CreateSketchKey(att.GetMetadata())
	id := sketchID(key)

	attesters := []string{clusterID}
	if qc := att.GetQc(); qc != nil {
		attesters = append(attesters, qc.AttestingClusters...)
	}
	if !s.Quorum.Admit(attesters, s.Trust) {
		s.Log.Debug().Str("antibody_id", key.AntibodyID).Msg("sketch attestation held back pending quorum")
		s.Attestations.Store(id, att, s.now())
		s.Trust.Update(clusterID, true)
		return &fpb.ShareSketchResponse{Success: true, ReceiverId: s.ClusterID, ProcessedAt: s.now().Unix()}, nil
	}

	if _, existed := s.Attestations.Get(id); existed {
		s.Log.Debug().Str("antibody_id", key.AntibodyID).Msg("refreshing existing sketch attestation")
	}

	if err := s.mergeSketch(ctx, id, sketch); err != nil {
		return errResponse(fpb.ErrorCode_ERROR_CODE_INTERNAL_ERROR, err.Error()), nil
	}
	s.Attestations.Store(id, att, s.now())
	s.Trust.Update(clusterID, true)

	return &fpb.ShareSketchResponse{Success: true, ReceiverId: s.ClusterID, ProcessedAt: s.now().Unix()}, nil
}

func (s *FederationServer) mergeSketch(ctx context.Context, id string, incoming hll.HLL) error {
	existing, ok, err := s.Sketches.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return s.Sketches.Store(ctx, id, incoming)
	}
	if err := existing.Merge(incoming); err != nil {
		return err
	}
	return s.Sketches.Store(ctx, id, existing)
}

func (s *FederationServer) RequestSketch(ctx context.Context, req *fpb.RequestSketchRequest) (*fpb.RequestSketchResponse, error) {
	clusterID := req.GetRequestingClusterId()

	if ok, _, _ := s.Limiter.Allow(clusterID); !ok {
		return &fpb.RequestSketchResponse{Success: false, ErrorCode: fpb.ErrorCode_ERROR_CODE_RATE_LIMITED}, nil
	}

	if err := signing.VerifyRequestSketch(s.Keys, req); err != nil {
		return &fpb.RequestSketchResponse{Success: false, ErrorCode: fpb.ErrorCode_ERROR_CODE_INVALID_SIGNATURE}, nil
	}

	unique := signing.UniqueKeyForRequest(req)
	if err := s.Replay.Check(clusterID, req.GetTimestampUnix(), unique); err != nil {
		return &fpb.RequestSketchResponse{Success: false, ErrorCode: fpb.ErrorCode_ERROR_CODE_REPLAY_DETECTED}, nil
	}

	since := time.Time{}
	if req.GetSinceTimestamp() > 0 {
		since = time.Unix(req.GetSinceTimestamp(), 0).UTC()
	}
	limit := int(req.GetLimit())

	atts := s.Attestations.List(since, limit)
	matched := make([]*fpb.SketchAttestation, 0, len(atts))
	for _, a := range atts {
		md := a.GetMetadata()
		if req.GetTargetAntibodyId() != "" && md.GetAntibodyId() != req.GetTargetAntibodyId() {
			continue
		}
		if req.GetEnvironment() != "" && md.GetEnvironment() != req.GetEnvironment() {
			continue
		}
		matched = append(matched, a)
	}

	s.Trust.Update(clusterID, true)
	return &fpb.RequestSketchResponse{
		Success:     true,
		Sketches:    matched,
		ClusterId:   s.ClusterID,
		RespondedAt: s.now().Unix(),
	}, nil
}

func (s *FederationServer) ReportHealth(ctx context.Context, req *fpb.HealthReportRequest) (*fpb.HealthReportResponse, error) {
	clusterID := req.GetClusterId()

	if ok, _, _ := s.Limiter.Allow(clusterID); !ok {
		return &fpb.HealthReportResponse{ClusterId: s.ClusterID, Status: fpb.HealthStatus_HEALTH_STATUS_UNSPECIFIED}, nil
	}

	if err := signing.VerifyHealth(s.Keys, req); err != nil {
		return &fpb.HealthReportResponse{ClusterId: s.ClusterID, Status: fpb.HealthStatus_HEALTH_STATUS_UNSPECIFIED}, nil
	}

	unique := signing.UniqueKeyForHealth(req)
	if err := s.Replay.Check(clusterID, req.GetTimestampUnix(), unique); err != nil {
		return &fpb.HealthReportResponse{ClusterId: s.ClusterID, Status: fpb.HealthStatus_HEALTH_STATUS_UNSPECIFIED}, nil
	}

	s.Trust.Update(clusterID, true)

	return &fpb.HealthReportResponse{
		ClusterId:   s.ClusterID,
		Status:      fpb.HealthStatus_HEALTH_STATUS_HEALTHY,
		SketchCount: int64(s.Sketches.Stats().TotalSketches),
		LastUpdate:  s.now().Unix(),
		Version:     "v1",
	}, nil
}

func errResponse(code fpb.ErrorCode, msg string) *fpb.ShareSketchResponse {
	return &fpb.ShareSketchResponse{Success: false, ErrorCode: code, Message: msg}
}

func sketchID(key hll.SketchKey) string {
	return key.AntibodyID + "|" + key.Environment + "|" + key.SignatureType + "|" + key.WindowStart.UTC().Format(time.RFC3339)
}
