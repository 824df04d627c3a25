package pb

// SketchMetadata describes the coverage window and provenance of a
// broadcast sketch; everything a peer needs to decide whether its
// cardinality estimate is comparable to its own before merging.
type SketchMetadata struct {
	AntibodyId          string
	Environment         string
	WindowStartUnix     uint64
	WindowSizeSeconds   uint64
	SignatureType       SignatureType
	CardinalityEstimate uint64
	ConfidenceScore     float64
	SketchHash          []byte
}

func (m *SketchMetadata) GetAntibodyId() string {
	if m == nil {
		return ""
	}
	return m.AntibodyId
}

func (m *SketchMetadata) GetEnvironment() string {
	if m == nil {
		return ""
	}
	return m.Environment
}

func (m *SketchMetadata) GetWindowStartUnix() uint64 {
	if m == nil {
		return 0
	}
	return m.WindowStartUnix
}

func (m *SketchMetadata) GetWindowSizeSeconds() uint64 {
	if m == nil {
		return 0
	}
	return m.WindowSizeSeconds
}

func (m *SketchMetadata) GetSignatureType() SignatureType {
	if m == nil {
		return SignatureType_SIGNATURE_TYPE_UNKNOWN
	}
	return m.SignatureType
}

func (m *SketchMetadata) GetSketchHash() []byte {
	if m == nil {
		return nil
	}
	return m.SketchHash
}

// QuorumCertificate records the set of peer attestations that
// co-signed acceptance of a sketch under Byzantine-tolerant quorum
// rules (see internal/federation/server.Quorum).
type QuorumCertificate struct {
	AttestingClusters []string
	Signatures        [][]byte
}

// SketchAttestation is the signed envelope carrying a packed HLL
// sketch, exchanged verbatim over ShareSketch/RequestSketch.
type SketchAttestation struct {
	Metadata      *SketchMetadata
	SketchData    []byte
	Phase         AntibodyPhase
	Qc            *QuorumCertificate
	LineageHashes [][]byte
}

func (a *SketchAttestation) GetMetadata() *SketchMetadata {
	if a == nil {
		return nil
	}
	return a.Metadata
}

func (a *SketchAttestation) GetSketchData() []byte {
	if a == nil {
		return nil
	}
	return a.SketchData
}

func (a *SketchAttestation) GetPhase() AntibodyPhase {
	if a == nil {
		return AntibodyPhase_PHASE_UNSPECIFIED
	}
	return a.Phase
}

func (a *SketchAttestation) GetQc() *QuorumCertificate {
	if a == nil {
		return nil
	}
	return a.Qc
}

func (a *SketchAttestation) GetLineageHashes() [][]byte {
	if a == nil {
		return nil
	}
	return a.LineageHashes
}
