package ai

import "context"

// ServicePort is the abstract gateway to the remote AI services (OCR,
// computer vision, compliance scoring, entity extraction, risk assessment).
// Implementations return a JSON-shaped result map or an error; everything
// behind the port is opaque to the engine.
type ServicePort interface {
	// Call invokes the named capability with a JSON-shaped request payload.
	Call(ctx context.Context, capability string, request map[string]any) (map[string]any, error)
}

// Capability names the engine's default executors invoke.
const (
	CapabilityDocumentAnalysis = "document_analysis"
	CapabilityOCR              = "ocr_extraction"
	CapabilityComplianceScore  = "compliance_score"
	CapabilitySignatureFields  = "signature_fields"
	CapabilityKYCVerification  = "kyc_verification"
	CapabilityNotification     = "notification"
	CapabilityRiskAssessment   = "risk_assessment"
)
