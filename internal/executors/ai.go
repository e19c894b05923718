package executors

import (
	"context"
	"encoding/json"
	"time"

	"github.com/buffrsign/engine/internal/ai"
	"github.com/buffrsign/engine/internal/expressions"
	"github.com/buffrsign/engine/internal/validation"
	"github.com/buffrsign/engine/pkg/schema"
)

// Default executors for every built-in step type. Each one translates the
// step's input into a call against the AI service port and shapes the
// response into the keys downstream steps read from workflow data.

// NewDefaults returns a registry pre-populated with an executor for each
// built-in step type.
func NewDefaults(port ai.ServicePort, jq *expressions.GoJQEngine) *Registry {
	r := NewRegistry()
	for _, exec := range []StepExecutor{
		&DocumentAnalysisExecutor{Port: port},
		&AIExtractionExecutor{Port: port, JQ: jq},
		&ComplianceCheckExecutor{Port: port},
		&SignaturePlacementExecutor{Port: port},
		&KYCVerificationExecutor{Port: port},
		&NotificationExecutor{Port: port},
		&HumanReviewExecutor{Port: port},
	} {
		// Registration can only collide if a type constant is duplicated.
		if err := r.Register(exec); err != nil {
			panic(err)
		}
	}
	return r
}

// DocumentAnalysisExecutor classifies a document and produces a structure
// summary under the "analysis" key.
type DocumentAnalysisExecutor struct {
	Port ai.ServicePort
}

func (e *DocumentAnalysisExecutor) Type() schema.WorkflowStepType {
	return schema.StepTypeDocumentAnalysis
}

func (e *DocumentAnalysisExecutor) OutputSchema() json.RawMessage {
	return validation.RequiredFieldsSchema("analysis")
}

func (e *DocumentAnalysisExecutor) Execute(ctx context.Context, in Input) (map[string]any, error) {
	req := map[string]any{
		"document_id":   in.Metadata.DocumentID,
		"document_type": in.Metadata.DocumentType,
		"analysis_type": stringParam(in.Config, "analysis_type", "full"),
	}
	resp, err := e.Port.Call(ctx, ai.CapabilityDocumentAnalysis, req)
	if err != nil {
		return nil, err
	}
	return map[string]any{"analysis": resp}, nil
}

// AIExtractionExecutor runs OCR extraction and optionally projects fields
// out of the raw response with jq expressions from the step config:
//
//	"projection": {"parties": ".entities | map(.name)", ...}
//
// Projected values land under the "fields" key next to the raw extraction.
type AIExtractionExecutor struct {
	Port ai.ServicePort
	JQ   *expressions.GoJQEngine
}

func (e *AIExtractionExecutor) Type() schema.WorkflowStepType {
	return schema.StepTypeAIExtraction
}

func (e *AIExtractionExecutor) OutputSchema() json.RawMessage {
	return validation.RequiredFieldsSchema("extraction")
}

func (e *AIExtractionExecutor) Execute(ctx context.Context, in Input) (map[string]any, error) {
	req := map[string]any{
		"document_id":   in.Metadata.DocumentID,
		"document_type": in.Metadata.DocumentType,
	}
	if fields := stringMapParam(in.Config, "expected_fields"); len(fields) > 0 {
		req["expected_fields"] = fields
	}
	resp, err := e.Port.Call(ctx, ai.CapabilityOCR, req)
	if err != nil {
		return nil, err
	}

	out := map[string]any{"extraction": resp}

	projection := stringMapParam(in.Config, "projection")
	if len(projection) > 0 && e.JQ != nil {
		fields := make(map[string]any, len(projection))
		for name, expr := range projection {
			val, err := e.JQ.Evaluate(ctx, expr, resp)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeStepExecution,
					"projection %q failed: %s", name, err.Error()).
					WithStep(in.StepID).
					WithCause(err)
			}
			fields[name] = val
		}
		out["fields"] = fields
	}
	return out, nil
}

// ComplianceCheckExecutor scores the document against the workflow's
// compliance requirements (ETA 2019 sections by default).
type ComplianceCheckExecutor struct {
	Port ai.ServicePort
}

func (e *ComplianceCheckExecutor) Type() schema.WorkflowStepType {
	return schema.StepTypeComplianceCheck
}

func (e *ComplianceCheckExecutor) OutputSchema() json.RawMessage {
	return validation.RequiredFieldsSchema("compliance")
}

func (e *ComplianceCheckExecutor) Execute(ctx context.Context, in Input) (map[string]any, error) {
	req := map[string]any{
		"document_id":   in.Metadata.DocumentID,
		"document_type": in.Metadata.DocumentType,
		"requirements":  in.Metadata.ComplianceRequirements,
	}
	if analysis, ok := in.Data["analysis"]; ok {
		req["analysis"] = analysis
	}
	resp, err := e.Port.Call(ctx, ai.CapabilityComplianceScore, req)
	if err != nil {
		return nil, err
	}
	return map[string]any{"compliance": resp}, nil
}

// SignaturePlacementExecutor locates signature fields on the document.
type SignaturePlacementExecutor struct {
	Port ai.ServicePort
}

func (e *SignaturePlacementExecutor) Type() schema.WorkflowStepType {
	return schema.StepTypeSignaturePlacement
}

func (e *SignaturePlacementExecutor) OutputSchema() json.RawMessage {
	return validation.RequiredFieldsSchema("signature_fields")
}

func (e *SignaturePlacementExecutor) Execute(ctx context.Context, in Input) (map[string]any, error) {
	req := map[string]any{
		"document_id": in.Metadata.DocumentID,
		"signers":     intParam(in.Config, "signers", 1),
	}
	resp, err := e.Port.Call(ctx, ai.CapabilitySignatureFields, req)
	if err != nil {
		return nil, err
	}
	fields, ok := resp["fields"]
	if !ok {
		fields = resp
	}
	return map[string]any{"signature_fields": fields}, nil
}

// KYCVerificationExecutor verifies the signer's identity documents.
type KYCVerificationExecutor struct {
	Port ai.ServicePort
}

func (e *KYCVerificationExecutor) Type() schema.WorkflowStepType {
	return schema.StepTypeKYCVerification
}

func (e *KYCVerificationExecutor) OutputSchema() json.RawMessage {
	return validation.RequiredFieldsSchema("kyc")
}

func (e *KYCVerificationExecutor) Execute(ctx context.Context, in Input) (map[string]any, error) {
	req := map[string]any{
		"user_id":     in.Metadata.UserID,
		"document_id": in.Metadata.DocumentID,
		"level":       stringParam(in.Config, "level", "standard"),
	}
	resp, err := e.Port.Call(ctx, ai.CapabilityKYCVerification, req)
	if err != nil {
		return nil, err
	}
	return map[string]any{"kyc": resp}, nil
}

// NotificationExecutor delivers a notification to the workflow's user (or a
// recipient named in the step config).
type NotificationExecutor struct {
	Port ai.ServicePort
}

func (e *NotificationExecutor) Type() schema.WorkflowStepType {
	return schema.StepTypeNotification
}

func (e *NotificationExecutor) OutputSchema() json.RawMessage {
	return validation.RequiredFieldsSchema("notification")
}

func (e *NotificationExecutor) Execute(ctx context.Context, in Input) (map[string]any, error) {
	req := map[string]any{
		"recipient": stringParam(in.Config, "recipient", in.Metadata.UserID),
		"template":  stringParam(in.Config, "template", "workflow_update"),
		"channel":   stringParam(in.Config, "channel", "email"),
		"workflow":  in.WorkflowID,
	}
	resp, err := e.Port.Call(ctx, ai.CapabilityNotification, req)
	if err != nil {
		return nil, err
	}
	return map[string]any{"notification": resp}, nil
}

// HumanReviewExecutor files a review request and records it in workflow
// data. It does not block on the reviewer: a paused workflow is resumed once
// the review outcome is written back.
type HumanReviewExecutor struct {
	Port ai.ServicePort
}

func (e *HumanReviewExecutor) Type() schema.WorkflowStepType {
	return schema.StepTypeHumanReview
}

func (e *HumanReviewExecutor) OutputSchema() json.RawMessage {
	return validation.RequiredFieldsSchema("review")
}

func (e *HumanReviewExecutor) Execute(ctx context.Context, in Input) (map[string]any, error) {
	reviewer := stringParam(in.Config, "reviewer", "compliance-team")
	req := map[string]any{
		"recipient": reviewer,
		"template":  "review_requested",
		"channel":   stringParam(in.Config, "channel", "email"),
		"workflow":  in.WorkflowID,
	}
	if _, err := e.Port.Call(ctx, ai.CapabilityNotification, req); err != nil {
		return nil, err
	}
	return map[string]any{
		"review": map[string]any{
			"status":       "requested",
			"reviewer":     reviewer,
			"requested_at": time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}
