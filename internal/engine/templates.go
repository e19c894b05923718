package engine

import (
	"context"
	"strings"
	"time"

	"github.com/buffrsign/engine/pkg/schema"
)

// Built-in signature workflow templates keyed by document type. Unknown
// types fall back to the generic template.

type documentTemplate struct {
	name              string
	estimatedDuration time.Duration
	aiModels          []string
	compliance        []string
	steps             []schema.StepDescriptor
}

var documentTemplates = map[string]documentTemplate{
	"contract": {
		name:              "Contract Signature Workflow",
		estimatedDuration: 15 * time.Minute,
		aiModels:          []string{"document-analyzer", "field-extractor", "compliance-scorer"},
		compliance:        []string{"eta_2019", "cran_accredited"},
		steps: []schema.StepDescriptor{
			{ID: "analyze", Type: schema.StepTypeDocumentAnalysis, Name: "Analyze contract structure"},
			{ID: "extract", Type: schema.StepTypeAIExtraction, Name: "Extract contract fields",
				Config: map[string]any{"projection": map[string]any{"parties": ".entities"}}},
			{ID: "compliance", Type: schema.StepTypeComplianceCheck, Name: "Check ETA 2019 compliance"},
			{ID: "placement", Type: schema.StepTypeSignaturePlacement, Name: "Locate signature fields"},
			{ID: "notify", Type: schema.StepTypeNotification, Name: "Notify signers"},
		},
	},
	"financial": {
		name:              "Financial Agreement Workflow",
		estimatedDuration: 30 * time.Minute,
		aiModels:          []string{"document-analyzer", "field-extractor", "risk-assessor"},
		compliance:        []string{"eta_2019", "namfisa"},
		steps: []schema.StepDescriptor{
			{ID: "analyze", Type: schema.StepTypeDocumentAnalysis, Name: "Analyze financial document"},
			{ID: "kyc", Type: schema.StepTypeKYCVerification, Name: "Verify signer identity"},
			{ID: "extract", Type: schema.StepTypeAIExtraction, Name: "Extract financial terms"},
			{ID: "compliance", Type: schema.StepTypeComplianceCheck, Name: "Check regulatory compliance"},
			{ID: "review", Type: schema.StepTypeHumanReview, Name: "Compliance officer review",
				Conditions: []schema.Condition{
					{Field: "compliance.score", Operator: schema.OpLessThan, Value: 80},
				}},
			{ID: "placement", Type: schema.StepTypeSignaturePlacement, Name: "Locate signature fields"},
			{ID: "notify", Type: schema.StepTypeNotification, Name: "Notify signers"},
		},
	},
	"identity": {
		name:              "Identity Document Workflow",
		estimatedDuration: 10 * time.Minute,
		aiModels:          []string{"document-analyzer", "kyc-verifier"},
		compliance:        []string{"eta_2019"},
		steps: []schema.StepDescriptor{
			{ID: "analyze", Type: schema.StepTypeDocumentAnalysis, Name: "Analyze identity document"},
			{ID: "kyc", Type: schema.StepTypeKYCVerification, Name: "Verify identity",
				Retry: &schema.RetryPolicy{MaxRetries: 2, Backoff: schema.BackoffLinear}},
			{ID: "notify", Type: schema.StepTypeNotification, Name: "Notify requester"},
		},
	},
}

var genericTemplate = documentTemplate{
	name:              "Document Signature Workflow",
	estimatedDuration: 20 * time.Minute,
	aiModels:          []string{"document-analyzer", "field-extractor"},
	compliance:        []string{"eta_2019"},
	steps: []schema.StepDescriptor{
		{ID: "analyze", Type: schema.StepTypeDocumentAnalysis, Name: "Analyze document"},
		{ID: "extract", Type: schema.StepTypeAIExtraction, Name: "Extract fields"},
		{ID: "compliance", Type: schema.StepTypeComplianceCheck, Name: "Check compliance"},
		{ID: "placement", Type: schema.StepTypeSignaturePlacement, Name: "Locate signature fields"},
		{ID: "notify", Type: schema.StepTypeNotification, Name: "Notify signers"},
	},
}

// CreateDocumentWorkflow creates a workflow from the built-in template for
// the document type. Unknown types use the generic template; an empty
// priority defaults to medium.
func (e *Engine) CreateDocumentWorkflow(ctx context.Context, documentID, userID, documentType string, priority schema.Priority) (string, error) {
	if documentID == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "document id is required")
	}
	if userID == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "user id is required")
	}

	tpl, ok := documentTemplates[strings.ToLower(documentType)]
	if !ok {
		tpl = genericTemplate
	}
	if priority == "" {
		priority = schema.PriorityMedium
	}

	meta := &schema.WorkflowMetadata{
		DocumentID:             documentID,
		UserID:                 userID,
		DocumentType:           strings.ToLower(documentType),
		Priority:               priority,
		EstimatedDuration:      tpl.estimatedDuration,
		RequiredAIModels:       append([]string(nil), tpl.aiModels...),
		ComplianceRequirements: append([]string(nil), tpl.compliance...),
	}

	// Step ids are namespaced per document so node registrations from
	// concurrent workflows never collide.
	steps := make([]schema.StepDescriptor, len(tpl.steps))
	for i, s := range tpl.steps {
		s.ID = documentID + "_" + s.ID
		steps[i] = s
	}

	return e.Create(ctx, tpl.name, steps, meta)
}

// DocumentTemplateTypes lists the document types with a dedicated template.
func DocumentTemplateTypes() []string {
	out := make([]string, 0, len(documentTemplates))
	for k := range documentTemplates {
		out = append(out, k)
	}
	return out
}
