package analyzer

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/mitto-dev/mitto/internal/models"
	"github.com/mitto-dev/mitto/internal/prohibition"
)

// Result is the full analyzer output: the mapping, the auto-handled plans,
// the flat assignments, the submit candidates and the validation summary.
type Result struct {
	Success             bool                        `json:"success"`
	Error               string                      `json:"error,omitempty"`
	FormType            FormType                    `json:"form_type"`
	FieldMapping        FieldMapping                `json:"field_mapping"`
	AutoHandledElements []*AutoHandled              `json:"auto_handled_elements"`
	InputAssignments    map[string]*InputAssignment `json:"input_assignments"`
	SubmitButtons       []*SubmitButton             `json:"submit_buttons"`
	SpecialElements     []*Element                  `json:"special_elements,omitempty"`
	ValidationResult    *ValidationResult           `json:"validation_result"`
	SalesProhibition    *prohibition.Detection      `json:"sales_prohibition,omitempty"`
	Summary             string                      `json:"summary"`
}

// Analyzer runs the rule-based form analysis pipeline against a live page.
type Analyzer struct {
	logger    arbor.ILogger
	overrides map[string]int // per-field threshold overrides
	prohibit  *prohibition.Detector
}

// New creates an analyzer. Threshold overrides may be nil.
func New(logger arbor.ILogger, thresholdOverrides map[string]int) *Analyzer {
	return &Analyzer{
		logger:    logger,
		overrides: thresholdOverrides,
		prohibit:  prohibition.NewDetector(logger),
	}
}

// Analyze maps every relevant input on the page to a logical field, decides
// values from client data and plans submission. It never panics across this
// contract; internal failures return a Result with Success=false.
func (a *Analyzer) Analyze(ctx context.Context, page Page, client *models.ClientConfig) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			result = &Result{Success: false, Error: fmt.Sprintf("analyzer panic: %v", r)}
			a.logger.Error().Str("panic", fmt.Sprintf("%v", r)).Msg("Analyzer recovered from panic")
		}
	}()

	snap, err := BuildSnapshot(ctx, page)
	if err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("snapshot failed: %v", err)}
	}
	if len(snap.Elements) == 0 {
		return &Result{Success: false, Error: "no form-relevant elements found"}
	}

	buckets := ClassifyElements(snap)

	formType := DetectFormType(snap, buckets)
	if formType.ShortCircuits() {
		a.logger.Debug().Str("form_type", string(formType)).Msg("Form type short-circuits mapping")
		return &Result{
			Success:  false,
			Error:    fmt.Sprintf("form type %s is out of scope", formType),
			FormType: formType,
			Summary:  fmt.Sprintf("skipped: %s form", formType),
		}
	}

	// Sales-prohibition scan over the page body. Detection here does not
	// abort the analysis; the worker decides what to do with it.
	var detection *prohibition.Detection
	if html, cerr := page.Content(ctx); cerr == nil {
		detection = a.prohibit.Detect(html)
	}

	required := AnalyzeRequired(snap, buckets)
	mapping := MapFields(Patterns(a.overrides), buckets, required)
	PostProcess(mapping, buckets, required)
	auto := HandleUnmapped(mapping, buckets, required, client)
	assignments := AssignValues(mapping, auto, client)
	submits := DetectSubmitButtons(snap, buckets, mapping)
	validation := Validate(formType, mapping, auto, assignments)

	a.logger.Debug().
		Str("form_type", string(formType)).
		Int("mapped_fields", len(mapping)).
		Int("auto_handled", len(auto)).
		Int("submit_candidates", len(submits)).
		Bool("valid", validation.Valid).
		Msg("Form analysis complete")

	return &Result{
		Success:             true,
		FormType:            formType,
		FieldMapping:        mapping,
		AutoHandledElements: auto,
		InputAssignments:    assignments,
		SubmitButtons:       submits,
		ValidationResult:    validation,
		SalesProhibition:    detection,
		Summary: fmt.Sprintf("%s form: %d fields mapped, %d auto-handled, %d submit candidates",
			formType, len(mapping), len(auto), len(submits)),
	}
}
