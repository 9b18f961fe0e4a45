package replicate

import (
	"errors"
	"fmt"
)

// Family selects the input-shaping rules for a model family
type Family string

const (
	// FamilyStandard is a no-reference model driven by a text prompt alone
	FamilyStandard Family = "standard"
	// FamilyControl covers edge/depth-style models guided by a control image
	FamilyControl Family = "control"
	// FamilyCharacter requires a face-reference image and sampling parameters
	FamilyCharacter Family = "character"
)

// Sampling defaults for the character family
const (
	DefaultStartStep      = 4
	DefaultNumOutputs     = 4
	DefaultInferenceSteps = 30
	DefaultGuidanceScale  = 7.5
)

var (
	ErrPromptRequired    = errors.New("prompt is required")
	ErrReferenceRequired = errors.New("reference image is required")
	ErrUnknownFamily     = errors.New("unknown model family")
)

// GenerateRequest is the family-independent generation input
type GenerateRequest struct {
	Prompt         string
	NegativePrompt string
	Reference      string // local path, URL, or data URI
	NumOutputs     int
	InferenceSteps int
	StartStep      int
	GuidanceScale  float64
}

// familySpec owns the input-shaping and validation rules for one family
type familySpec struct {
	needsReference bool
	shape          func(req GenerateRequest, ref string) map[string]any
}

var families = map[Family]familySpec{
	FamilyStandard: {
		shape: func(req GenerateRequest, _ string) map[string]any {
			input := map[string]any{
				"prompt": req.Prompt,
			}
			if req.NegativePrompt != "" {
				input["negative_prompt"] = req.NegativePrompt
			}
			return input
		},
	},
	FamilyControl: {
		needsReference: true,
		shape: func(req GenerateRequest, ref string) map[string]any {
			input := map[string]any{
				"prompt": req.Prompt,
				"image":  ref,
			}
			if req.NegativePrompt != "" {
				input["negative_prompt"] = req.NegativePrompt
			}
			return input
		},
	},
	FamilyCharacter: {
		needsReference: true,
		shape: func(req GenerateRequest, ref string) map[string]any {
			return map[string]any{
				"prompt":              req.Prompt,
				"image":               ref,
				"start_step":          intOrDefault(req.StartStep, DefaultStartStep),
				"num_outputs":         intOrDefault(req.NumOutputs, DefaultNumOutputs),
				"num_inference_steps": intOrDefault(req.InferenceSteps, DefaultInferenceSteps),
				"guidance_scale":      floatOrDefault(req.GuidanceScale, DefaultGuidanceScale),
				"negative_prompt":     req.NegativePrompt,
			}
		},
	},
}

func intOrDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func floatOrDefault(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}

// ParseFamily resolves a family name; empty means standard
func ParseFamily(name string) (Family, error) {
	if name == "" {
		return FamilyStandard, nil
	}

	f := Family(name)
	if _, ok := families[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownFamily, name)
	}
	return f, nil
}

// NeedsReference reports whether the family requires a reference image
func (f Family) NeedsReference() bool {
	return families[f].needsReference
}

// BuildInput validates the request and shapes the model input for the family
func BuildInput(f Family, req GenerateRequest, ref string) (map[string]any, error) {
	spec, ok := families[f]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, f)
	}

	if req.Prompt == "" {
		return nil, ErrPromptRequired
	}

	if spec.needsReference && ref == "" {
		return nil, ErrReferenceRequired
	}

	return spec.shape(req, ref), nil
}
