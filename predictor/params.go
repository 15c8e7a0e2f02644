package predictor

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

var OutputFormats = []string{"webp", "jpg", "png"}

// Params is the input of a single prediction
type Params struct {
	Prompt                string
	NegativePrompt        string
	AspectRatio           string
	GuidanceScale         float64
	NumInferenceSteps     float64
	Denoise               float64
	HighNumInferenceSteps float64
	HighDenoise           float64
	OutputFormat          string
	OutputQuality         int
	// Seed is nil until resolved. A nil or negative seed asks for a random one.
	Seed *int64
	// InputFile is an optional path copied into the input directory before the run
	InputFile string
}

// DefaultParams returns the defaults a caller gets when it sets nothing
func DefaultParams() Params {
	return Params{
		AspectRatio:           "1:1",
		GuidanceScale:         7,
		NumInferenceSteps:     50,
		Denoise:               1,
		HighNumInferenceSteps: 50,
		HighDenoise:           0.4,
		OutputFormat:          "webp",
		OutputQuality:         80,
	}
}

// WithSeed returns a copy of the params carrying a concrete seed
func (p Params) WithSeed(seed int64) Params {
	p.Seed = &seed
	return p
}

// Validate checks every bounded field and reports all violations at once
func (p Params) Validate() error {
	var errs []error

	if _, ok := aspectRatios[p.AspectRatio]; !ok {
		errs = append(errs, fmt.Errorf("aspect_ratio %q must be one of %v", p.AspectRatio, aspectRatioLabels))
	}
	errs = append(errs,
		checkRange("guidance_scale", p.GuidanceScale, 0.1, 10),
		checkRange("num_inference_steps", p.NumInferenceSteps, 1, 100),
		checkRange("denoise", p.Denoise, 0, 1),
		checkRange("high_num_inference_steps", p.HighNumInferenceSteps, 1, 100),
		checkRange("high_denoise", p.HighDenoise, 0, 1),
		checkRange("output_quality", float64(p.OutputQuality), 0, 100),
	)
	if !slices.Contains(OutputFormats, p.OutputFormat) {
		errs = append(errs, fmt.Errorf("output_format %q must be one of %v", p.OutputFormat, OutputFormats))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

func checkRange(name string, v, lo, hi float64) error {
	if math.IsNaN(v) || v < lo || v > hi {
		return fmt.Errorf("%s %v must be between %v and %v", name, v, lo, hi)
	}
	return nil
}
