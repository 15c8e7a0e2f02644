package predictor

import "fmt"

// Dimensions is a latent image size in pixels
type Dimensions struct {
	Width  int
	Height int
}

var aspectRatioLabels = []string{
	"1:1", "16:9", "21:9", "3:2", "2:3", "4:5", "5:4", "3:4", "4:3", "9:16", "9:21",
}

var aspectRatios = map[string]Dimensions{
	"1:1":  {1024, 1024},
	"16:9": {1344, 768},
	"21:9": {1536, 640},
	"3:2":  {1216, 832},
	"2:3":  {832, 1216},
	"4:5":  {896, 1088},
	"5:4":  {1088, 896},
	"3:4":  {896, 1152},
	"4:3":  {1152, 896},
	"9:16": {768, 1344},
	"9:21": {640, 1536},
}

// AspectRatioLabels returns the supported aspect ratio labels in their canonical order
func AspectRatioLabels() []string {
	retv := make([]string, len(aspectRatioLabels))
	copy(retv, aspectRatioLabels)
	return retv
}

func LookupAspectRatio(label string) (Dimensions, error) {
	d, ok := aspectRatios[label]
	if !ok {
		return Dimensions{}, fmt.Errorf("%w: %q", ErrUnknownAspectRatio, label)
	}
	return d, nil
}
