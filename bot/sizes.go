package bot

import "fmt"

// image size limits enforced before a job is accepted
const (
	maxWidth  = 2048
	maxHeight = 2048
	maxPixels = 1024 * 1536
	minDim    = 64
)

type size struct {
	W, H int
}

var sizePresets = map[string]size{
	"portrait_s":  {512, 768},
	"portrait_m":  {832, 1216},
	"landscape_s": {768, 512},
	"landscape_m": {1216, 832},
	"square_s":    {512, 512},
	"square_m":    {768, 768},
	"square_l":    {832, 832},
	"hd":          {1024, 1024},
}

// sizeChoices is the select-menu ordering with display labels.
var sizeChoices = []struct {
	Value string
	Label string
}{
	{"portrait_m", "Portrait 832x1216"},
	{"portrait_s", "Portrait 512x768"},
	{"landscape_m", "Landscape 1216x832"},
	{"landscape_s", "Landscape 768x512"},
	{"square_s", "Square 512x512"},
	{"square_m", "Square 768x768"},
	{"square_l", "Square 832x832"},
	{"hd", "Square 1024x1024"},
	{"custom", "Custom size"},
}

// validateSize checks the hard limits on requested dimensions.
func validateSize(w, h int) error {
	if w < minDim || w > maxWidth {
		return fmt.Errorf("width must be between %d and %d", minDim, maxWidth)
	}
	if h < minDim || h > maxHeight {
		return fmt.Errorf("height must be between %d and %d", minDim, maxHeight)
	}
	if w*h > maxPixels {
		return fmt.Errorf("total pixels can't exceed %d", maxPixels)
	}
	return nil
}

// snapSize floors both dimensions to multiples of 64, the latent
// grid size the models expect.
func snapSize(w, h int) (int, int) {
	return (w / minDim) * minDim, (h / minDim) * minDim
}

// sizeDisplay renders the size line for the panel embed.
func sizeDisplay(name string, w, h int) string {
	if name == "custom" {
		return fmt.Sprintf("custom: %dx%d", w, h)
	}
	if s, ok := sizePresets[name]; ok {
		return fmt.Sprintf("%s (%dx%d)", name, s.W, s.H)
	}
	return fmt.Sprintf("%dx%d", w, h)
}
