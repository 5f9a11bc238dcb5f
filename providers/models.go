package providers

// ModelParams is the fixed request configuration for one model key.
type ModelParams struct {
	Path               string  // endpoint path under the API base URL
	Model              string  // sent as "model" when the endpoint serves several models
	Steps              int     // num_inference_steps
	Guidance           float64 // guidance_scale
	CFGScale           float64 // cfg_scale
	StyleName          string
	StyleStrengthRatio int
}

const (
	defaultTextModel  = "schnell"
	defaultImageModel = "sdxl"
)

var textToImageModels = map[string]ModelParams{
	"dev": {
		Path:     "/image/generations",
		Model:    "black-forest-labs/FLUX.1-dev",
		Steps:    30,
		Guidance: 3.5,
	},
	"schnell": {Path: "/black-forest-labs/FLUX.1-schnell/text-to-image", Steps: 20, Guidance: 3.5},
	"sd3":     {Path: "/stabilityai/stable-diffusion-3-medium/text-to-image", Steps: 30, Guidance: 4.5},
	"sdxl":    {Path: "/stabilityai/stable-diffusion-xl-base-1.0/text-to-image", Steps: 25, Guidance: 3.5},
	"sd2":     {Path: "/stabilityai/stable-diffusion-2-1/text-to-image", Steps: 25, Guidance: 6.0},
	"sdt":     {Path: "/stabilityai/sd-turbo/text-to-image", Steps: 6, Guidance: 1.0, CFGScale: 1.0},
	"sdxlt":   {Path: "/stabilityai/sdxl-turbo/text-to-image", Steps: 4, Guidance: 1.0},
	"sdxll":   {Path: "/ByteDance/SDXL-Lightning/text-to-image", Steps: 4, Guidance: 1.0},
	"sd35": {
		Path:     "/images/generations",
		Model:    "stabilityai/stable-diffusion-3-5-large",
		Steps:    30,
		Guidance: 4.5,
	},
}

var imageToImageModels = map[string]ModelParams{
	"sdxl":  {Path: "/stabilityai/stable-diffusion-xl-base-1.0/image-to-image", Steps: 30, Guidance: 7.0},
	"sd2":   {Path: "/stabilityai/stable-diffusion-2-1/image-to-image", Steps: 30, Guidance: 7.0},
	"sdxll": {Path: "/ByteDance/SDXL-Lightning/image-to-image", Steps: 4, Guidance: 1.0},
	"pm": {
		Path:               "/TencentARC/PhotoMaker/image-to-image",
		Guidance:           5,
		StyleName:          "Photographic (Default)",
		StyleStrengthRatio: 20,
	},
}

// TextToImageParams returns the settings for modelKey, falling back to the default text model.
func TextToImageParams(modelKey string) (ModelParams, bool) {
	if p, ok := textToImageModels[modelKey]; ok {
		return p, true
	}
	return textToImageModels[defaultTextModel], false
}

// ImageToImageParams returns the settings for modelKey, falling back to the default image model.
func ImageToImageParams(modelKey string) (ModelParams, bool) {
	if p, ok := imageToImageModels[modelKey]; ok {
		return p, true
	}
	return imageToImageModels[defaultImageModel], false
}

// TextToImageModels lists the known text-to-image model keys.
func TextToImageModels() []string {
	return sortedKeys(textToImageModels)
}

// ImageToImageModels lists the known image-to-image model keys.
func ImageToImageModels() []string {
	return sortedKeys(imageToImageModels)
}
