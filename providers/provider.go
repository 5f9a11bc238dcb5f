package providers

import "context"

// GenerationInput defines the standardized input for image generation.
type GenerationInput struct {
	Prompt         string
	SourceImageURL string // set for image-to-image requests
	ModelKey       string // short model selector, e.g. "dev"
	Size           string // "WxH"
}

// GenerationOutput defines the standardized output of image generation.
type GenerationOutput struct {
	ImageURL string // URL of the generated image
	Seed     int64
}

// ImageProvider is the interface implemented by image generation backends.
type ImageProvider interface {
	// Generate an image based on the provided input.
	Generate(ctx context.Context, input GenerationInput) (*GenerationOutput, error)
	// GetName returns the name of the provider.
	GetName() string
}
