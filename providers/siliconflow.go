package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"drawbot/prompt"
)

// DefaultBaseURL is the SiliconFlow API root.
const DefaultBaseURL = "https://api.siliconflow.cn/v1"

// SiliconFlowProvider implements the ImageProvider for SiliconFlow.
type SiliconFlowProvider struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
	log     *slog.Logger
}

var _ ImageProvider = (*SiliconFlowProvider)(nil)

// NewSiliconFlowProvider creates a new SiliconFlow client.
func NewSiliconFlowProvider(apiKey, baseURL string, client *http.Client, log *slog.Logger) *SiliconFlowProvider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &SiliconFlowProvider{
		APIKey:  apiKey,
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Client:  client,
		log:     log,
	}
}

// GetName returns the name of the provider.
func (p *SiliconFlowProvider) GetName() string {
	return "SiliconFlow"
}

type textToImagePayload struct {
	Prompt   string  `json:"prompt"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Model    string  `json:"model,omitempty"`
	Steps    int     `json:"num_inference_steps,omitempty"`
	Guidance float64 `json:"guidance_scale,omitempty"`
	CFGScale float64 `json:"cfg_scale,omitempty"`
}

type imageToImagePayload struct {
	Prompt             string  `json:"prompt"`
	Image              string  `json:"image"`
	Width              int     `json:"width"`
	Height             int     `json:"height"`
	BatchSize          int     `json:"batch_size"`
	Steps              int     `json:"num_inference_steps,omitempty"`
	Guidance           float64 `json:"guidance_scale,omitempty"`
	StyleName          string  `json:"style_name,omitempty"`
	StyleStrengthRatio int     `json:"style_strengh_radio,omitempty"`
}

type generationResponse struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
	Seed int64 `json:"seed"`
}

// Generate performs image-to-image generation when input carries a source
// image URL and text-to-image generation otherwise.
func (p *SiliconFlowProvider) Generate(ctx context.Context, input GenerationInput) (*GenerationOutput, error) {
	width, height, err := ParseSize(input.Size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.GetName(), err)
	}

	if input.SourceImageURL != "" {
		p.log.Debug("source image detected, using image-to-image", "url", input.SourceImageURL)
		return p.generateFromImage(ctx, input, width, height)
	}
	p.log.Debug("no source image, using text-to-image")
	return p.generateFromText(ctx, input, width, height)
}

func (p *SiliconFlowProvider) generateFromText(ctx context.Context, input GenerationInput, width, height int) (*GenerationOutput, error) {
	params, known := TextToImageParams(input.ModelKey)
	if !known {
		p.log.Debug("unknown text-to-image model, using default", "model_key", input.ModelKey, "default", defaultTextModel)
	}

	payload := textToImagePayload{
		Prompt:   input.Prompt,
		Width:    width,
		Height:   height,
		Model:    params.Model,
		Steps:    params.Steps,
		Guidance: params.Guidance,
		CFGScale: params.CFGScale,
	}

	if logPayload, err := json.MarshalIndent(payload, "", "  "); err == nil {
		p.log.Debug("calling provider", "provider", p.GetName(), "model_key", input.ModelKey, "path", params.Path)
		p.log.Debug("request payload", "payload", string(logPayload))
	}

	return p.post(ctx, params.Path, payload)
}

func (p *SiliconFlowProvider) generateFromImage(ctx context.Context, input GenerationInput, width, height int) (*GenerationOutput, error) {
	params, known := ImageToImageParams(input.ModelKey)
	if !known {
		p.log.Debug("unknown image-to-image model, using default", "model_key", input.ModelKey, "default", defaultImageModel)
	}

	raw, contentType, err := DownloadFile(ctx, p.Client, input.SourceImageURL)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to download source image: %w", p.GetName(), err)
	}
	data, contentType, err := processImage(raw, contentType, p.log)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to process source image: %w", p.GetName(), err)
	}

	payload := imageToImagePayload{
		Prompt:             prompt.RemoveImageURLs(input.Prompt),
		Image:              dataURI(data, contentType),
		Width:              width,
		Height:             height,
		BatchSize:          1,
		Steps:              params.Steps,
		Guidance:           params.Guidance,
		StyleName:          params.StyleName,
		StyleStrengthRatio: params.StyleStrengthRatio,
	}

	logPayload := payload
	logPayload.Image = "[BASE64_IMAGE_DATA]"
	if b, err := json.MarshalIndent(logPayload, "", "  "); err == nil {
		p.log.Debug("calling provider", "provider", p.GetName(), "model_key", input.ModelKey, "path", params.Path)
		p.log.Debug("request payload", "payload", string(b))
	}

	return p.post(ctx, params.Path, payload)
}

func (p *SiliconFlowProvider) post(ctx context.Context, path string, payload any) (*GenerationOutput, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to marshal payload: %w", p.GetName(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+path, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", p.GetName(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to call generation API: %w", p.GetName(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response body: %w", p.GetName(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{
			Provider:   p.GetName(),
			StatusCode: resp.StatusCode,
			Message:    parseErrorMessage(body),
			Body:       string(body),
		}
		p.log.Error("generation API returned an error", "status", resp.StatusCode, "body", apiErr.Body)
		return nil, apiErr
	}

	var genResp generationResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return nil, fmt.Errorf("%s: failed to decode response: %w", p.GetName(), err)
	}
	if len(genResp.Images) == 0 || genResp.Images[0].URL == "" {
		return nil, fmt.Errorf("%s: no images returned in response", p.GetName())
	}

	p.log.Debug("generation succeeded", "url", genResp.Images[0].URL, "seed", genResp.Seed)
	return &GenerationOutput{
		ImageURL: genResp.Images[0].URL,
		Seed:     genResp.Seed,
	}, nil
}
