// Package prompt extracts drawing options from free-form command text.
//
// A command looks like "a cat in the snow --m dev --ar 16:9". The optional
// "--m <key>" marker selects the model, "--ar <W:H>" selects the aspect
// ratio, and an embedded image URL switches generation to image-to-image.
package prompt

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

// DefaultSize is used when no ratio marker is present or the ratio is unknown.
const DefaultSize = "1024x1024"

var (
	modelMarker   = regexp.MustCompile(`--m ?(\S+)`)
	ratioMarker   = regexp.MustCompile(`--ar (\d+:\d+)`)
	modelStrip    = regexp.MustCompile(`\s*--m ?\S+`)
	ratioStrip    = regexp.MustCompile(`\s*--ar \d+:\d+`)
	imageURL      = regexp.MustCompile(`(?i)(https?://[^\s]+?\.(?:png|jpe?g|gif|bmp|webp|svg|tiff|ico))(?:\s|$)`)
	imageURLStrip = regexp.MustCompile(`(?i)https?://\S+\.(?:png|jpe?g|gif|bmp|webp|svg|tiff|ico)(?:\s|$)`)
)

// largeSizes is used by most models.
var largeSizes = map[string]string{
	"1:1":  "1024x1024",
	"1:2":  "1024x2048",
	"2:1":  "2048x1024",
	"3:2":  "1536x1024",
	"2:3":  "1024x1536",
	"4:3":  "1536x1152",
	"3:4":  "1152x1536",
	"16:9": "2048x1152",
	"9:16": "1152x2048",
}

// compactSizes is used by models that reject the large sizes.
var compactSizes = map[string]string{
	"1:1":  "1024x1024",
	"1:2":  "512x1024",
	"2:1":  "1024x512",
	"3:2":  "768x512",
	"2:3":  "512x768",
	"4:3":  "768x576",
	"3:4":  "576x768",
	"16:9": "1024x576",
	"9:16": "576x1024",
}

// Command is a parsed drawing request.
type Command struct {
	ModelKey       string
	ImageSize      string
	Prompt         string
	SourceImageURL string
}

// HasSourceImage reports whether the command is an image-to-image request.
func (c Command) HasSourceImage() bool {
	return c.SourceImageURL != ""
}

// Parser holds the defaults needed to interpret a command.
type Parser struct {
	defaultModel  string
	compactModels map[string]struct{}
	log           *slog.Logger
}

// NewParser creates a Parser. compactModels lists the model keys that use the compact size table.
func NewParser(defaultModel string, compactModels []string, log *slog.Logger) *Parser {
	set := make(map[string]struct{}, len(compactModels))
	for _, m := range compactModels {
		set[m] = struct{}{}
	}
	return &Parser{
		defaultModel:  defaultModel,
		compactModels: set,
		log:           log,
	}
}

// Parse extracts every option from text.
func (p *Parser) Parse(text string) Command {
	modelKey := p.ExtractModelKey(text)
	cmd := Command{
		ModelKey:  modelKey,
		ImageSize: p.ExtractImageSize(text, modelKey),
		Prompt:    CleanPromptString(text),
	}
	if u, ok := ExtractImageURL(text); ok {
		cmd.SourceImageURL = u
	}

	p.log.Debug("parsed drawing command",
		"model", cmd.ModelKey,
		"size", cmd.ImageSize,
		"prompt", cmd.Prompt,
		"source_image", cmd.SourceImageURL,
	)
	return cmd
}

// ExtractModelKey returns the token after "--m", or the default model.
func (p *Parser) ExtractModelKey(text string) string {
	if m := modelMarker.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return p.defaultModel
}

// ExtractImageSize maps the "--ar W:H" marker to a pixel size for modelKey.
func (p *Parser) ExtractImageSize(text, modelKey string) string {
	m := ratioMarker.FindStringSubmatch(text)
	if m == nil {
		return DefaultSize
	}

	sizes := largeSizes
	if _, ok := p.compactModels[modelKey]; ok {
		sizes = compactSizes
	}
	if size, ok := sizes[m[1]]; ok {
		return size
	}
	return DefaultSize
}

// CleanPromptString removes the model and ratio markers, leaving the natural-language prompt.
func CleanPromptString(text string) string {
	text = ratioStrip.ReplaceAllString(text, "")
	text = modelStrip.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// ExtractImageURL returns the first image URL in text.
func ExtractImageURL(text string) (string, bool) {
	m := imageURL.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// RemoveImageURLs strips every image URL from text.
func RemoveImageURLs(text string) string {
	return strings.TrimSpace(imageURLStrip.ReplaceAllString(text, ""))
}

// SupportedRatios lists the recognised aspect ratios in a stable order.
func SupportedRatios() []string {
	ratios := make([]string, 0, len(largeSizes))
	for r := range largeSizes {
		ratios = append(ratios, r)
	}
	sort.Strings(ratios)
	return ratios
}
