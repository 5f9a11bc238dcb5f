package providers

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif" // Keep for decoding gifs
	"image/jpeg"
	_ "image/png" // Keep for decoding pngs
	"log/slog"
	"net/http"
	"strings"

	_ "github.com/chai2010/webp" // Keep for decoding webp
	"github.com/nfnt/resize"
)

// maxSourceDimension bounds the source image sent for image-to-image generation.
const maxSourceDimension = 1920

// processImage downsizes an image larger than maxSourceDimension and converts
// png/webp/gif input to JPEG. Undecodable data (svg, ico, ...) is returned as is.
func processImage(imgBytes []byte, contentType string, log *slog.Logger) ([]byte, string, error) {
	img, format, err := image.Decode(bytes.NewReader(imgBytes))
	if err != nil {
		log.Debug("source image could not be decoded, sending as is", "error", err)
		return imgBytes, detectContentType(imgBytes, contentType), nil
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	needsResize := width > maxSourceDimension || height > maxSourceDimension
	needsConversion := format != "jpeg"

	if !needsResize && !needsConversion {
		return imgBytes, "image/jpeg", nil
	}

	processed := img
	if needsResize {
		log.Debug("resizing source image", "width", width, "height", height, "max", maxSourceDimension)
		processed = resize.Thumbnail(maxSourceDimension, maxSourceDimension, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, processed, &jpeg.Options{Quality: 90}); err != nil {
		return nil, "", fmt.Errorf("failed to encode image to jpeg: %w", err)
	}

	log.Debug("source image processed",
		"format", format,
		"original_bytes", len(imgBytes),
		"processed_bytes", buf.Len(),
		"width", processed.Bounds().Dx(),
		"height", processed.Bounds().Dy(),
	)
	return buf.Bytes(), "image/jpeg", nil
}

// dataURI encodes image bytes as a base64 data URI.
func dataURI(data []byte, contentType string) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func detectContentType(data []byte, declared string) string {
	if strings.HasPrefix(declared, "image/") {
		if i := strings.Index(declared, ";"); i != -1 {
			return strings.TrimSpace(declared[:i])
		}
		return declared
	}
	return http.DetectContentType(data)
}
