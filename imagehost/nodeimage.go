package imagehost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
)

// DefaultBaseURL is the NodeImage API root.
const DefaultBaseURL = "https://api.nodeimage.com"

// NodeImageClient handles communication with the NodeImage API.
type NodeImageClient struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
	log     *slog.Logger
}

// NewNodeImageClient creates a new NodeImage client.
func NewNodeImageClient(apiKey string, client *http.Client, log *slog.Logger) *NodeImageClient {
	if client == nil {
		client = &http.Client{}
	}
	return &NodeImageClient{
		APIKey:  apiKey,
		BaseURL: DefaultBaseURL,
		Client:  client,
		log:     log,
	}
}

// UploadResponse matches the structure of the successful upload response.
type UploadResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ImageID string `json:"image_id"`
	Links   struct {
		Direct string `json:"direct"`
	} `json:"links"`
}

// UploadImage uploads an image and returns the direct URL.
func (c *NodeImageClient) UploadImage(ctx context.Context, imageBytes []byte, filename string) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return "", fmt.Errorf("imagehost: failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(imageBytes)); err != nil {
		return "", fmt.Errorf("imagehost: failed to copy image bytes to form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("imagehost: failed to finish form: %w", err)
	}

	uploadURL := strings.TrimSuffix(c.BaseURL, "/") + "/api/upload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, body)
	if err != nil {
		return "", fmt.Errorf("imagehost: failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-API-Key", c.APIKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("imagehost: failed to execute upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("imagehost: nodeimage API returned non-200 status: %d, body: %s", resp.StatusCode, string(body))
	}

	var uploadResp UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploadResp); err != nil {
		return "", fmt.Errorf("imagehost: failed to decode upload response: %w", err)
	}
	if !uploadResp.Success {
		return "", fmt.Errorf("imagehost: nodeimage API reported an error: %s", uploadResp.Message)
	}
	if uploadResp.Links.Direct == "" {
		return "", fmt.Errorf("imagehost: nodeimage API returned no direct link")
	}

	c.log.Info("image uploaded to host", "image_id", uploadResp.ImageID, "url", uploadResp.Links.Direct)
	return uploadResp.Links.Direct, nil
}
