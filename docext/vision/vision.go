// Package vision implements docext.Recognizer over the Gemini API: each
// rasterized filing page is sent as an inline image with an OCR
// instruction and the transcription comes back as plain text.
package vision

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

const defaultModel = "gemini-2.0-flash"

const ocrInstruction = `You are an expert OCR system. Extract ALL text from the image exactly as it appears, preserving line breaks. Output the raw text only, with no commentary.`

// Recognizer performs page-image OCR through a Gemini vision model.
type Recognizer struct {
	client *genai.Client
	model  string
}

// Config configures a Recognizer.
type Config struct {
	APIKey string
	// Model overrides the default vision model.
	Model string
	// HTTPClient overrides the transport (used by tests).
	HTTPClient *http.Client
}

// New creates a Recognizer. The API key is required.
func New(ctx context.Context, cfg Config) (*Recognizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("vision: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("vision: create client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Recognizer{client: client, model: model}, nil
}

// Recognize transcribes one page image. The MIME type is sniffed from the
// image bytes; scanned notices are JPEG or PNG page scans.
func (r *Recognizer) Recognize(ctx context.Context, image []byte) (string, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: ocrInstruction},
				{InlineData: &genai.Blob{MIMEType: sniffMIME(image), Data: image}},
			},
		},
	}
	resp, err := r.client.Models.GenerateContent(ctx, r.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("vision: generate: %w", err)
	}
	return resp.Text(), nil
}

func sniffMIME(data []byte) string {
	switch {
	case len(data) > 2 && data[0] == 0xFF && data[1] == 0xD8:
		return "image/jpeg"
	case len(data) > 8 && string(data[1:4]) == "PNG":
		return "image/png"
	default:
		return http.DetectContentType(data)
	}
}
