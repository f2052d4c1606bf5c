package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// transcribePrompt asks the model for a verbatim transcription rather than a
// summary, so the downstream heuristics see the same kind of raw text a local
// tesseract would produce.
const transcribePrompt = `You are transcribing a photographed paper receipt. Read every piece of text in the image and return it verbatim, one line of the receipt per line of output, top to bottom.

Important:
- Preserve the original wording, numbers, and punctuation exactly as printed
- Keep amounts, dates, and identifiers unmodified (do not reformat them)
- Keep the column spacing of table rows by separating columns with two or more spaces
- Return ONLY the transcribed text, with no commentary and no markdown code blocks`

// Gemini is a cloud vision fallback Engine for hosts without a local
// tesseract install. It returns plain text with an estimated confidence;
// per-word confidences are not available from the API.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates the fallback engine.
func NewGemini(ctx context.Context, apiKey, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

// Available reports whether the client was constructed.
func (g *Gemini) Available() bool {
	return g != nil && g.client != nil
}

// Recognize transcribes PNG-encoded image data.
func (g *Gemini) Recognize(ctx context.Context, png []byte, opts Options) (Result, error) {
	if !g.Available() {
		return Result{}, ErrEngineUnavailable
	}

	parts := []genai.Part{
		genai.ImageData("png", png),
		genai.Text(transcribePrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return Result{}, fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return Result{}, fmt.Errorf("no response from gemini")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}

	text := strings.TrimSpace(sb.String())
	text = strings.TrimPrefix(text, "```text")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	return Result{
		Text:       text,
		Confidence: estimateConfidence(text),
	}, nil
}

// Close closes the underlying client.
func (g *Gemini) Close() error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Close()
}

// estimateConfidence scores transcription quality from text shape alone,
// since the API reports no recognition confidence. Scale is 0-100 to match
// the tesseract engine.
func estimateConfidence(text string) float64 {
	if text == "" {
		return 0
	}

	confidence := 50.0
	if len(text) > 200 {
		confidence += 10
	}
	if len(strings.Fields(text)) > 20 {
		confidence += 10
	}

	alpha := 0
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			alpha++
		}
	}
	ratio := float64(alpha) / float64(len(text))
	if ratio > 0.5 && ratio < 0.9 {
		confidence += 15
	}

	if confidence > 85 {
		confidence = 85
	}
	return confidence
}
