package scanning

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultGeminiModel is fast and has strong vision support
const DefaultGeminiModel = "gemini-2.5-flash"

// Gemini implements the Model interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Model instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, ErrMissingCredential
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = geminiRecordsSchema()

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// geminiRecordsSchema mirrors recordsJSONSchema in genai's schema type
func geminiRecordsSchema() *genai.Schema {
	props := make(map[string]*genai.Schema, len(recordFields))
	for _, f := range recordFields {
		props[f.Name] = &genai.Schema{
			Type:        genai.TypeString,
			Description: f.Description,
		}
	}
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: props,
			Required:   requiredFieldNames(),
		},
	}
}

// geminiImageFormat converts "image/png" to the "png" suffix genai.ImageData expects
func geminiImageFormat(mimeType string) string {
	format := strings.TrimPrefix(normalizeMIMEType(mimeType), "image/")
	if format == "" || strings.Contains(format, "/") {
		return "jpeg"
	}
	return format
}

// Generate sends the image and instruction in one request and returns the text answer
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	model := g.configured(req.Temperature)
	resp, err := model.GenerateContent(ctx,
		genai.ImageData(geminiImageFormat(req.MIMEType), req.Image),
		genai.Text(req.Instruction),
	)
	if err != nil {
		return "", fmt.Errorf("calling gemini API: %w", err)
	}
	return responseText(resp), nil
}

// configured returns a per-request copy of the model so concurrent sessions
// don't share generation config
func (g *Gemini) configured(temperature float32) *genai.GenerativeModel {
	model := *g.model
	model.SetTemperature(temperature)
	return &model
}

// responseText joins the text parts of the first candidate. Non-text parts
// are skipped and a response without content yields "".
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return strings.TrimSpace(text.String())
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
