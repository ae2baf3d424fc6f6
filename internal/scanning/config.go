package scanning

import "fmt"

// Config selects and configures the model backend
type Config struct {
	Backend string // "gemini" or "ollama"

	GeminiKey   string
	GeminiModel string

	OllamaURL   string
	OllamaModel string
	OllamaKey   string
}

// New builds an Extractor for the configured backend. Gemini always
// requires a key; Ollama only when one is given.
func New(cfg Config) (*Extractor, error) {
	switch cfg.Backend {
	case "", "gemini":
		if cfg.GeminiKey == "" {
			return nil, ErrMissingCredential
		}
		model, err := NewGemini(cfg.GeminiKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		return NewExtractor(model, cfg.GeminiKey), nil
	case "ollama":
		model, err := NewOllama(cfg.OllamaURL, cfg.OllamaModel, cfg.OllamaKey)
		if err != nil {
			return nil, err
		}
		if cfg.OllamaKey != "" {
			return NewExtractor(model, cfg.OllamaKey), nil
		}
		return NewAnonymousExtractor(model), nil
	default:
		return nil, fmt.Errorf("invalid scanner type %q: valid values are gemini or ollama", cfg.Backend)
	}
}
