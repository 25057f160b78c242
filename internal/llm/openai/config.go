package openai

import "time"

// Config holds everything the chat/completions client needs.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string // fallback when the request does not name one
	Temperature float32
	Timeout     time.Duration // per-call deadline; 0 disables
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	return c
}
