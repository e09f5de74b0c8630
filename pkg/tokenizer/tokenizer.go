// Package tokenizer bounds prompt inputs either by runes or by model tokens.
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Truncator cuts text down to at most limit units.
type Truncator interface {
	Truncate(text string, limit int) string
}

// Runes truncates by Unicode code points.
type Runes struct{}

// Truncate implements Truncator.
func (Runes) Truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit])
}

// Tiktoken truncates by BPE tokens of a model encoding.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the encoding for a model name, or an encoding name such as cl100k_base.
func NewTiktoken(name string) (*Tiktoken, error) {
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, fmt.Errorf("failed to load tiktoken encoding %q: %w", name, err)
		}
	}
	return &Tiktoken{enc: enc}, nil
}

// Count returns the number of tokens in text.
func (t *Tiktoken) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// Truncate implements Truncator.
func (t *Tiktoken) Truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	ids := t.enc.Encode(text, nil, nil)
	if len(ids) <= limit {
		return text
	}
	return t.enc.Decode(ids[:limit])
}
