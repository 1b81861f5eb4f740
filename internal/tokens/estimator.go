// Package tokens estimates the token length of model output.
//
// Two strategies implement [Estimator]: [Tiktoken] counts tokens with a
// model-specific BPE encoding, and [Heuristic] assumes a fixed number of
// characters per token. [Select] picks the precise strategy when an encoding
// can be loaded and falls back to the heuristic otherwise.
package tokens

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// CharsPerToken is the ratio used by [Heuristic].
const CharsPerToken = 4

// FallbackEncoding is used when the model has no registered encoding.
const FallbackEncoding = "cl100k_base"

// LoadTimeout bounds how long [Select] waits for an encoding. tiktoken-go
// downloads BPE ranks on first use unless TIKTOKEN_CACHE_DIR holds them.
const LoadTimeout = 5 * time.Second

// loadEncoding is swapped in tests.
var loadEncoding = NewTiktoken

// Estimator counts the tokens in a piece of text.
type Estimator interface {
	// Count returns the estimated number of tokens in text.
	Count(text string) int

	// Name identifies the strategy in logs.
	Name() string
}

// Heuristic estimates one token per CharsPerToken characters, with a minimum of 1.
//
// Characters are Unicode code points, not bytes. The estimate is
// deterministic and provider-independent.
type Heuristic struct{}

// Count returns max(1, runes/CharsPerToken).
func (Heuristic) Count(text string) int {
	return max(1, utf8.RuneCountInString(text)/CharsPerToken)
}

// Name returns "heuristic".
func (Heuristic) Name() string { return "heuristic" }

// Tiktoken counts tokens with a BPE encoding from tiktoken-go.
type Tiktoken struct {
	enc      *tiktoken.Tiktoken
	encoding string
}

// NewTiktoken loads the encoding for model, falling back to [FallbackEncoding]
// for unknown models. It fails when no encoding can be loaded, e.g. when the
// BPE ranks are not cached and cannot be downloaded.
func NewTiktoken(model string) (*Tiktoken, error) {
	if model != "" {
		if enc, err := tiktoken.EncodingForModel(model); err == nil {
			return &Tiktoken{enc: enc, encoding: model}, nil
		}
	}
	enc, err := tiktoken.GetEncoding(FallbackEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load token encoding %s: %w", FallbackEncoding, err)
	}
	return &Tiktoken{enc: enc, encoding: FallbackEncoding}, nil
}

// Count returns the exact number of BPE tokens in text.
func (t *Tiktoken) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// Name returns "tiktoken:<model or encoding>".
func (t *Tiktoken) Name() string { return "tiktoken:" + t.encoding }

// Select returns a [Tiktoken] estimator for model when one loads within
// [LoadTimeout] and a [Heuristic] otherwise.
func Select(model string) Estimator {
	return SelectWithin(model, LoadTimeout)
}

// SelectWithin is [Select] with an explicit load timeout. A load that is
// still running when the timeout fires is abandoned.
func SelectWithin(model string, timeout time.Duration) Estimator {
	load := loadEncoding
	loaded := make(chan *Tiktoken, 1)
	go func() {
		t, err := load(model)
		if err != nil {
			t = nil
		}
		loaded <- t
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case t := <-loaded:
		if t != nil {
			return t
		}
	case <-timer.C:
	}
	return Heuristic{}
}
