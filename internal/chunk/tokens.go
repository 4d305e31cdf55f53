package chunk

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenCounter counts tokens with a BPE encoding such as cl100k_base.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

var _ TokenCounter = (*TiktokenCounter)(nil)

// NewTiktokenCounter loads the named encoding.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load token encoding %s: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count returns the number of tokens in text.
func (t *TiktokenCounter) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}
