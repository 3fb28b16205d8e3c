package memory

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	tokenEncoder *tiktoken.Tiktoken
	encoderOnce  sync.Once
	encoderErr   error
)

func initTokenEncoder() error {
	encoderOnce.Do(func() {
		tokenEncoder, encoderErr = tiktoken.GetEncoding("cl100k_base")
	})
	return encoderErr
}

// CountTokens counts the number of tokens in a text using tiktoken
func CountTokens(text string) int {
	if err := initTokenEncoder(); err != nil {
		// Fallback to estimation if tiktoken fails
		return estimateTokens(text)
	}

	return len(tokenEncoder.Encode(text, nil, nil))
}

// estimateTokens approximates at four characters per token.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
