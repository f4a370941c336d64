// Package tokenizer estimates token counts for calls whose provider
// reported no usage.
package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Method says how a count was produced.
type Method string

const (
	MethodTiktoken Method = "tiktoken"
	MethodEstimate Method = "estimate"
)

// encodingPrefixes maps model name prefixes to tiktoken encodings. The
// longest matching prefix wins.
var encodingPrefixes = map[string]tokenizer.Encoding{
	"gpt-5":         tokenizer.O200kBase,
	"gpt-4.1":       tokenizer.O200kBase,
	"gpt-4o":        tokenizer.O200kBase,
	"o1":            tokenizer.O200kBase,
	"o3":            tokenizer.O200kBase,
	"o4":            tokenizer.O200kBase,
	"gpt-4":         tokenizer.Cl100kBase,
	"gpt-3.5-turbo": tokenizer.Cl100kBase,
}

var (
	codecMu sync.Mutex
	codecs  = map[tokenizer.Encoding]tokenizer.Codec{}
)

func codecFor(enc tokenizer.Encoding) (tokenizer.Codec, error) {
	codecMu.Lock()
	defer codecMu.Unlock()
	if c, ok := codecs[enc]; ok {
		return c, nil
	}
	c, err := tokenizer.Get(enc)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", enc, err)
	}
	codecs[enc] = c
	return c, nil
}

// EncodingFor returns the tiktoken encoding for modelName, if one is known.
func EncodingFor(modelName string) (tokenizer.Encoding, bool) {
	name := strings.ToLower(modelName)
	var (
		best    string
		bestEnc tokenizer.Encoding
	)
	for prefix, enc := range encodingPrefixes {
		if strings.HasPrefix(name, prefix) && len(prefix) > len(best) {
			best, bestEnc = prefix, enc
		}
	}
	return bestEnc, best != ""
}

// Count returns the token count of text for modelName. OpenAI-family
// models are counted exactly with tiktoken; everything else falls back to
// a four-characters-per-token estimate.
func Count(text, modelName string) (int64, Method, error) {
	enc, ok := EncodingFor(modelName)
	if !ok {
		return Estimate(text), MethodEstimate, nil
	}
	codec, err := codecFor(enc)
	if err != nil {
		return 0, "", err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, "", fmt.Errorf("encode text: %w", err)
	}
	return int64(len(ids)), MethodTiktoken, nil
}

// Estimate approximates a token count at four characters per token.
func Estimate(text string) int64 {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return 0
	}
	return int64((len(text) + 3) / 4)
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CountMessages counts the prompt tokens of a chat request, including the
// per-message and reply-priming overhead of the chat format.
func CountMessages(messages []Message, modelName string) (int64, Method, error) {
	var (
		total  int64
		method = MethodEstimate
	)
	for _, msg := range messages {
		total += 4 // role and separators
		for _, part := range []string{msg.Role, msg.Content} {
			n, m, err := Count(part, modelName)
			if err != nil {
				return 0, "", err
			}
			method = m
			total += n
		}
	}
	total += 2 // assistant reply priming
	return total, method, nil
}
