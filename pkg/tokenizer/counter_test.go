package tokenizer_test

import (
	"testing"

	"github.com/ogulcanaydogan/costwatch/pkg/tokenizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCount_Tiktoken(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		model    string
		minCount int64
		maxCount int64
	}{
		{"short text gpt-4o", "Hello world", "gpt-4o", 1, 5},
		{"medium text gpt-5", "The quick brown fox jumps over the lazy dog", "gpt-5", 5, 15},
		{"empty text", "", "gpt-4o", 0, 0},
		{"gpt-4", "Hello world", "gpt-4", 1, 5},
		{"gpt-3.5-turbo", "Hello world", "gpt-3.5-turbo", 1, 5},
		{"dated snapshot", "Hello world", "gpt-4o-2024-08-06", 1, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, method, err := tokenizer.Count(tt.text, tt.model)
			require.NoError(t, err)
			assert.Equal(t, tokenizer.MethodTiktoken, method)
			assert.GreaterOrEqual(t, count, tt.minCount)
			assert.LessOrEqual(t, count, tt.maxCount)
		})
	}
}

func TestCount_EstimateForOtherModels(t *testing.T) {
	text := "Hello, this is a test message for token counting."
	count, method, err := tokenizer.Count(text, "claude-sonnet-4")
	require.NoError(t, err)
	assert.Equal(t, tokenizer.MethodEstimate, method)
	assert.Equal(t, int64((len(text)+3)/4), count)
}

func TestEncodingFor_LongestPrefix(t *testing.T) {
	enc, ok := tokenizer.EncodingFor("GPT-4o-mini")
	require.True(t, ok)
	assert.Equal(t, "o200k_base", string(enc))

	enc, ok = tokenizer.EncodingFor("gpt-4-turbo")
	require.True(t, ok)
	assert.Equal(t, "cl100k_base", string(enc))

	_, ok = tokenizer.EncodingFor("llama3:8b")
	assert.False(t, ok)
}

func TestEstimate(t *testing.T) {
	assert.Equal(t, int64(0), tokenizer.Estimate(""))
	assert.Equal(t, int64(0), tokenizer.Estimate("   "))
	assert.Equal(t, int64(1), tokenizer.Estimate("abc"))
	assert.Equal(t, int64(2), tokenizer.Estimate("abcde"))
}

func TestCountMessages(t *testing.T) {
	messages := []tokenizer.Message{
		{Role: "system", Content: "You are a helpful assistant."},
		{Role: "user", Content: "What is Go?"},
	}

	count, method, err := tokenizer.CountMessages(messages, "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, tokenizer.MethodTiktoken, method)
	assert.Greater(t, count, int64(10))

	count, method, err = tokenizer.CountMessages(nil, "claude-opus-4")
	require.NoError(t, err)
	assert.Equal(t, tokenizer.MethodEstimate, method)
	assert.Equal(t, int64(2), count)
}

func BenchmarkCount_Tiktoken(b *testing.B) {
	for b.Loop() {
		_, _, _ = tokenizer.Count("Hello world", "gpt-4o")
	}
}

func BenchmarkCount_Estimate(b *testing.B) {
	text := "The quick brown fox jumps over the lazy dog. This is a benchmark test for token counting performance."
	for b.Loop() {
		_, _, _ = tokenizer.Count(text, "claude-sonnet-4")
	}
}
