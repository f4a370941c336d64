package proxy

import (
	"encoding/json"
	"strings"

	"github.com/ogulcanaydogan/costwatch/pkg/tokenizer"
)

// APIFormat is the wire format of an upstream LLM API.
type APIFormat string

const (
	FormatOpenAI    APIFormat = "openai"
	FormatAnthropic APIFormat = "anthropic"
)

// RequestInfo holds what the proxy needs from an LLM API request.
type RequestInfo struct {
	Format   APIFormat
	Model    string
	Messages []tokenizer.Message
}

// ResponseUsage holds token usage from an LLM API response. Reported is
// false when the response carried no usage block and the proxy has to
// estimate.
type ResponseUsage struct {
	InputTokens  int64
	OutputTokens int64
	Model        string
	Reported     bool
	// Completion is the generated text, kept for estimation.
	Completion string
}

// DetectFormat determines the API format from the target host or path.
func DetectFormat(host, path string) APIFormat {
	host = strings.ToLower(host)
	path = strings.ToLower(path)

	switch {
	case strings.Contains(host, "openai.com") || strings.HasSuffix(path, "/chat/completions"):
		return FormatOpenAI
	case strings.Contains(host, "anthropic.com") || strings.HasSuffix(path, "/messages"):
		return FormatAnthropic
	default:
		return ""
	}
}

// ParseFormat accepts a format named in a request header.
func ParseFormat(s string) APIFormat {
	switch f := APIFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatOpenAI, FormatAnthropic:
		return f
	}
	return ""
}

// ExtractRequestInfo extracts the model and prompt messages.
func ExtractRequestInfo(body []byte, format APIFormat) (*RequestInfo, error) {
	switch format {
	case FormatOpenAI:
		return extractOpenAIRequest(body)
	case FormatAnthropic:
		return extractAnthropicRequest(body)
	default:
		return nil, nil
	}
}

// ExtractResponseUsage extracts token usage from the response body.
func ExtractResponseUsage(body []byte, format APIFormat) (*ResponseUsage, error) {
	switch format {
	case FormatOpenAI:
		return extractOpenAIResponse(body)
	case FormatAnthropic:
		return extractAnthropicResponse(body)
	default:
		return nil, nil
	}
}

// textOf flattens message content that is either a plain string or an
// array of typed blocks.
func textOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(blk.Text)
	}
	return b.String()
}

func extractOpenAIRequest(body []byte) (*RequestInfo, error) {
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	info := &RequestInfo{Format: FormatOpenAI, Model: req.Model}
	for _, msg := range req.Messages {
		info.Messages = append(info.Messages, tokenizer.Message{Role: msg.Role, Content: textOf(msg.Content)})
	}
	return info, nil
}

func extractAnthropicRequest(body []byte) (*RequestInfo, error) {
	var req anthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	info := &RequestInfo{Format: FormatAnthropic, Model: req.Model}
	if sys := textOf(req.System); sys != "" {
		info.Messages = append(info.Messages, tokenizer.Message{Role: "system", Content: sys})
	}
	for _, msg := range req.Messages {
		info.Messages = append(info.Messages, tokenizer.Message{Role: msg.Role, Content: textOf(msg.Content)})
	}
	return info, nil
}

func extractOpenAIResponse(body []byte) (*ResponseUsage, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	var completion strings.Builder
	for _, c := range resp.Choices {
		completion.WriteString(textOf(c.Message.Content))
	}

	u := &ResponseUsage{Model: resp.Model, Completion: completion.String()}
	if resp.Usage != nil {
		u.Reported = true
		u.InputTokens = resp.Usage.PromptTokens
		u.OutputTokens = resp.Usage.CompletionTokens
	}
	return u, nil
}

func extractAnthropicResponse(body []byte) (*ResponseUsage, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	u := &ResponseUsage{Model: resp.Model, Completion: textOf(resp.Content)}
	if resp.Usage != nil {
		u.Reported = true
		u.InputTokens = resp.Usage.InputTokens
		u.OutputTokens = resp.Usage.OutputTokens
	}
	return u, nil
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
}

type openAIUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type anthropicRequest struct {
	Model    string          `json:"model"`
	System   json.RawMessage `json:"system,omitempty"`
	Messages []chatMessage   `json:"messages"`
}

type anthropicResponse struct {
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
	Usage   *anthropicUsage `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}
