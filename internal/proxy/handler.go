package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/ogulcanaydogan/costwatch/pkg/tokenizer"
	"github.com/ogulcanaydogan/costwatch/pkg/tracker"
)

// Control headers read from the client request and stripped before the
// request goes upstream.
const (
	HeaderTarget        = "X-Costwatch-Target"
	HeaderFormat        = "X-Costwatch-Format"
	HeaderAgent         = "X-Costwatch-Agent"
	HeaderTaskID        = "X-Costwatch-Task-Id"
	HeaderCorrelationID = "X-Costwatch-Correlation-Id"
)

// Options configures a Handler.
type Options struct {
	DefaultAgent   string
	AddCostHeaders bool
	MaxBodySize    int64
}

// Handler is a transparent reverse proxy that records the cost of every
// LLM call passing through it.
type Handler struct {
	recorder *tracker.Recorder
	opts     Options
	logger   *slog.Logger
}

// NewHandler creates a new proxy handler.
func NewHandler(recorder *tracker.Recorder, opts Options, logger *slog.Logger) *Handler {
	return &Handler{recorder: recorder, opts: opts, logger: logger}
}

type callMeta struct {
	format        APIFormat
	request       *RequestInfo
	agent         string
	taskID        string
	correlationID string
	start         time.Time
}

// ServeHTTP handles proxied requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	targetURL := r.Header.Get(HeaderTarget)
	if targetURL == "" {
		http.Error(w, "missing "+HeaderTarget+" header", http.StatusBadRequest)
		return
	}
	target, err := url.Parse(targetURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		http.Error(w, "invalid target URL", http.StatusBadRequest)
		return
	}

	body := r.Body
	if h.opts.MaxBodySize > 0 {
		body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodySize)
	}
	reqBody, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read request body", http.StatusInternalServerError)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(reqBody))
	r.ContentLength = int64(len(reqBody))

	meta := &callMeta{
		format:        DetectFormat(target.Host, target.Path),
		agent:         r.Header.Get(HeaderAgent),
		taskID:        r.Header.Get(HeaderTaskID),
		correlationID: r.Header.Get(HeaderCorrelationID),
		start:         start,
	}
	if f := ParseFormat(r.Header.Get(HeaderFormat)); f != "" {
		meta.format = f
	}
	if meta.agent == "" {
		meta.agent = h.opts.DefaultAgent
	}
	if meta.format != "" {
		info, err := ExtractRequestInfo(reqBody, meta.format)
		if err != nil {
			h.logger.Debug("request body not parsed", "format", meta.format, "error", err)
		}
		meta.request = info
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL = target
			pr.Out.Host = target.Host
			for _, hdr := range []string{HeaderTarget, HeaderFormat, HeaderAgent, HeaderTaskID, HeaderCorrelationID} {
				pr.Out.Header.Del(hdr)
			}
			// Usage is read from the response body, so let the transport
			// negotiate compression and hand back a decoded body.
			pr.Out.Header.Del("Accept-Encoding")
		},
		ModifyResponse: func(resp *http.Response) error {
			return h.captureResponse(resp, meta)
		},
		ErrorHandler: func(w http.ResponseWriter, _ *http.Request, err error) {
			h.logger.Error("proxy error", "error", err, "target", targetURL)
			http.Error(w, "proxy error: "+err.Error(), http.StatusBadGateway)
		},
	}

	proxy.ServeHTTP(w, r)
}

// captureResponse reads the upstream response, records the call and adds
// cost headers. It never fails the proxied call.
func (h *Handler) captureResponse(resp *http.Response, meta *callMeta) error {
	if meta.format == "" {
		return nil
	}
	if ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); ct == "text/event-stream" {
		h.logger.Debug("streaming response not recorded", "format", meta.format)
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))

	duration := time.Since(meta.start)
	success := resp.StatusCode >= 200 && resp.StatusCode < 300

	usage, err := ExtractResponseUsage(body, meta.format)
	if err != nil {
		h.logger.Debug("response usage not parsed", "status", resp.StatusCode, "error", err)
		usage = &ResponseUsage{}
	}

	modelName := usage.Model
	if modelName == "" && meta.request != nil {
		modelName = meta.request.Model
	}
	if modelName == "" {
		h.logger.Warn("call not recorded: unknown model", "status", resp.StatusCode)
		return nil
	}

	source := "reported"
	if !usage.Reported && success {
		source = "estimated"
		h.estimate(usage, meta.request, modelName)
	}

	rec, err := h.recorder.Record(context.Background(), tracker.Call{
		Agent:           meta.agent,
		Model:           modelName,
		InputTokens:     usage.InputTokens,
		OutputTokens:    usage.OutputTokens,
		DurationSeconds: duration.Seconds(),
		Success:         success,
		TaskID:          meta.taskID,
		CorrelationID:   meta.correlationID,
	})
	if err != nil {
		h.logger.Error("failed to record call", "model", modelName, "error", err)
		return nil
	}

	if h.opts.AddCostHeaders {
		resp.Header.Set("X-LLM-Cost", rec.CostUSD.StringFixed(6))
		resp.Header.Set("X-LLM-Input-Tokens", strconv.FormatInt(rec.InputTokens, 10))
		resp.Header.Set("X-LLM-Output-Tokens", strconv.FormatInt(rec.OutputTokens, 10))
		resp.Header.Set("X-LLM-Model", rec.Model)
		resp.Header.Set("X-LLM-Tier", string(rec.Tier))
		resp.Header.Set("X-LLM-Token-Source", source)
		resp.Header.Set("X-Costwatch-Call-Id", rec.ID)
		resp.Header.Set("X-Costwatch-Latency", duration.String())
	}
	return nil
}

// estimate fills in token counts with tiktoken when the upstream reported
// no usage.
func (h *Handler) estimate(usage *ResponseUsage, req *RequestInfo, modelName string) {
	if req != nil {
		n, _, err := tokenizer.CountMessages(req.Messages, modelName)
		if err != nil {
			h.logger.Warn("estimate input tokens", "model", modelName, "error", err)
		} else {
			usage.InputTokens = n
		}
	}
	n, _, err := tokenizer.Count(usage.Completion, modelName)
	if err != nil {
		h.logger.Warn("estimate output tokens", "model", modelName, "error", err)
		return
	}
	usage.OutputTokens = n
}
