package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Generator is the interface for a single upstream model family.
type Generator interface {
	// Generate sends one content generation request for req.Model.
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)

	// Name returns the client identifier (e.g., "gemini").
	Name() string
}

// Part is one element of a multi-part prompt: a TextPart or an InlinePart.
type Part interface {
	isPart()
}

// TextPart carries plain text.
type TextPart struct {
	Text string
}

// InlinePart carries base64 encoded binary content such as an image or PDF.
type InlinePart struct {
	Data     string // base64
	MIMEType string
}

func (TextPart) isPart()   {}
func (InlinePart) isPart() {}

// Bytes decodes the base64 payload.
func (p InlinePart) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(p.Data)
}

// NewInlinePart encodes raw bytes as an InlinePart.
func NewInlinePart(data []byte, mimeType string) InlinePart {
	return InlinePart{Data: base64.StdEncoding.EncodeToString(data), MIMEType: mimeType}
}

// InlineSize returns the combined base64 length of all inline parts.
func InlineSize(parts []Part) int {
	n := 0
	for _, p := range parts {
		if ip, ok := p.(InlinePart); ok {
			n += len(ip.Data)
		}
	}
	return n
}

// wirePart is the JSON shape shared by the HTTP API and the Gemini REST API.
type wirePart struct {
	Text       *string     `json:"text,omitempty"`
	InlineData *wireInline `json:"inlineData,omitempty"`
}

type wireInline struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// Parts is a JSON-codable list of prompt parts.
type Parts []Part

func (ps Parts) MarshalJSON() ([]byte, error) {
	out := make([]wirePart, 0, len(ps))
	for _, p := range ps {
		w, err := toWire(p)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return json.Marshal(out)
}

func (ps *Parts) UnmarshalJSON(data []byte) error {
	var raw []wirePart
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	// Parts that are neither text nor inline data are dropped.
	out := make(Parts, 0, len(raw))
	for _, w := range raw {
		switch {
		case w.Text != nil:
			out = append(out, TextPart{Text: *w.Text})
		case w.InlineData != nil:
			out = append(out, InlinePart{Data: w.InlineData.Data, MIMEType: w.InlineData.MIMEType})
		}
	}
	*ps = out
	return nil
}

func toWire(p Part) (wirePart, error) {
	switch v := p.(type) {
	case TextPart:
		text := v.Text
		return wirePart{Text: &text}, nil
	case InlinePart:
		return wirePart{InlineData: &wireInline{Data: v.Data, MIMEType: v.MIMEType}}, nil
	default:
		return wirePart{}, fmt.Errorf("unsupported part type %T", p)
	}
}

// GenerateRequest is a request to a Generator.
type GenerateRequest struct {
	Model  string
	Prompt string
	Parts  []Part
}

// GenerateResult is the extracted reply of a successful generation.
type GenerateResult struct {
	Text         string        `json:"text"`
	Model        string        `json:"model"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Latency      time.Duration `json:"latency"`
	Attempts     int           `json:"attempts"`
}

// ErrInvalidResponse is returned when the upstream replied successfully but
// the reply carries no usable text.
var ErrInvalidResponse = errors.New("invalid response from model")

// StatusError is a non-2xx reply from an upstream model API.
type StatusError struct {
	Status     int
	Body       string
	Model      string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	msg := upstreamMessage(e.Body)
	if e.RetryAfter > 0 {
		msg = fmt.Sprintf("%s (retry after %s)", msg, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("model %s: status %d: %s", e.Model, e.Status, msg)
}

// Quota reports whether the reply is a quota-type failure.
func (e *StatusError) Quota() bool {
	return e.Status == 429 || quotaPattern.MatchString(e.Body)
}

var quotaPattern = regexp.MustCompile(`(?i)quota|resource[_ ]exhausted|rate[_ ]?limit`)

// IsQuotaError reports whether err is a quota-type upstream failure: HTTP 429
// or a body mentioning quota, resource exhaustion or rate limits.
func IsQuotaError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Quota()
}

// RetryAfterHint returns the upstream-provided retry delay carried by err, if any.
func RetryAfterHint(err error) time.Duration {
	var se *StatusError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

// upstreamMessage extracts error.message from a JSON error body, falling back
// to the raw (truncated) body.
func upstreamMessage(body string) string {
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(body), &env) == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	body = strings.TrimSpace(body)
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	if body == "" {
		return "no response body"
	}
	return body
}

// parseRetryAfter parses a Retry-After header value in seconds or HTTP-date form.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// retryDelayPattern matches the RetryInfo detail Gemini attaches to 429 replies,
// e.g. "retryDelay": "17s".
var retryDelayPattern = regexp.MustCompile(`"retryDelay"\s*:\s*"([0-9.]+)s"`)

func parseRetryDelay(body string) time.Duration {
	m := retryDelayPattern.FindStringSubmatch(body)
	if m == nil {
		return 0
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
