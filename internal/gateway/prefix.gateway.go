package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/textroute/sms-router/internal/model"
	"github.com/textroute/sms-router/pkg/logger"
	"github.com/valyala/fasthttp"
)

// TypePrefix is the registry identifier of the prefix-table gateway.
const TypePrefix = "prefix"

const (
	defaultTimeout       = 5 * time.Second
	defaultMaxRetries    = 2
	defaultMaxContentLen = 160
)

type providerStatus string

const (
	providerDelivered providerStatus = "DELIVERED"
	providerFailed    providerStatus = "FAILED"
	providerPending   providerStatus = "PENDING"
)

type providerSendRequest struct {
	MessageID   string `json:"message_id"`
	PhoneNumber string `json:"phone_number"`
	Content     string `json:"content"`
}

type providerSendResponse struct {
	MessageID   string         `json:"message_id"`
	Status      providerStatus `json:"status"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	ErrorMsg    string         `json:"error_message,omitempty"`
	OperatorID  string         `json:"operator_id"`
	ProcessedAt time.Time      `json:"processed_at"`
}

// PrefixGateway routes by recipient dialing-code prefix. Its config carries a
// prefix -> weight table (longest matching prefix wins), the provider URL the
// message is posted to, and optional timeout/retry/length overrides:
//
//	{
//	  "prefixes":    {"+44": 100, "+61": 1},
//	  "url":         "http://provider:8090",
//	  "timeout_ms":  5000,
//	  "max_retries": 2,
//	  "max_length":  160
//	}
type PrefixGateway struct {
	prefixes   map[string]int
	url        string
	timeout    time.Duration
	maxRetries int
	maxLen     int
	client     *fasthttp.Client
}

// NewPrefixGateway is the registry factory for TypePrefix.
func NewPrefixGateway(cfg model.GatewayConfig) (Gateway, error) {
	rawPrefixes, ok := cfg["prefixes"]
	if !ok {
		return nil, fmt.Errorf("prefix gateway: config missing prefixes table")
	}
	prefixes, err := parsePrefixTable(rawPrefixes)
	if err != nil {
		return nil, fmt.Errorf("prefix gateway: %w", err)
	}
	if len(prefixes) == 0 {
		return nil, fmt.Errorf("prefix gateway: prefixes table is empty")
	}

	url, _ := cfg["url"].(string)

	g := &PrefixGateway{
		prefixes:   prefixes,
		url:        strings.TrimRight(url, "/"),
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
		maxLen:     defaultMaxContentLen,
	}
	if ms, ok := configInt(cfg["timeout_ms"]); ok && ms > 0 {
		g.timeout = time.Duration(ms) * time.Millisecond
	}
	if n, ok := configInt(cfg["max_retries"]); ok && n >= 0 {
		g.maxRetries = n
	}
	if n, ok := configInt(cfg["max_length"]); ok && n > 0 {
		g.maxLen = n
	}
	g.client = &fasthttp.Client{
		ReadTimeout:         g.timeout,
		WriteTimeout:        g.timeout,
		MaxIdleConnDuration: 60 * time.Second,
	}
	return g, nil
}

// SendPriority matches the recipient against the prefix table. The longest
// matching prefix decides the weight; no match means the gateway cannot
// handle the message.
func (g *PrefixGateway) SendPriority(msg *model.Message) int {
	recipient := strings.TrimSpace(msg.Recipient)
	if recipient == "" {
		return PriorityNone
	}

	best := PriorityNone
	bestLen := 0
	for prefix, weight := range g.prefixes {
		if strings.HasPrefix(recipient, prefix) && len(prefix) > bestLen {
			best = weight
			bestLen = len(prefix)
		}
	}
	return best
}

func (g *PrefixGateway) Send(ctx context.Context, msg *model.Message) (model.MessageStatus, error) {
	content := ""
	if msg.Content != nil {
		content = *msg.Content
	}
	if utf8.RuneCountInString(content) > g.maxLen {
		return model.MessageStatusMessageOverSize, nil
	}
	if g.url == "" {
		return model.MessageStatusGatewayFailed, fmt.Errorf("prefix gateway: no provider url configured")
	}

	body, err := json.Marshal(providerSendRequest{
		MessageID:   strconv.FormatInt(msg.ID, 10),
		PhoneNumber: msg.Recipient,
		Content:     content,
	})
	if err != nil {
		return model.MessageStatusGatewayFailed, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return model.MessageStatusGatewayFailed, ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}

		raw, err := g.doRequest(ctx, "POST", "/api/v1/sms/send", body)
		if err != nil {
			logger.Warn("provider request failed, retrying",
				"error", err, "recipient", msg.Recipient, "attempt", attempt+1)
			lastErr = err
			continue
		}

		var resp providerSendResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return model.MessageStatusGatewayFailed, fmt.Errorf("failed to unmarshal response: %w", err)
		}

		switch resp.Status {
		case providerDelivered, providerPending:
			return model.MessageStatusGatewaySent, nil
		default:
			logger.Warn("provider rejected message",
				"recipient", msg.Recipient, "error_code", resp.ErrorCode, "operator", resp.OperatorID)
			return model.MessageStatusGatewayRejected, nil
		}
	}

	return model.MessageStatusGatewayFailed, fmt.Errorf("failed after %d attempts: %w", g.maxRetries+1, lastErr)
}

func (g *PrefixGateway) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(g.url + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(g.timeout)
	}

	if err := g.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode != fasthttp.StatusOK && statusCode != fasthttp.StatusAccepted {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", statusCode, resp.Body())
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())
	return result, nil
}

// parsePrefixTable accepts the table as decoded JSON (map[string]any with
// float64 weights) or as a typed map from in-process callers.
func parsePrefixTable(raw any) (map[string]int, error) {
	out := make(map[string]int)
	switch table := raw.(type) {
	case map[string]int:
		for prefix, weight := range table {
			out[prefix] = weight
		}
	case map[string]any:
		for prefix, v := range table {
			weight, ok := configInt(v)
			if !ok || weight < 0 {
				return nil, fmt.Errorf("invalid weight for prefix %q", prefix)
			}
			out[prefix] = weight
		}
	default:
		return nil, fmt.Errorf("prefixes must be a map of prefix to weight")
	}
	return out, nil
}

func configInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}
