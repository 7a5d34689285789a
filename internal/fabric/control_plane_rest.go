package fabric

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/atlas-desktop/trade-executor/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ControlPlaneREST is a typed client for the control plane's REST surface.
// Every call is rate-limited so a burst of trade reports or heartbeats
// never floods the control plane during a reconnect storm.
type ControlPlaneREST struct {
	baseURL    string
	executorID string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewControlPlaneREST builds a REST client limited to callsPerSecond
// requests/sec with a burst of 2x that. apiSecret may be empty when the
// executor record hasn't been unsealed yet (e.g. first-run provisioning);
// requests are still sent, just without the X-API-Secret header.
func NewControlPlaneREST(logger *zap.Logger, baseURL, executorID, apiKey, apiSecret string, callsPerSecond float64) *ControlPlaneREST {
	if callsPerSecond <= 0 {
		callsPerSecond = 5
	}
	return &ControlPlaneREST{
		baseURL:    baseURL,
		executorID: executorID,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(callsPerSecond), int(callsPerSecond*2)),
		logger:     logger.Named("control-plane-rest"),
	}
}

func (c *ControlPlaneREST) do(ctx context.Context, method, path string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("X-Executor-Id", c.executorID)
	if c.apiSecret != "" {
		req.Header.Set("X-API-Secret", c.apiSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response for %s %s: %w", method, path, err)
		}
	}
	return nil
}

// Heartbeat posts POST /api/executor/{id}/heartbeat.
func (c *ControlPlaneREST) Heartbeat(ctx context.Context, payload types.HeartbeatPayload) (types.HeartbeatResponse, error) {
	var resp types.HeartbeatResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/executor/%s/heartbeat", c.executorID), payload, &resp)
	return resp, err
}

// ReportCommandResult posts PATCH /api/executor/{id}/command.
func (c *ControlPlaneREST) ReportCommandResult(ctx context.Context, result types.CommandResult) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/executor/%s/command", c.executorID), result, nil)
}

// ReportTradeOpen posts POST /api/trades.
func (c *ControlPlaneREST) ReportTradeOpen(ctx context.Context, trade types.TradeReport) error {
	return c.do(ctx, http.MethodPost, "/api/trades", trade, nil)
}

// ReportTradeClose posts PATCH /api/trades/{ticket}.
func (c *ControlPlaneREST) ReportTradeClose(ctx context.Context, trade types.TradeReport) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/trades/%d", trade.Ticket), trade, nil)
}

// ReportAlert posts POST /api/alerts.
func (c *ControlPlaneREST) ReportAlert(ctx context.Context, alert types.Alert) error {
	return c.do(ctx, http.MethodPost, "/api/alerts", alert, nil)
}

// ReportError posts POST /api/errors/report.
func (c *ControlPlaneREST) ReportError(ctx context.Context, report types.ErrorReport) error {
	return c.do(ctx, http.MethodPost, "/api/errors/report", report, nil)
}

// PendingCommands fetches GET /api/executor/{id}/commands/pending. Used as
// the fallback path when the control channel websocket is down.
func (c *ControlPlaneREST) PendingCommands(ctx context.Context) ([]types.Command, error) {
	var cmds []types.Command
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/executor/%s/commands/pending", c.executorID), nil, &cmds)
	return cmds, err
}

// UpdateStatus patches PATCH /api/executor/{id} with a bare status string.
func (c *ControlPlaneREST) UpdateStatus(ctx context.Context, status string) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/executor/%s", c.executorID), map[string]string{"status": status}, nil)
}

// Ping hits GET /api/executor/{id}/ping, a liveness check used by the
// heartbeat recovery routine before giving up on the REST path entirely.
func (c *ControlPlaneREST) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, fmt.Sprintf("/api/executor/%s/ping", c.executorID), nil, nil)
}

// Register posts POST /api/executor/register, the initial handshake that
// provisions this executor's identity with the control plane.
func (c *ControlPlaneREST) Register(ctx context.Context, payload map[string]any) error {
	return c.do(ctx, http.MethodPost, "/api/executor/register", payload, nil)
}

// ConsultLLM posts POST /api/executor/llm/consult, passing a strategy
// evaluation through to an LLM advisor and returning its decision.
func (c *ControlPlaneREST) ConsultLLM(ctx context.Context, req types.LLMConsultRequest) (types.LLMConsultResponse, error) {
	var resp types.LLMConsultResponse
	err := c.do(ctx, http.MethodPost, "/api/executor/llm/consult", req, &resp)
	return resp, err
}
