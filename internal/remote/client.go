package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Client is the set of backend operations the SDK depends on.
type Client interface {
	RegisterIntegration(ctx context.Context, sdkKey, platform, version string) (*IntegrationResponse, error)
	AssignTestGroup(ctx context.Context, sdkKey, userID, platform string) (*AssignmentResponse, error)
	LogEvent(ctx context.Context, req EventRequest) error
	Predict(ctx context.Context, sdkKey, userID string) (*PredictResponse, error)
	GetLatestDiscount(ctx context.Context, sdkKey, userID string) (*Discount, error)
	CreateDiscount(ctx context.Context, sdkKey, userID string, startedAt, endedAt time.Time) (*Discount, error)
	MapTransactionToUser(ctx context.Context, transactionID, bundleID, sdkKey, userID string) error
	ValidateReceipt(ctx context.Context, receiptBase64, bundleID, sdkKey, userID string) error
}

const DefaultBaseURL = "https://monetai-api-414410537412.us-central1.run.app/sdk"

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type HTTPClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewHTTPClient(cfg Config, logger *zap.Logger) *HTTPClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

func (c *HTTPClient) RegisterIntegration(ctx context.Context, sdkKey, platform, version string) (*IntegrationResponse, error) {
	var resp IntegrationResponse
	body := registerBody{SDKKey: sdkKey, Platform: platform, Version: version}
	if err := c.do(ctx, "register", http.MethodPost, "/sdk-integrations", nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) AssignTestGroup(ctx context.Context, sdkKey, userID, platform string) (*AssignmentResponse, error) {
	var resp AssignmentResponse
	body := assignBody{SDKKey: sdkKey, UserID: userID, Platform: platform}
	if err := c.do(ctx, "assign test group", http.MethodPost, "/ab-test", nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) LogEvent(ctx context.Context, req EventRequest) error {
	body := eventBody{
		SDKKey:    req.SDKKey,
		UserID:    req.UserID,
		EventName: req.EventName,
		CreatedAt: FormatTimestamp(req.CreatedAt),
		Platform:  req.Platform,
	}

	if req.Params != nil {
		params, err := json.Marshal(req.Params)
		if err != nil {
			// params that cannot be serialised are left out, the event itself still goes
			c.logger.Warn("dropping non-serialisable event params",
				zap.String("event_name", req.EventName),
				zap.Error(err),
			)
		} else {
			body.Params = params
		}
	}

	return c.do(ctx, "log event", http.MethodPost, "/events", nil, body, nil)
}

func (c *HTTPClient) Predict(ctx context.Context, sdkKey, userID string) (*PredictResponse, error) {
	var resp PredictResponse
	body := predictBody{SDKKey: sdkKey, UserID: userID}
	if err := c.do(ctx, "predict", http.MethodPost, "/predict", nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) GetLatestDiscount(ctx context.Context, sdkKey, userID string) (*Discount, error) {
	var resp discountEnvelope
	query := url.Values{}
	query.Set("sdkKey", sdkKey)
	query.Set("appUserId", userID)
	if err := c.do(ctx, "get latest discount", http.MethodGet, "/app-user-discounts/latest", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Discount, nil
}

func (c *HTTPClient) CreateDiscount(ctx context.Context, sdkKey, userID string, startedAt, endedAt time.Time) (*Discount, error) {
	var resp discountEnvelope
	body := createDiscountBody{
		SDKKey:    sdkKey,
		AppUserID: userID,
		StartedAt: FormatTimestamp(startedAt),
		EndedAt:   FormatTimestamp(endedAt),
	}
	if err := c.do(ctx, "create discount", http.MethodPost, "/app-user-discounts", nil, body, &resp); err != nil {
		return nil, err
	}
	if resp.Discount == nil {
		return nil, &NetworkError{Op: "create discount", Err: errors.New("response has no discount")}
	}
	return resp.Discount, nil
}

func (c *HTTPClient) MapTransactionToUser(ctx context.Context, transactionID, bundleID, sdkKey, userID string) error {
	body := transactionBody{
		TransactionID: transactionID,
		BundleID:      bundleID,
		UserID:        userID,
		SDKKey:        sdkKey,
	}
	return c.do(ctx, "map transaction", http.MethodPost, "/transaction-id-to-user-id/ios", nil, body, nil)
}

func (c *HTTPClient) ValidateReceipt(ctx context.Context, receiptBase64, bundleID, sdkKey, userID string) error {
	body := receiptBody{
		ReceiptData: receiptBase64,
		BundleID:    bundleID,
		UserID:      userID,
		SDKKey:      sdkKey,
	}
	return c.do(ctx, "validate receipt", http.MethodPost, "/transaction-id-to-user-id/ios/receipt", nil, body, nil)
}

// do performs one request. A nil out means the operation expects no content,
// so an empty 2xx body is a success.
func (c *HTTPClient) do(
	ctx context.Context,
	op, method, path string,
	query url.Values,
	in any,
	out any) error {

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}

	requestID := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "monetai-go/"+Version)
	req.Header.Set("X-Request-Id", requestID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed",
			zap.String("op", op),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	c.logger.Debug("request completed",
		zap.String("op", op),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr errorResponse
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Message}
		}
		return &NetworkError{Op: op, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	if out == nil {
		return nil
	}

	if isBlank(body) {
		return &NetworkError{Op: op, Err: ErrEmptyResponse}
	}

	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Debug("could not decode response",
			zap.String("op", op),
			zap.String("body", string(body)),
			zap.Error(err),
		)
		return &NetworkError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	return nil
}
