package authority

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/beiliao-mobile/BLIAP/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

// Client is the remote authority consumed by verify tasks. The authority
// relays receipt validation to the platform issuer; both calls must be
// idempotent server-side so a crashed session can safely repeat them.
type Client interface {
	// CreateOrder registers the transaction with the backend and returns
	// the assigned order number, price tag and receipt fingerprint.
	CreateOrder(ctx context.Context, productID, transactionID string, receipt []byte) (*OrderResult, error)

	// VerifyReceipt submits the receipt for an existing order and returns
	// the authority's verdict.
	VerifyReceipt(ctx context.Context, orderNo string, receipt []byte) (*VerifyResult, error)
}

// OrderResult 下单接口返回
type OrderResult struct {
	OrderNo     string `json:"order_no"`
	PriceTag    string `json:"price_tag"`
	Fingerprint string `json:"fingerprint"`
}

// VerifyResult 验证接口返回
type VerifyResult struct {
	Valid bool `json:"valid"`
}

// ProtocolError represents a non-2xx or business-level failure from the
// remote authority
type ProtocolError struct {
	StatusCode int
	Message    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("authority returned status %d: %s", e.StatusCode, e.Message)
}

// HTTPClient provides remote authority operations over HTTP
type HTTPClient struct {
	baseURL    string
	apiSecret  string
	httpClient *http.Client
}

// NewHTTPClient creates a new remote authority client
func NewHTTPClient(baseURL, apiSecret string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:   baseURL,
		apiSecret: apiSecret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewHTTPClientFromConfig creates a client from the global configuration
func NewHTTPClientFromConfig() *HTTPClient {
	return NewHTTPClient(
		config.AppConfig.AuthorityBaseURL,
		config.AppConfig.AuthorityAPISecret,
		time.Duration(config.AppConfig.AuthorityTimeout)*time.Second,
	)
}

type createOrderRequest struct {
	ProductID     string `json:"product_id"`
	TransactionID string `json:"transaction_id"`
	ReceiptData   string `json:"receipt_data"` // base64
}

type verifyReceiptRequest struct {
	OrderNo     string `json:"order_no"`
	ReceiptData string `json:"receipt_data"` // base64
}

type authorityResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// CreateOrder registers the transaction with the backend
func (c *HTTPClient) CreateOrder(ctx context.Context, productID, transactionID string, receipt []byte) (*OrderResult, error) {
	body := createOrderRequest{
		ProductID:     productID,
		TransactionID: transactionID,
		ReceiptData:   base64.StdEncoding.EncodeToString(receipt),
	}

	var result OrderResult
	if err := c.post(ctx, "/api/orders", body, &result); err != nil {
		return nil, err
	}
	if result.OrderNo == "" {
		return nil, &ProtocolError{StatusCode: http.StatusOK, Message: "order created without order_no"}
	}

	return &result, nil
}

// VerifyReceipt submits the receipt for an existing order
func (c *HTTPClient) VerifyReceipt(ctx context.Context, orderNo string, receipt []byte) (*VerifyResult, error) {
	body := verifyReceiptRequest{
		OrderNo:     orderNo,
		ReceiptData: base64.StdEncoding.EncodeToString(receipt),
	}

	var result VerifyResult
	if err := c.post(ctx, "/api/orders/verify", body, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// post sends a JSON request and decodes the data field of the envelope
func (c *HTTPClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiSecret != "" {
		token, err := c.signToken()
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProtocolError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var envelope authorityResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if !envelope.Success {
		return &ProtocolError{StatusCode: resp.StatusCode, Message: envelope.Message}
	}

	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to parse response data: %w", err)
	}

	return nil
}

// signToken creates a short-lived HS256 bearer token for the authority API
func (c *HTTPClient) signToken() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": "bliap-verify",
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(c.apiSecret))
}
