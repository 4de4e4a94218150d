package authority

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func envelope(data interface{}) map[string]interface{} {
	return map[string]interface{}{
		"success": true,
		"message": "success",
		"data":    data,
	}
}

func TestCreateOrder(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/orders" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if body["product_id"] != "com.app.vip" || body["transaction_id"] != "tx-1" {
			t.Errorf("unexpected request body: %v", body)
		}
		if _, err := base64.StdEncoding.DecodeString(body["receipt_data"]); err != nil {
			t.Errorf("receipt_data is not base64: %v", err)
		}

		json.NewEncoder(w).Encode(envelope(OrderResult{
			OrderNo:     "O1",
			PriceTag:    "$0.99",
			Fingerprint: "fp",
		}))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "secret", 5*time.Second)
	result, err := client.CreateOrder(context.Background(), "com.app.vip", "tx-1", []byte("receipt"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.OrderNo != "O1" || result.PriceTag != "$0.99" || result.Fingerprint != "fp" {
		t.Errorf("unexpected result: %+v", result)
	}
	if !strings.HasPrefix(gotAuth, "Bearer ") {
		t.Errorf("expected signed bearer token, got %q", gotAuth)
	}
}

func TestCreateOrderRejectsMissingOrderNo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(envelope(OrderResult{}))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "", 5*time.Second)
	_, err := client.CreateOrder(context.Background(), "p", "tx", []byte("r"))
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}

func TestVerifyReceiptVerdicts(t *testing.T) {
	valid := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/orders/verify" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(envelope(VerifyResult{Valid: valid}))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "", 5*time.Second)

	result, err := client.VerifyReceipt(context.Background(), "O1", []byte("r"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid verdict")
	}

	valid = false
	result, err = client.VerifyReceipt(context.Background(), "O1", []byte("r"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.Valid {
		t.Errorf("expected invalid verdict")
	}
}

func TestProtocolErrorOnNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "", 5*time.Second)
	_, err := client.VerifyReceipt(context.Background(), "O1", []byte("r"))

	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if protoErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", protoErr.StatusCode)
	}
}

func TestProtocolErrorOnBusinessFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"message": "unknown product",
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "", 5*time.Second)
	_, err := client.CreateOrder(context.Background(), "p", "tx", []byte("r"))

	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if !strings.Contains(protoErr.Message, "unknown product") {
		t.Errorf("expected business message, got %q", protoErr.Message)
	}
}

func TestRequestCancelledByContext(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	client := NewHTTPClient(server.URL, "", 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.VerifyReceipt(ctx, "O1", []byte("r")); err == nil {
		t.Fatalf("expected error from cancelled context")
	}
}
