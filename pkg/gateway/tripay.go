/**
 * @description
 * Tripay payment gateway client. Signatures use HMAC-SHA256 over the raw
 * webhook body with the merchant private key; charge requests sign
 * merchantCode+reference+amount the same way.
 */
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const tripayRequestTimeout = 15 * time.Second

// TripayGateway talks to the Tripay REST API.
type TripayGateway struct {
	baseURL      string
	apiKey       string
	privateKey   string
	merchantCode string
	httpClient   *http.Client
}

// NewTripayGateway creates a Tripay client.
func NewTripayGateway(baseURL, apiKey, privateKey, merchantCode string) *TripayGateway {
	return &TripayGateway{
		baseURL:      baseURL,
		apiKey:       apiKey,
		privateKey:   privateKey,
		merchantCode: merchantCode,
		httpClient:   &http.Client{Timeout: tripayRequestTimeout},
	}
}

func (g *TripayGateway) Name() string { return "tripay" }

type tripayChargePayload struct {
	Method       string `json:"method"`
	MerchantRef  string `json:"merchant_ref"`
	Amount       int64  `json:"amount"`
	CustomerName string `json:"customer_name"`
	OrderItems   []any  `json:"order_items"`
	Signature    string `json:"signature"`
}

type tripayChargeResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Reference   string `json:"reference"`
		CheckoutURL string `json:"checkout_url"`
		ExpiredTime int64  `json:"expired_time"`
	} `json:"data"`
	Message string `json:"message"`
}

// CreatePayment opens a closed-amount transaction for an invoice.
func (g *TripayGateway) CreatePayment(ctx context.Context, req ChargeRequest) (*ChargeResponse, error) {
	merchantRef := req.InvoiceID
	mac := hmac.New(sha256.New, []byte(g.privateKey))
	fmt.Fprintf(mac, "%s%s%d", g.merchantCode, merchantRef, req.Amount)

	payload := tripayChargePayload{
		Method:       "QRIS",
		MerchantRef:  merchantRef,
		Amount:       req.Amount,
		CustomerName: req.CustomerName,
		OrderItems: []any{map[string]any{
			"name":     req.Description,
			"price":    req.Amount,
			"quantity": 1,
		}},
		Signature: hex.EncodeToString(mac.Sum(nil)),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/transaction/create", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var parsed tripayChargeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding tripay response: %w", err)
	}
	if !parsed.Success {
		return nil, fmt.Errorf("tripay charge rejected: %s", parsed.Message)
	}

	return &ChargeResponse{
		Reference:  parsed.Data.Reference,
		PaymentURL: parsed.Data.CheckoutURL,
		ExpiresAt:  time.Unix(parsed.Data.ExpiredTime, 0),
	}, nil
}

// VerifyWebhookSignature checks the X-Callback-Signature HMAC.
func (g *TripayGateway) VerifyWebhookSignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(g.privateKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

type tripayWebhookPayload struct {
	Reference   string `json:"reference"`
	MerchantRef string `json:"merchant_ref"`
	TotalAmount int64  `json:"total_amount"`
	Status      string `json:"status"`
	PaidAt      int64  `json:"paid_at"`
}

// ProcessWebhook parses a verified Tripay callback. The merchant ref carries
// the invoice ID we assigned at charge time.
func (g *TripayGateway) ProcessWebhook(body []byte) (*PaymentNotification, error) {
	var payload tripayWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, ErrMalformedPayload
	}

	if _, err := uuid.Parse(payload.MerchantRef); err != nil {
		return nil, fmt.Errorf("%w: merchant_ref is not an invoice id", ErrMalformedPayload)
	}

	paidAt := time.Now()
	if payload.PaidAt > 0 {
		paidAt = time.Unix(payload.PaidAt, 0)
	}

	return &PaymentNotification{
		Reference: payload.Reference,
		InvoiceID: payload.MerchantRef,
		Amount:    payload.TotalAmount,
		Status:    payload.Status,
		PaidAt:    paidAt,
	}, nil
}
