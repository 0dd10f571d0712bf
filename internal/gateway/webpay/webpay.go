// Package webpay talks to the Webpay Plus REST API for hosted payments.
package webpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/waldoclick/waldo-project-sub000/pkg/ads"
)

const (
	defaultTimeout   = 15 * time.Second
	transactionsPath = "/rswebpaytransaction/api/webpay/v1.2/transactions"

	headerAPIKeyID     = "Tbk-Api-Key-Id"
	headerAPIKeySecret = "Tbk-Api-Key-Secret"
	headerContentType  = "Content-Type"
	contentTypeJSON    = "application/json"
)

// Config carries the gateway endpoint and merchant credentials.
type Config struct {
	BaseURL        string
	CommerceCode   string
	APIKey         string
	RequestTimeout time.Duration
}

// Gateway implements ads.PaymentGateway over the Webpay REST API.
type Gateway struct {
	baseURL      string
	commerceCode string
	apiKey       string
	client       *http.Client
}

// New returns a Gateway with a bounded HTTP client.
func New(config Config) *Gateway {
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Gateway{
		baseURL:      config.BaseURL,
		commerceCode: config.CommerceCode,
		apiKey:       config.APIKey,
		client:       &http.Client{Timeout: timeout},
	}
}

type createRequest struct {
	BuyOrder  string `json:"buy_order"`
	SessionID string `json:"session_id"`
	Amount    int64  `json:"amount"`
	ReturnURL string `json:"return_url"`
}

type createResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

type commitResponse struct {
	Status   string `json:"status"`
	BuyOrder string `json:"buy_order"`
	Amount   int64  `json:"amount"`
}

// CreateTransaction opens a hosted-payment transaction and returns the
// redirect handoff.
func (gateway *Gateway) CreateTransaction(ctx context.Context, amountCents int64, buyOrder string, sessionID string, returnURL string) (ads.GatewayRedirect, error) {
	payload, err := json.Marshal(createRequest{
		BuyOrder:  buyOrder,
		SessionID: sessionID,
		Amount:    amountCents,
		ReturnURL: returnURL,
	})
	if err != nil {
		return ads.GatewayRedirect{}, fmt.Errorf("%w: encode create request: %v", ads.ErrGatewayUnavailable, err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, gateway.baseURL+transactionsPath, bytes.NewReader(payload))
	if err != nil {
		return ads.GatewayRedirect{}, fmt.Errorf("%w: build create request: %v", ads.ErrGatewayUnavailable, err)
	}
	gateway.setHeaders(request)

	response, err := gateway.client.Do(request)
	if err != nil {
		return ads.GatewayRedirect{}, fmt.Errorf("%w: %v", ads.ErrGatewayUnavailable, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return ads.GatewayRedirect{}, fmt.Errorf("%w: create returned %d", ads.ErrGatewayUnavailable, response.StatusCode)
	}
	var created createResponse
	if err := json.NewDecoder(response.Body).Decode(&created); err != nil {
		return ads.GatewayRedirect{}, fmt.Errorf("%w: decode create response: %v", ads.ErrGatewayUnavailable, err)
	}
	if created.Token == "" || created.URL == "" {
		return ads.GatewayRedirect{}, fmt.Errorf("%w: create response missing token or url", ads.ErrGatewayUnavailable)
	}
	return ads.GatewayRedirect{Token: created.Token, URL: created.URL}, nil
}

// CommitTransaction closes the transaction for a returned token. A reachable
// gateway always yields a result; the caller decides on the status.
func (gateway *Gateway) CommitTransaction(ctx context.Context, token string) (ads.GatewayResult, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPut, gateway.baseURL+transactionsPath+"/"+token, nil)
	if err != nil {
		return ads.GatewayResult{}, fmt.Errorf("%w: build commit request: %v", ads.ErrGatewayUnavailable, err)
	}
	gateway.setHeaders(request)

	response, err := gateway.client.Do(request)
	if err != nil {
		return ads.GatewayResult{}, fmt.Errorf("%w: %v", ads.ErrGatewayUnavailable, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return ads.GatewayResult{}, fmt.Errorf("%w: commit returned %d", ads.ErrGatewayUnavailable, response.StatusCode)
	}
	var committed commitResponse
	if err := json.NewDecoder(response.Body).Decode(&committed); err != nil {
		return ads.GatewayResult{}, fmt.Errorf("%w: decode commit response: %v", ads.ErrGatewayUnavailable, err)
	}
	return ads.GatewayResult{
		Status:      committed.Status,
		BuyOrder:    committed.BuyOrder,
		AmountCents: committed.Amount,
	}, nil
}

func (gateway *Gateway) setHeaders(request *http.Request) {
	request.Header.Set(headerAPIKeyID, gateway.commerceCode)
	request.Header.Set(headerAPIKeySecret, gateway.apiKey)
	request.Header.Set(headerContentType, contentTypeJSON)
}
