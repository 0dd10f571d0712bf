// Package docgen asks the billing provider for invoices and receipts.
package docgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/waldoclick/waldo-project-sub000/pkg/ads"
)

const (
	defaultTimeout = 15 * time.Second

	documentTypeInvoice = "invoice"
	documentTypeReceipt = "receipt"

	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	contentTypeJSON     = "application/json"
)

// Config carries the billing provider endpoint and token.
type Config struct {
	BaseURL        string
	APIToken       string
	RequestTimeout time.Duration
}

// Client requests billing documents over HTTP. Callers treat failures as
// non-fatal; the payment record stands without the document.
type Client struct {
	baseURL  string
	apiToken string
	client   *http.Client
}

// New returns a Client with a bounded HTTP client.
func New(config Config) *Client {
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:  config.BaseURL,
		apiToken: config.APIToken,
		client:   &http.Client{Timeout: timeout},
	}
}

type documentRequest struct {
	Type      string         `json:"type"`
	Reference string         `json:"reference"`
	Items     []documentItem `json:"items"`
	Totals    documentTotals `json:"totals"`
}

type documentItem struct {
	Description string `json:"description"`
	NetCents    int64  `json:"net_cents"`
	VATCents    int64  `json:"vat_cents"`
	GrossCents  int64  `json:"gross_cents"`
}

type documentTotals struct {
	NetCents   int64 `json:"net_cents"`
	VATCents   int64 `json:"vat_cents"`
	GrossCents int64 `json:"gross_cents"`
}

// GenerateDocument requests a billing document and returns the provider's
// raw JSON payload.
func (client *Client) GenerateDocument(ctx context.Context, header ads.DocumentHeader, items []ads.LineItem, totals ads.DocumentTotals) (string, error) {
	documentType := documentTypeReceipt
	if header.Invoice {
		documentType = documentTypeInvoice
	}
	request := documentRequest{
		Type:      documentType,
		Reference: header.BuyOrder,
		Totals: documentTotals{
			NetCents:   totals.NetCents,
			VATCents:   totals.VATCents,
			GrossCents: totals.GrossCents,
		},
	}
	for _, item := range items {
		request.Items = append(request.Items, documentItem{
			Description: item.Description,
			NetCents:    item.NetCents,
			VATCents:    item.VATCents,
			GrossCents:  item.GrossCents,
		})
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("encode document request: %w", err)
	}
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, client.baseURL+"/api/documents", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build document request: %w", err)
	}
	httpRequest.Header.Set(headerContentType, contentTypeJSON)
	if client.apiToken != "" {
		httpRequest.Header.Set(headerAuthorization, "Bearer "+client.apiToken)
	}

	response, err := client.client.Do(httpRequest)
	if err != nil {
		return "", fmt.Errorf("request document: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("document provider returned %d", response.StatusCode)
	}
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return "", fmt.Errorf("read document response: %w", err)
	}
	if !json.Valid(body) {
		return "", fmt.Errorf("document provider returned invalid json")
	}
	return string(body), nil
}
