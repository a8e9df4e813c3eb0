package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrDeclined is a business decline from the payment service (bad or
// exhausted card token). No money moved.
var ErrDeclined = errors.New("payment declined")

// ErrUnavailable is a transport-level failure: timeout, connection error or a
// non-2xx response. The outcome of the charge is unknown and the caller must
// not treat it as either success or decline.
var ErrUnavailable = errors.New("payment service unavailable")

const (
	statusOK      = "ok"
	statusInvalid = "invalid"
	statusFail    = "fail"
)

type Client struct {
	baseURL string
	shopID  string
	client  *http.Client
}

func NewClient(baseURL, shopID string, client *http.Client) *Client {
	return &Client{
		baseURL: baseURL,
		shopID:  shopID,
		client:  client,
	}
}

type tokenRequest struct {
	ShopID string `json:"shop_id"`
	Token  string `json:"token"`
	Price  int64  `json:"price"`
}

type tokenResponse struct {
	Status string `json:"status"`
}

// Charge captures price against the given card token. The service is
// idempotent per token, so retrying after ErrUnavailable is safe.
func (c *Client) Charge(ctx context.Context, token string, price int64) error {
	body := tokenRequest{
		ShopID: c.shopID,
		Token:  token,
		Price:  price,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: payment service returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var res tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return fmt.Errorf("%w: decode token response: %v", ErrUnavailable, err)
	}

	switch res.Status {
	case statusOK:
		return nil
	case statusInvalid, statusFail:
		return fmt.Errorf("%w: status %s", ErrDeclined, res.Status)
	default:
		return fmt.Errorf("%w: unknown status %q", ErrUnavailable, res.Status)
	}
}
