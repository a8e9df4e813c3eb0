package shipment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ErrUnavailable is a transport-level failure talking to the shipment
// service. Local state is left unchanged by callers so a retry is safe.
var ErrUnavailable = errors.New("shipment service unavailable")

// CarrierStatus is the shipment service's view of a reservation. It is
// authoritative: local shipping status is reconciled from it, never past it.
type CarrierStatus string

const (
	CarrierStatusInitial    CarrierStatus = "initial"
	CarrierStatusWaitPickup CarrierStatus = "wait_pickup"
	CarrierStatusShipping   CarrierStatus = "shipping"
	CarrierStatusDone       CarrierStatus = "done"
)

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, client *http.Client) *Client {
	return &Client{
		baseURL: baseURL,
		client:  client,
	}
}

type createRequest struct {
	ToAddress   string `json:"to_address"`
	ToName      string `json:"to_name"`
	FromAddress string `json:"from_address"`
	FromName    string `json:"from_name"`
}

// Reservation is a pickup slot created at the carrier.
type Reservation struct {
	ReserveID   string `json:"reserve_id"`
	ReserveTime int64  `json:"reserve_time"`
}

func (c *Client) CreateReservation(ctx context.Context, toAddress, toName, fromAddress, fromName string) (*Reservation, error) {
	body := createRequest{
		ToAddress:   toAddress,
		ToName:      toName,
		FromAddress: fromAddress,
		FromName:    fromName,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal create request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/create", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create reservation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: shipment service returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var reservation Reservation
	if err := json.NewDecoder(resp.Body).Decode(&reservation); err != nil {
		return nil, fmt.Errorf("%w: decode reservation: %v", ErrUnavailable, err)
	}
	if reservation.ReserveID == "" {
		return nil, fmt.Errorf("%w: empty reserve id", ErrUnavailable)
	}

	return &reservation, nil
}

type labelRequest struct {
	ReserveID string `json:"reserve_id"`
}

// RequestLabel fetches the binary shipment label for a reservation.
func (c *Client) RequestLabel(ctx context.Context, reserveID string) ([]byte, error) {
	data, err := json.Marshal(labelRequest{ReserveID: reserveID})
	if err != nil {
		return nil, fmt.Errorf("marshal label request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/request", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create label request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: shipment service returned status %d", ErrUnavailable, resp.StatusCode)
	}

	label, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read label: %v", ErrUnavailable, err)
	}

	return label, nil
}

type statusResponse struct {
	Status      CarrierStatus `json:"status"`
	ReserveTime int64         `json:"reserve_time"`
}

// Status queries the carrier for the current state of a reservation.
func (c *Client) Status(ctx context.Context, reserveID string) (CarrierStatus, error) {
	u := c.baseURL + "/status?reserve_id=" + url.QueryEscape(reserveID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("create status request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: shipment service returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var res statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("%w: decode status: %v", ErrUnavailable, err)
	}

	switch res.Status {
	case CarrierStatusInitial, CarrierStatusWaitPickup, CarrierStatusShipping, CarrierStatusDone:
		return res.Status, nil
	default:
		return "", fmt.Errorf("%w: unknown carrier status %q", ErrUnavailable, res.Status)
	}
}
