package chirpstack

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const authHeader = "Grpc-Metadata-Authorization"

// Client is a minimal ChirpStack application-server REST client.
type Client struct {
	http *resty.Client
}

// NewClient constructs a client. token is an API key JWT.
func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("chirpstack: empty base url")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	http := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		http.SetHeader(authHeader, "Bearer "+token)
	}
	return &Client{http: http}, nil
}

// DeviceQueueItem is a downlink queue entry.
type DeviceQueueItem struct {
	Confirmed bool   `json:"confirmed"`
	Data      string `json:"data"`
	DevEUI    string `json:"devEUI"`
	FCnt      uint32 `json:"fCnt"`
	FPort     int    `json:"fPort"`
}

type enqueueRequest struct {
	DeviceQueueItem DeviceQueueItem `json:"deviceQueueItem"`
}

// EnqueueResponse is returned by the queue endpoint.
type EnqueueResponse struct {
	FCnt uint32 `json:"fCnt"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Enqueue adds payload to the device queue. payload is passed through as the
// base64 data field.
func (c *Client) Enqueue(ctx context.Context, devEUI, payload string, fPort int, confirmed bool) error {
	_, err := c.EnqueueItem(ctx, DeviceQueueItem{
		Confirmed: confirmed,
		Data:      payload,
		DevEUI:    devEUI,
		FPort:     fPort,
	})
	return err
}

// EnqueueItem posts item to /api/devices/{devEUI}/queue.
func (c *Client) EnqueueItem(ctx context.Context, item DeviceQueueItem) (EnqueueResponse, error) {
	if item.DevEUI == "" {
		return EnqueueResponse{}, errors.New("chirpstack: empty dev eui")
	}
	var out EnqueueResponse
	var apiErr errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("devEUI", item.DevEUI).
		SetBody(enqueueRequest{DeviceQueueItem: item}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/api/devices/{devEUI}/queue")
	if err != nil {
		return EnqueueResponse{}, fmt.Errorf("chirpstack: enqueue: %w", err)
	}
	if resp.IsError() {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error
		}
		return EnqueueResponse{}, fmt.Errorf("chirpstack: http %d: %s", resp.StatusCode(), msg)
	}
	return out, nil
}
