package track17http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/TrackHub/internal/integrations/aggregator"
	"github.com/pkg/errors"
)

// codeAlreadyRegistered: номер уже отслеживается, для нас это успех.
const codeAlreadyRegistered = -18019901

// 17track идентифицирует перевозчиков числовыми ключами.
var carrierKeys = map[string]int{
	"dhl":       100001,
	"ups":       100002,
	"fedex":     100003,
	"usps":      21051,
	"ontrac":    100049,
	"lasership": 100052,
	"amazon":    100143,
}

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://api.17track.net"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type registerItem struct {
	Number  string `json:"number"`
	Carrier int    `json:"carrier,omitempty"`
}

type registerResp struct {
	Code int `json:"code"`
	Data struct {
		Accepted []struct {
			Number string `json:"number"`
		} `json:"accepted"`
		Rejected []struct {
			Number string `json:"number"`
			Error  struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		} `json:"rejected"`
	} `json:"data"`
}

func (c *Client) Register(ctx context.Context, reg aggregator.Registration) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return errors.Wrap(err, "parse base url")
	}
	u.Path = "/track/v2.2/register"

	body, err := json.Marshal([]registerItem{{
		Number:  reg.TrackingNumber,
		Carrier: carrierKeys[strings.ToLower(reg.CarrierCode)], // 0 → автоопределение
	}})
	if err != nil {
		return errors.Wrap(err, "marshal")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("17token", c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("17track rate limit (429)")
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("17track http %d", resp.StatusCode)
	}

	var r registerResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return errors.Wrap(err, "decode")
	}
	if r.Code != 0 {
		return fmt.Errorf("17track code=%d", r.Code)
	}
	for _, rej := range r.Data.Rejected {
		if rej.Error.Code == codeAlreadyRegistered {
			continue
		}
		return fmt.Errorf("17track rejected %s: %d %s", rej.Number, rej.Error.Code, rej.Error.Message)
	}
	return nil
}
