// Package ecount is a thin client for the Ecount OAPI v2 endpoints used by
// the ERP sync: login, sale save, purchase save. Requests carry a 10 second
// timeout and session ids are cached per credential set.
package ecount

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"bakeops/backend/internal/cache"
	"bakeops/backend/internal/domain"
)

const sessionTTL = 30 * time.Minute

type Client struct {
	httpClient *http.Client
	sessions   cache.SessionCache
	log        *logrus.Logger

	// BaseURL is a format string taking the zone, e.g.
	// "https://sboapi%s.ecount.com". Overridable for tests.
	BaseURL string
}

func NewClient(sessions cache.SessionCache, log *logrus.Logger) *Client {
	if sessions == nil {
		sessions = cache.NoopSessionCache{}
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		sessions:   sessions,
		log:        log,
		BaseURL:    "https://sboapi%s.ecount.com",
	}
}

type loginRequest struct {
	ComCode    string `json:"COM_CODE"`
	UserID     string `json:"USER_ID"`
	Zone       string `json:"ZONE"`
	APICertKey string `json:"API_CERT_KEY"`
	LanType    string `json:"LAN_TYPE"`
}

type loginResponse struct {
	SessionID string `json:"SESSION_ID"`
}

// SaleItem is one line of a SaveSale payload.
type SaleItem struct {
	ProdCode   string  `json:"PROD_CD"`
	ProdDesc   string  `json:"PROD_DES"`
	Quantity   float64 `json:"QTY"`
	UnitAmount float64 `json:"UNIT_AMT"`
	SaleDate   string  `json:"SALE_DATE"`
	Line       int     `json:"Line"`
}

// PurchaseItem is one line of a SavePurchases payload.
type PurchaseItem struct {
	ProdCode     string  `json:"PROD_CD"`
	ProdDesc     string  `json:"PROD_DES"`
	Quantity     float64 `json:"QTY"`
	UnitAmount   float64 `json:"UNIT_AMT"`
	PurchaseDate string  `json:"PURCH_DATE"`
	Supplier     string  `json:"SUPPLIER"`
	Line         int     `json:"Line"`
}

// Login authenticates against the Ecount API and returns a fresh session id.
func (c *Client) Login(ctx context.Context, settings domain.ErpSettings) (string, error) {
	lanType := settings.LanType
	if lanType == "" {
		lanType = "ko-KR"
	}
	payload := loginRequest{
		ComCode:    settings.ComCode,
		UserID:     settings.UserID,
		Zone:       settings.Zone,
		APICertKey: settings.APICertKey,
		LanType:    lanType,
	}

	url := fmt.Sprintf(c.BaseURL, settings.Zone) + "/OAPI/V2/OAPILogin"
	body, err := c.post(ctx, url, payload)
	if err != nil {
		return "", err
	}

	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("login rejected: no session id in response")
	}
	return resp.SessionID, nil
}

// Session returns a cached session id for the credential set, logging in
// when the cache misses.
func (c *Client) Session(ctx context.Context, settings domain.ErpSettings) (string, error) {
	key := fmt.Sprintf("ecount:session:%s:%s", settings.ComCode, settings.UserID)

	if cached, ok, err := c.sessions.Get(ctx, key); err != nil {
		c.log.WithError(err).Warn("session cache read failed, logging in directly")
	} else if ok {
		return cached, nil
	}

	sessionID, err := c.Login(ctx, settings)
	if err != nil {
		return "", err
	}
	if err := c.sessions.Set(ctx, key, sessionID, sessionTTL); err != nil {
		c.log.WithError(err).Warn("session cache write failed")
	}
	return sessionID, nil
}

// InvalidateSession drops the cached session id so the next call logs in
// again.
func (c *Client) InvalidateSession(ctx context.Context, settings domain.ErpSettings) {
	key := fmt.Sprintf("ecount:session:%s:%s", settings.ComCode, settings.UserID)
	if err := c.sessions.Delete(ctx, key); err != nil {
		c.log.WithError(err).Warn("session cache delete failed")
	}
}

// SaveSale posts one sale line. Returns the marshaled request and the raw
// response body so the caller can persist both in the sync log.
func (c *Client) SaveSale(ctx context.Context, settings domain.ErpSettings, sessionID string, item SaleItem) (request string, response string, err error) {
	payload := map[string]any{
		"SalesList": map[string]any{
			"BulkDatas": []SaleItem{item},
		},
	}
	return c.save(ctx, settings, sessionID, "/OAPI/V2/Sale/SaveSale", payload)
}

// SavePurchase posts one purchase line.
func (c *Client) SavePurchase(ctx context.Context, settings domain.ErpSettings, sessionID string, item PurchaseItem) (request string, response string, err error) {
	payload := map[string]any{
		"PurchasesList": map[string]any{
			"BulkDatas": []PurchaseItem{item},
		},
	}
	return c.save(ctx, settings, sessionID, "/OAPI/V2/Purchases/SavePurchases", payload)
}

func (c *Client) save(ctx context.Context, settings domain.ErpSettings, sessionID string, path string, payload any) (string, string, error) {
	requestData, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}

	url := fmt.Sprintf(c.BaseURL, settings.Zone) + path + "?SESSION_ID=" + sessionID
	body, err := c.post(ctx, url, payload)
	if err != nil {
		return string(requestData), "", err
	}
	return string(requestData), string(body), nil
}

func (c *Client) post(ctx context.Context, url string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("ecount api returned %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
