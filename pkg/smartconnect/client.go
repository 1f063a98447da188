// Package smartconnect is a lean Angel One SmartAPI client covering what the
// exit monitor needs: TOTP session login, LTP quotes, market flatten orders
// and order-book readback of the realized fill price, plus the LTP tick feed.
package smartconnect

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"
)

// Config configures the REST client.
type Config struct {
	APIKey string

	RootURL string        // default: https://apiconnect.angelone.in
	Timeout time.Duration // default: 7s
	Debug   bool

	ClientPublicIP string // resolved if empty
	ClientLocalIP  string // resolved if empty
	ClientMAC      string // resolved if empty
}

// Client is the SmartAPI REST client. Not safe for concurrent token mutation;
// login once, then share.
type Client struct {
	apiKey       string
	accessToken  string
	refreshToken string
	feedToken    string
	clientCode   string

	rootURL string
	debug   bool

	httpClient *http.Client

	clientPublicIP string
	clientLocalIP  string
	clientMAC      string

	// Called on a 403 TokenException so the owner can re-login.
	SessionExpiryHook func()
}

const defaultRoot = "https://apiconnect.angelone.in"

var routes = map[string]string{
	"api.login":        "/rest/auth/angelbroking/user/v1/loginByPassword",
	"api.logout":       "/rest/secure/angelbroking/user/v1/logout",
	"api.token":        "/rest/auth/angelbroking/jwt/v1/generateTokens",
	"api.user.profile": "/rest/secure/angelbroking/user/v1/getProfile",

	"api.order.place": "/rest/secure/angelbroking/order/v1/placeOrder",
	"api.order.book":  "/rest/secure/angelbroking/order/v1/getOrderBook",

	"api.ltp.data": "/rest/secure/angelbroking/order/v1/getLtpData",
}

// New builds a client. Network identity headers are resolved best-effort; the
// API rejects requests without them.
func New(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	if cfg.ClientLocalIP == "" {
		cfg.ClientLocalIP = firstNonEmpty(localIP(), "127.0.0.1")
	}
	if cfg.ClientPublicIP == "" {
		cfg.ClientPublicIP = firstNonEmpty(cfg.ClientLocalIP, "106.193.147.98")
	}
	if cfg.ClientMAC == "" {
		cfg.ClientMAC = macAddress()
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Client{
		apiKey:         cfg.APIKey,
		rootURL:        strings.TrimRight(cfg.RootURL, "/"),
		debug:          cfg.Debug,
		httpClient:     &http.Client{Transport: tr, Timeout: cfg.Timeout},
		clientPublicIP: cfg.ClientPublicIP,
		clientLocalIP:  cfg.ClientLocalIP,
		clientMAC:      cfg.ClientMAC,
	}
}

func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, address := range addrs {
		if ipNet, ok := address.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String()
		}
	}
	return ""
}

func macAddress() string {
	ifs, _ := net.Interfaces()
	for _, ifc := range ifs {
		if len(ifc.HardwareAddr) > 0 {
			return ifc.HardwareAddr.String()
		}
	}
	return "00:11:22:33:44:55"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// FeedToken returns the feed token obtained at login, for the tick feed.
func (c *Client) FeedToken() string { return c.feedToken }

// AccessToken returns the session JWT.
func (c *Client) AccessToken() string { return c.accessToken }

// ClientCode returns the logged-in client code.
func (c *Client) ClientCode() string { return c.clientCode }

// Login generates the current TOTP code from the shared secret and opens a
// session. The broker expires sessions overnight, so the owner re-logs on
// SessionExpiryHook.
func (c *Client) Login(clientCode, password, totpSecret string) error {
	code, err := totp.GenerateCode(totpSecret, time.Now())
	if err != nil {
		return fmt.Errorf("smartconnect totp: %w", err)
	}
	return c.GenerateSession(clientCode, password, code)
}

// GenerateSession logs in with an already-computed TOTP code and stores the
// session tokens on the client.
func (c *Client) GenerateSession(clientCode, password, totpCode string) error {
	res, err := c.post("api.login", map[string]any{
		"clientcode": clientCode, "password": password, "totp": totpCode,
	})
	if err != nil {
		return fmt.Errorf("smartconnect login: %w", err)
	}
	if st, _ := res["status"].(bool); !st {
		msg, _ := res["message"].(string)
		return fmt.Errorf("smartconnect login failed: %s", msg)
	}
	data, ok := res["data"].(map[string]any)
	if !ok {
		return errors.New("smartconnect login: unexpected response format")
	}

	c.accessToken, _ = data["jwtToken"].(string)
	c.refreshToken, _ = data["refreshToken"].(string)
	c.feedToken, _ = data["feedToken"].(string)
	c.clientCode = clientCode

	if c.accessToken == "" || c.feedToken == "" {
		return errors.New("smartconnect login: empty tokens in response")
	}
	log.Printf("[smartconnect] session established for %s", clientCode)
	return nil
}

// Logout terminates the session.
func (c *Client) Logout() error {
	_, err := c.post("api.logout", map[string]any{"clientcode": c.clientCode})
	return err
}

// LTP returns the last traded price in rupees.
func (c *Client) LTP(exchange, tradingSymbol, symbolToken string) (decimal.Decimal, error) {
	res, err := c.post("api.ltp.data", map[string]any{
		"exchange":      exchange,
		"tradingsymbol": tradingSymbol,
		"symboltoken":   symbolToken,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("smartconnect ltp %s: %w", symbolToken, err)
	}
	if st, _ := res["status"].(bool); !st {
		msg, _ := res["message"].(string)
		return decimal.Zero, fmt.Errorf("smartconnect ltp %s failed: %s", symbolToken, msg)
	}
	data, ok := res["data"].(map[string]any)
	if !ok {
		return decimal.Zero, fmt.Errorf("smartconnect ltp %s: unexpected response format", symbolToken)
	}
	ltp, ok := data["ltp"].(float64)
	if !ok {
		return decimal.Zero, fmt.Errorf("smartconnect ltp %s: missing ltp field", symbolToken)
	}
	return decimal.NewFromFloat(ltp), nil
}

// OrderParams is a market order request. Only the fields the exit path needs.
type OrderParams struct {
	TradingSymbol   string
	SymbolToken     string
	TransactionType string // BUY, SELL
	Exchange        string // NFO, NSE
	Quantity        int64
}

// PlaceMarketOrder submits an intraday market order and returns the broker
// order id.
func (c *Client) PlaceMarketOrder(p OrderParams) (string, error) {
	res, err := c.post("api.order.place", map[string]any{
		"variety":         "NORMAL",
		"tradingsymbol":   p.TradingSymbol,
		"symboltoken":     p.SymbolToken,
		"transactiontype": p.TransactionType,
		"exchange":        p.Exchange,
		"ordertype":       "MARKET",
		"producttype":     "INTRADAY",
		"duration":        "DAY",
		"quantity":        p.Quantity,
	})
	if err != nil {
		return "", fmt.Errorf("smartconnect place order %s: %w", p.TradingSymbol, err)
	}
	if st, _ := res["status"].(bool); !st {
		msg, _ := res["message"].(string)
		return "", fmt.Errorf("smartconnect place order %s failed: %s", p.TradingSymbol, msg)
	}
	if data, ok := res["data"].(map[string]any); ok {
		if oid, _ := data["orderid"].(string); oid != "" {
			return oid, nil
		}
	}
	return "", fmt.Errorf("smartconnect place order %s: invalid response format", p.TradingSymbol)
}

// OrderStatus is the order-book view of a single order.
type OrderStatus struct {
	OrderID      string
	Status       string // complete, rejected, cancelled, open, ...
	AvgPrice     decimal.Decimal
	FilledQty    int64
	ErrorMessage string
}

// OrderByID reads the order book and returns the entry for an order id, or
// nil when the order is not in today's book.
func (c *Client) OrderByID(orderID string) (*OrderStatus, error) {
	res, err := c.get("api.order.book", nil)
	if err != nil {
		return nil, fmt.Errorf("smartconnect order book: %w", err)
	}
	items, ok := res["data"].([]any)
	if !ok {
		return nil, nil
	}
	for _, it := range items {
		row, ok := it.(map[string]any)
		if !ok {
			continue
		}
		if oid, _ := row["orderid"].(string); oid != orderID {
			continue
		}
		st := &OrderStatus{OrderID: orderID}
		st.Status, _ = row["status"].(string)
		st.ErrorMessage, _ = row["text"].(string)
		if avg, ok := row["averageprice"].(float64); ok {
			st.AvgPrice = decimal.NewFromFloat(avg)
		}
		if fq, ok := row["filledshares"].(string); ok {
			var n int64
			fmt.Sscanf(fq, "%d", &n)
			st.FilledQty = n
		}
		return st, nil
	}
	return nil, nil
}

// ---- transport ----

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-ClientLocalIP", c.clientLocalIP)
	h.Set("X-ClientPublicIP", c.clientPublicIP)
	h.Set("X-MACAddress", c.clientMAC)
	h.Set("X-PrivateKey", c.apiKey)
	h.Set("X-UserType", "USER")
	h.Set("X-SourceID", "WEB")
	if c.accessToken != "" {
		h.Set("Authorization", "Bearer "+c.accessToken)
	}
	return h
}

func (c *Client) doRequest(method, route string, params map[string]any) (map[string]any, error) {
	uri, ok := routes[route]
	if !ok {
		return nil, fmt.Errorf("smartconnect: unknown route %s", route)
	}
	reqURL := c.rootURL + uri

	var body io.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			q := url.Values{}
			for k, v := range params {
				q.Set(k, fmt.Sprint(v))
			}
			reqURL += "?" + q.Encode()
		}
	} else {
		if params == nil {
			params = map[string]any{}
		}
		b, _ := json.Marshal(params)
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, reqURL, body)
	if err != nil {
		return nil, err
	}
	req.Header = c.headers()

	if c.debug {
		log.Printf("[smartconnect] %s %s params=%v", method, reqURL, params)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if c.debug {
		log.Printf("[smartconnect] response code=%d body=%s", resp.StatusCode, string(raw))
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("smartconnect: parse response: %w", err)
	}
	if et, ok := out["error_type"].(string); ok && et != "" {
		if c.SessionExpiryHook != nil && resp.StatusCode == http.StatusForbidden && et == "TokenException" {
			c.SessionExpiryHook()
		}
		msg, _ := out["message"].(string)
		return out, fmt.Errorf("%s: %s", et, msg)
	}
	return out, nil
}

func (c *Client) get(route string, params map[string]any) (map[string]any, error) {
	return c.doRequest(http.MethodGet, route, params)
}

func (c *Client) post(route string, params map[string]any) (map[string]any, error) {
	return c.doRequest(http.MethodPost, route, params)
}
