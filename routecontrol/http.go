// Package routecontrol implements the client's side of the route
// controller interface: building the client-info blob posted with every
// route request/update, parsing the RouteData blob a route update
// carries, and a reference HTTP/JSON transport used to reach the
// controller service. The JSON envelope and the controller's own
// route-planning logic are external collaborators; this package
// defines only the semantics of the blobs exchanged inside that
// envelope, plus HTTPController as one faithful rendition of it.
package routecontrol

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/networknext/next-go/address"
)

// nearRelayCacheTTL is how long a near-relay list response is reused
// before the client state machine's 10s idle re-fetch is allowed to hit
// the network again.
const nearRelayCacheTTL = 8 * time.Second

// HTTPConfig configures an HTTPController.
type HTTPConfig struct {
	// BaseURL is the controller's origin, e.g. "https://router.example.com".
	BaseURL string
	// Timeouts selects the per-call timeout tier. Defaults to
	// LowLatencyTimeouts.
	Timeouts Timeouts
	// HTTPClient is the underlying client. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Logger falls back to slog.Default() when nil.
	Logger *slog.Logger
}

// HTTPController is the reference Controller implementation: JSON over
// net/http, with binary blobs (client info, route data, server token)
// carried as base64 fields, and a short-lived cache in front of the
// near-relay endpoints so repeated lookups within nearRelayCacheTTL
// don't hit the network; the client's 10s READY-state re-fetch outlives
// that TTL and always reaches the network.
type HTTPController struct {
	cfg    HTTPConfig
	log    *slog.Logger
	client *http.Client
	near   *cache.Cache
}

// NewHTTPController constructs an HTTPController with cfg's defaults
// backfilled: LowLatencyTimeouts, http.DefaultClient, slog.Default().
func NewHTTPController(cfg HTTPConfig) *HTTPController {
	if cfg.Timeouts == (Timeouts{}) {
		cfg.Timeouts = LowLatencyTimeouts
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPController{
		cfg:    cfg,
		log:    logger.WithGroup("routecontrol"),
		client: cfg.HTTPClient,
		near:   cache.New(nearRelayCacheTTL, 2*nearRelayCacheTTL),
	}
}

// wireRouteRequest / wireRouteResponse are the JSON envelope shapes posted
// to and received from /v2/router/route and /v2/router/update. Binary
// fields are base64.
type wireRouteRequest struct {
	ClientInfo  string `json:"client_info"`
	RouteState  string `json:"route_state,omitempty"`
	ServerToken string `json:"server_token,omitempty"`
}

type wireRouteResponse struct {
	RoutePrefix string   `json:"route_prefix"`
	RouteState  string   `json:"route_state"`
	Tokens      []string `json:"tokens"`
}

func (c *HTTPController) postRoute(ctx context.Context, path string, req RouteRequest, isContinue bool) (RouteResponse, error) {
	infoBytes, err := req.Info.Marshal()
	if err != nil {
		return RouteResponse{}, fmt.Errorf("routecontrol: marshal client info: %w", err)
	}
	wireReq := wireRouteRequest{
		ClientInfo: base64.StdEncoding.EncodeToString(infoBytes),
	}
	if req.RouteState != nil {
		wireReq.RouteState = base64.StdEncoding.EncodeToString(req.RouteState)
	}
	if req.ServerToken != nil {
		wireReq.ServerToken = base64.StdEncoding.EncodeToString(req.ServerToken)
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return RouteResponse{}, fmt.Errorf("routecontrol: marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeouts.RouteUpdate)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return RouteResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return RouteResponse{}, fmt.Errorf("routecontrol: %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return RouteResponse{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return RouteResponse{}, fmt.Errorf("routecontrol: %s: status %d: %s", path, resp.StatusCode, raw)
	}

	var wireResp wireRouteResponse
	if err := json.Unmarshal(raw, &wireResp); err != nil {
		return RouteResponse{}, fmt.Errorf("routecontrol: unmarshal response: %w", err)
	}

	prefixBytes, err := base64.StdEncoding.DecodeString(wireResp.RoutePrefix)
	if err != nil {
		return RouteResponse{}, fmt.Errorf("routecontrol: decode route_prefix: %w", err)
	}
	prefix, _, err := UnmarshalRoutePrefix(prefixBytes)
	if err != nil {
		return RouteResponse{}, err
	}
	routeState, err := base64.StdEncoding.DecodeString(wireResp.RouteState)
	if err != nil {
		return RouteResponse{}, fmt.Errorf("routecontrol: decode route_state: %w", err)
	}
	tokens := make([][]byte, len(wireResp.Tokens))
	for i, t := range wireResp.Tokens {
		tok, err := base64.StdEncoding.DecodeString(t)
		if err != nil {
			return RouteResponse{}, fmt.Errorf("routecontrol: decode token %d: %w", i, err)
		}
		tokens[i] = tok
	}

	return RouteResponse{Data: RouteData{Prefix: prefix, RouteState: routeState, Tokens: tokens, IsContinue: isContinue}}, nil
}

// RequestRoute implements Controller.
func (c *HTTPController) RequestRoute(ctx context.Context, req RouteRequest) (RouteResponse, error) {
	return c.postRoute(ctx, "/v2/router/route", req, false)
}

// RequestUpdate implements Controller.
func (c *HTTPController) RequestUpdate(ctx context.Context, req RouteRequest) (RouteResponse, error) {
	return c.postRoute(ctx, "/v2/router/update", req, false)
}

type wireNearRelay struct {
	RelayID   uint64 `json:"relay_id"`
	Address   string `json:"address"`
	PublicKey string `json:"public_key"`
}

func (c *HTTPController) fetchNear(ctx context.Context, path, cacheKey string) ([]NearRelay, error) {
	if cached, ok := c.near.Get(cacheKey); ok {
		return cached.([]NearRelay), nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeouts.NearRelays)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("routecontrol: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("routecontrol: %s: status %d", path, resp.StatusCode)
	}

	var wireRelays []wireNearRelay
	if err := json.NewDecoder(resp.Body).Decode(&wireRelays); err != nil {
		return nil, fmt.Errorf("routecontrol: decode near relays: %w", err)
	}

	relays := make([]NearRelay, 0, len(wireRelays))
	for _, wr := range wireRelays {
		addr, err := parseHostPort(wr.Address)
		if err != nil {
			c.log.Warn("skipping near relay with unparseable address", "relay_id", wr.RelayID, "address", wr.Address)
			continue
		}
		var pk [32]byte
		pkBytes, err := base64.StdEncoding.DecodeString(wr.PublicKey)
		if err != nil || len(pkBytes) != 32 {
			c.log.Warn("skipping near relay with invalid public key", "relay_id", wr.RelayID)
			continue
		}
		copy(pk[:], pkBytes)
		relays = append(relays, NearRelay{RelayID: wr.RelayID, Address: addr, PublicKey: pk})
	}

	c.near.Set(cacheKey, relays, cache.DefaultExpiration)
	return relays, nil
}

// parseHostPort parses a "host:port" string (the reference envelope's
// relay address form) into an address.Address.
func parseHostPort(hostport string) (address.Address, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return address.Address{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return address.Address{}, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return address.Address{}, fmt.Errorf("routecontrol: invalid IP %q", host)
	}
	udpAddr := &net.UDPAddr{IP: ip, Port: int(port)}
	return address.FromUDPAddr(udpAddr)
}

// NearRelaysAuto implements Controller.
func (c *HTTPController) NearRelaysAuto(ctx context.Context) ([]NearRelay, error) {
	return c.fetchNear(ctx, "/v2/near/auto", "auto")
}

// NearRelaysAt implements Controller.
func (c *HTTPController) NearRelaysAt(ctx context.Context, lat, lon float64) ([]NearRelay, error) {
	path := fmt.Sprintf("/v2/near/%f/%f", lat, lon)
	return c.fetchNear(ctx, path, path)
}

// PostCounters implements Controller.
func (c *HTTPController) PostCounters(ctx context.Context, counters map[string]uint64) error {
	body, err := json.Marshal(counters)
	if err != nil {
		return err
	}
	return c.postStats(ctx, "/v2/stats/counters", body)
}

// PostLog implements Controller.
func (c *HTTPController) PostLog(ctx context.Context, message string) error {
	body, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return err
	}
	return c.postStats(ctx, "/v2/stats/log", body)
}

func (c *HTTPController) postStats(ctx context.Context, path string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeouts.RouteUpdate)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.log.Warn("stats post failed", "path", path, "error", err)
		return fmt.Errorf("routecontrol: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("routecontrol: %s: status %d", path, resp.StatusCode)
	}
	return nil
}
