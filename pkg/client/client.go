// Package client talks to the gate-admin HTTP API.
//
// Every response is a {code, data, message} envelope. A non-zero code comes
// back as *errcode.Error; network and decoding failures are wrapped with the
// request they belong to.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"gate-console/pkg/errcode"
	"gate-console/pkg/model"
)

type Client struct {
	base  string
	http  *http.Client
	tls   *tls.Config
	actor string
}

type Option func(*Client)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithActor names the operator in the server's audit log.
func WithActor(actor string) Option {
	return func(c *Client) { c.actor = actor }
}

func New(base string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) ListRoutes(ctx context.Context) ([]model.RouteRule, error) {
	var out []model.RouteRule
	if err := c.do(ctx, http.MethodGet, "/v1/apis", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.RouteRule{}
	}
	return out, nil
}

// CreateRoute posts rule and returns the stored rule. Servers that do not
// echo the rule back leave it unchanged.
func (c *Client) CreateRoute(ctx context.Context, rule model.RouteRule) (model.RouteRule, error) {
	saved := rule
	if err := c.do(ctx, http.MethodPost, "/v1/api", rule, &saved); err != nil {
		return rule, err
	}
	return saved, nil
}

// UpdateRoute replaces the rule identified by key (its pre-edit identity).
func (c *Client) UpdateRoute(ctx context.Context, key model.Key, rule model.RouteRule) error {
	req := model.UpdateRequest{Info: rule, Method: key.Method, URL: key.URL, ID: key.ID}
	return c.do(ctx, http.MethodPost, "/v1/api/update", req, nil)
}

func (c *Client) DeleteRoute(ctx context.Context, key model.Key) error {
	req := model.DeleteRequest{Method: key.Method, URL: key.URL, ID: key.ID}
	return c.do(ctx, http.MethodPost, "/v1/api/delete", req, nil)
}

func (c *Client) ListClusters(ctx context.Context) ([]model.Cluster, error) {
	var out []model.Cluster
	err := c.do(ctx, http.MethodGet, "/v1/clusters", nil, &out)
	return out, err
}

func (c *Client) AddCluster(ctx context.Context, cluster model.Cluster) error {
	return c.do(ctx, http.MethodPost, "/v1/cluster", cluster, nil)
}

func (c *Client) ListPlugins(ctx context.Context) ([]model.Plugin, error) {
	var out []model.Plugin
	err := c.do(ctx, http.MethodGet, "/v1/plugins", nil, &out)
	return out, err
}

func (c *Client) ListAudit(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	var out []model.AuditEntry
	path := "/v1/audit"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.actor != "" {
		req.Header.Set("X-Gate-Actor", c.actor)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: unexpected status %s", method, path, resp.Status)
	}
	var env model.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	if env.Code != errcode.OK.Code {
		return errcode.New(env.Code, env.Message)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s %s: decode data: %w", method, path, err)
	}
	return nil
}

// Watch subscribes to the change feed and calls fn for every event until ctx
// is done or the connection drops. It returns nil only when ctx ended.
func (c *Client) Watch(ctx context.Context, fn func(model.ChangeEvent)) error {
	u, err := url.Parse(c.base)
	if err != nil {
		return err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/ws"

	dialer := *websocket.DefaultDialer
	dialer.TLSClientConfig = c.tls
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return fmt.Errorf("dial %s (status %d): %w", u.String(), status, err)
	}
	defer conn.Close()
	log.WithFields(log.Fields{"subsystem": "client", "url": u.String()}).Debug("change feed connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var ev model.ChangeEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read change feed: %w", err)
		}
		fn(ev)
	}
}

// WithTLS dials the server and the change feed with cfg.
func WithTLS(cfg *tls.Config) Option {
	return func(c *Client) {
		c.tls = cfg
		c.http = &http.Client{
			Timeout:   c.http.Timeout,
			Transport: &http.Transport{TLSClientConfig: cfg, Proxy: http.ProxyFromEnvironment},
		}
	}
}
