package gis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yairfalse/geomon/internal/logger"
	"github.com/yairfalse/geomon/pkg/types"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultCacheTTL = 5 * time.Minute
)

// ArcGISClient talks to an ArcGIS REST endpoint. It handles token
// authentication with expiry refresh and caches layer metadata briefly so
// overlapping sweeps do not hammer the service.
type ArcGISClient struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	log      logger.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time

	cacheMu  sync.RWMutex
	cache    map[string]cacheEntry
	cacheTTL time.Duration
}

type cacheEntry struct {
	info    *LayerInfo
	expires time.Time
}

// ArcGISOptions configures an ArcGISClient.
type ArcGISOptions struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
	CacheTTL time.Duration
	Logger   logger.Logger
}

// NewArcGISClient creates a client with a pooled transport.
func NewArcGISClient(opts ArcGISOptions) *ArcGISClient {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	ttl := opts.CacheTTL
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	return &ArcGISClient{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		username: opts.Username,
		password: opts.Password,
		log:      log,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		cache:    make(map[string]cacheEntry),
		cacheTTL: ttl,
	}
}

type arcgisError struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type tokenResponse struct {
	Token   string `json:"token"`
	Expires int64  `json:"expires"`
}

// authenticate fetches a fresh token when credentials are configured and
// the current token is missing or about to expire.
func (c *ArcGISClient) authenticate(ctx context.Context) error {
	if c.username == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Add(time.Minute).Before(c.tokenExpiry) {
		return nil
	}

	form := url.Values{
		"username": {c.username},
		"password": {c.password},
		"client":   {"requestip"},
		"f":        {"json"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/tokens/generateToken", strings.NewReader(form.Encode()))
	if err != nil {
		return &ConnectionError{Message: "building token request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return &ConnectionError{Message: "token endpoint unreachable", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ConnectionError{Message: "reading token response", Cause: err}
	}

	var envelope arcgisError
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		return &AuthError{Message: envelope.Error.Message}
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil || tok.Token == "" {
		return &AuthError{Message: "no token in authentication response"}
	}

	c.token = tok.Token
	c.tokenExpiry = time.UnixMilli(tok.Expires)
	c.log.WithField("expires", c.tokenExpiry).Debug("refreshed service token")
	return nil
}

// get performs one authenticated GET against the service and decodes the
// JSON body into out, mapping service error envelopes to the taxonomy.
func (c *ArcGISClient) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.authenticate(ctx); err != nil {
		return err
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("f", "json")
	c.mu.Lock()
	if c.token != "" {
		params.Set("token", c.token)
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return &ConnectionError{Message: "building request", Cause: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &ConnectionError{Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &ClientError{Code: resp.StatusCode, Message: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ConnectionError{Message: "reading response", Cause: err}
	}

	var envelope arcgisError
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &ClientError{Code: resp.StatusCode, Message: "invalid JSON response: " + err.Error()}
	}
	if envelope.Error != nil {
		if envelope.Error.Code == 498 || envelope.Error.Code == 499 {
			return &AuthError{Message: envelope.Error.Message}
		}
		return &ClientError{Code: envelope.Error.Code, Message: envelope.Error.Message}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &ClientError{Code: resp.StatusCode, Message: "decoding response: " + err.Error()}
	}
	return nil
}

type layerInfoResponse struct {
	Name   string `json:"name"`
	Extent struct {
		XMin float64 `json:"xmin"`
		YMin float64 `json:"ymin"`
		XMax float64 `json:"xmax"`
		YMax float64 `json:"ymax"`
	} `json:"extent"`
	Fields      []FieldDef `json:"fields"`
	EditingInfo struct {
		LastEditDate int64 `json:"lastEditDate"`
	} `json:"editingInfo"`
}

type countResponse struct {
	Count int `json:"count"`
}

// GetLayerInfo returns layer metadata plus the current feature count.
func (c *ArcGISClient) GetLayerInfo(ctx context.Context, layerID int) (*LayerInfo, error) {
	key := "layer:" + strconv.Itoa(layerID)
	c.cacheMu.RLock()
	if entry, ok := c.cache[key]; ok && time.Now().Before(entry.expires) {
		c.cacheMu.RUnlock()
		return entry.info, nil
	}
	c.cacheMu.RUnlock()

	var meta layerInfoResponse
	if err := c.get(ctx, fmt.Sprintf("/%d", layerID), nil, &meta); err != nil {
		return nil, err
	}

	count, err := c.GetFeatureCount(ctx, layerID, "1=1")
	if err != nil {
		return nil, err
	}

	info := &LayerInfo{
		Name:  meta.Name,
		Count: count,
		Extent: types.Extent{
			XMin: meta.Extent.XMin,
			YMin: meta.Extent.YMin,
			XMax: meta.Extent.XMax,
			YMax: meta.Extent.YMax,
		},
		Fields: meta.Fields,
	}
	if meta.EditingInfo.LastEditDate > 0 {
		info.LastModified = time.UnixMilli(meta.EditingInfo.LastEditDate).UTC()
	}

	c.cacheMu.Lock()
	c.cache[key] = cacheEntry{info: info, expires: time.Now().Add(c.cacheTTL)}
	c.cacheMu.Unlock()
	return info, nil
}

// GetFeatureCount returns the number of features matching the where clause.
func (c *ArcGISClient) GetFeatureCount(ctx context.Context, layerID int, where string) (int, error) {
	if where == "" {
		where = "1=1"
	}
	params := url.Values{
		"where":           {where},
		"returnCountOnly": {"true"},
	}
	var out countResponse
	if err := c.get(ctx, fmt.Sprintf("/%d/query", layerID), params, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

type queryResponse struct {
	Features []struct {
		Attributes map[string]any `json:"attributes"`
	} `json:"features"`
	ExceededTransferLimit bool `json:"exceededTransferLimit"`
}

// QueryFeatures fetches one page of features.
func (c *ArcGISClient) QueryFeatures(ctx context.Context, layerID int, q Query) (*FeaturePage, error) {
	where := q.Where
	if where == "" {
		where = "1=1"
	}
	outFields := "*"
	if len(q.OutFields) > 0 {
		outFields = strings.Join(q.OutFields, ",")
	}
	params := url.Values{
		"where":          {where},
		"outFields":      {outFields},
		"returnGeometry": {"false"},
		"resultOffset":   {strconv.Itoa(q.Offset)},
	}
	if q.Limit > 0 {
		params.Set("resultRecordCount", strconv.Itoa(q.Limit))
	}

	var out queryResponse
	if err := c.get(ctx, fmt.Sprintf("/%d/query", layerID), params, &out); err != nil {
		return nil, err
	}

	page := &FeaturePage{HasMore: out.ExceededTransferLimit}
	for _, f := range out.Features {
		feat := Feature{Attributes: f.Attributes}
		if id, ok := f.Attributes["OBJECTID"]; ok {
			feat.ID = fmt.Sprintf("%v", id)
		}
		page.Features = append(page.Features, feat)
	}
	return page, nil
}

// TestConnection verifies the service root responds.
func (c *ArcGISClient) TestConnection(ctx context.Context) (bool, string) {
	var out map[string]any
	if err := c.get(ctx, "", nil, &out); err != nil {
		return false, err.Error()
	}
	return true, "connection successful"
}
