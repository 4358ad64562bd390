// Package client provides a Go client for the whichdex API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a whichdex API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// New creates a new whichdex client
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// AnalyzeRequest asks the server to analyze one contract. Either Bytecode or
// Address must be set.
type AnalyzeRequest struct {
	RPCURL   string `json:"rpcUrl,omitempty"`
	Address  string `json:"address,omitempty"`
	Bytecode string `json:"bytecode,omitempty"`
}

// ProtocolCandidate is one of several protocols matching ambiguous bytecode
type ProtocolCandidate struct {
	Protocol   string `json:"protocol"`
	Confidence int    `json:"confidence"`
}

// Fingerprint describes the similarity digest of analyzed bytecode
type Fingerprint struct {
	Hash           string `json:"hash"`
	Version        string `json:"version"`
	OriginalSize   int    `json:"originalSize"`
	NormalizedSize int    `json:"normalizedSize"`
}

// BytecodeAnalysis is the classification and fingerprint of one bytecode blob
type BytecodeAnalysis struct {
	Address          string              `json:"address,omitempty"`
	CodeSize         int                 `json:"codeSize"`
	Protocol         string              `json:"protocol"`
	Candidates       []ProtocolCandidate `json:"protocolCandidates,omitempty"`
	IsPoolLikely     bool                `json:"isPoolLikely"`
	Fingerprint      *Fingerprint        `json:"fingerprint,omitempty"`
	FingerprintError string              `json:"fingerprintError,omitempty"`
	Selectors        []string            `json:"selectors,omitempty"`
}

// AnalyzeReport is the server's analysis of a contract
type AnalyzeReport struct {
	RPCURL                string            `json:"rpcUrl,omitempty"`
	Address               string            `json:"address,omitempty"`
	IsEIP1167Proxy        bool              `json:"isEip1167Proxy"`
	ImplementationAddress string            `json:"implementationAddress,omitempty"`
	Analysis              BytecodeAnalysis  `json:"analysis"`
	ProxyAnalysis         *BytecodeAnalysis `json:"proxyAnalysis,omitempty"`
	SelectorTableVersion  string            `json:"selectorTableVersion"`
}

// CompareRequest asks the server to compare two contracts
type CompareRequest struct {
	A AnalyzeRequest `json:"a"`
	B AnalyzeRequest `json:"b"`
}

// CompareSide describes the code compared for one side
type CompareSide struct {
	Address               string `json:"address,omitempty"`
	ImplementationAddress string `json:"implementationAddress,omitempty"`
	CodeSize              int    `json:"codeSize"`
	Protocol              string `json:"protocol"`
}

// CompareReport is the result of comparing two contracts
type CompareReport struct {
	A                CompareSide `json:"a"`
	B                CompareSide `json:"b"`
	Match            bool        `json:"match"`
	MatchType        string      `json:"matchType"`
	Message          string      `json:"message"`
	Distance         *int        `json:"distance,omitempty"`
	Similarity       string      `json:"similarity,omitempty"`
	FingerprintA     string      `json:"fingerprintA,omitempty"`
	FingerprintB     string      `json:"fingerprintB,omitempty"`
	FingerprintError string      `json:"fingerprintError,omitempty"`
	SameFamilyLikely bool        `json:"sameFamilyLikely"`
}

// Reference is a stored reference fingerprint of a known pool implementation
type Reference struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Protocol       string `json:"protocol"`
	ChainID        int64  `json:"chainId"`
	Address        string `json:"address,omitempty"`
	Fingerprint    string `json:"fingerprint"`
	DigestVersion  string `json:"digestVersion"`
	OriginalSize   int    `json:"originalSize"`
	NormalizedSize int    `json:"normalizedSize"`
	CreatedAt      string `json:"createdAt"`
}

// RegisterReferenceRequest registers a reference from inline bytecode or an address
type RegisterReferenceRequest struct {
	Name     string `json:"name"`
	Protocol string `json:"protocol,omitempty"`
	ChainID  int64  `json:"chainId"`
	Address  string `json:"address,omitempty"`
	RPCURL   string `json:"rpcUrl,omitempty"`
	Bytecode string `json:"bytecode,omitempty"`
}

// ListReferencesOptions filters and pages a reference listing
type ListReferencesOptions struct {
	Protocol string
	ChainID  int64
	Query    string
	Limit    int
	Cursor   string
}

func (o ListReferencesOptions) values() url.Values {
	v := url.Values{}
	if o.Protocol != "" {
		v.Set("protocol", o.Protocol)
	}
	if o.ChainID != 0 {
		v.Set("chainId", strconv.FormatInt(o.ChainID, 10))
	}
	if o.Query != "" {
		v.Set("q", o.Query)
	}
	if o.Limit > 0 {
		v.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Cursor != "" {
		v.Set("cursor", o.Cursor)
	}
	return v
}

// ListReferencesResponse is the response for listing references
type ListReferencesResponse struct {
	Data       []Reference `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// Pagination contains pagination info
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// Match is one stored reference close to a queried fingerprint
type Match struct {
	Reference        Reference `json:"reference"`
	Distance         int       `json:"distance"`
	Similarity       string    `json:"similarity"`
	SameFamilyLikely bool      `json:"sameFamilyLikely"`
}

// MatchResult lists the references near a fingerprint, closest first
type MatchResult struct {
	Fingerprint   string  `json:"fingerprint"`
	DigestVersion string  `json:"digestVersion"`
	Matches       []Match `json:"matches"`
}

// APIError represents an API error response
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Health checks that the server is up
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil)
}

// Analyze identifies the DEX protocol of a contract
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeReport, error) {
	var resp AnalyzeReport
	if err := c.post(ctx, "/api/v1/analyze", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Compare compares two contracts by structure and fingerprint distance
func (c *Client) Compare(ctx context.Context, req CompareRequest) (*CompareReport, error) {
	var resp CompareReport
	if err := c.post(ctx, "/api/v1/compare", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListReferences lists stored references
func (c *Client) ListReferences(ctx context.Context, opts ListReferencesOptions) (*ListReferencesResponse, error) {
	path := "/api/v1/references"
	if q := opts.values().Encode(); q != "" {
		path += "?" + q
	}

	var resp ListReferencesResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetReference gets a reference by id
func (c *Client) GetReference(ctx context.Context, id string) (*Reference, error) {
	var resp Reference
	if err := c.get(ctx, "/api/v1/references/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RegisterReference fingerprints and stores a new reference
func (c *Client) RegisterReference(ctx context.Context, req RegisterReferenceRequest) (*Reference, error) {
	var resp Reference
	if err := c.post(ctx, "/api/v1/references", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteReference removes a reference by id
func (c *Client) DeleteReference(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/v1/references/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// MatchReferences finds stored references near a fingerprint hash
func (c *Client) MatchReferences(ctx context.Context, fingerprint string, limit int) (*MatchResult, error) {
	body := struct {
		Fingerprint string `json:"fingerprint"`
		Limit       int    `json:"limit,omitempty"`
	}{fingerprint, limit}

	var resp MatchResult
	if err := c.post(ctx, "/api/v1/references/match", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.parseError(resp)
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}

func (c *Client) parseError(resp *http.Response) error {
	var errResp struct {
		Error APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error.Code == "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       "HTTP_" + strconv.Itoa(resp.StatusCode),
			Message:    resp.Status,
		}
	}
	errResp.Error.StatusCode = resp.StatusCode
	return &errResp.Error
}
