// Package indexer talks to the remote SQL-like indexer that snapshots on-chain tables.
package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

var (
	errMissingEndpoint = errors.New("indexer: endpoint is required")
	// ErrColumnMismatch indicates the indexer returned a header that differs from the expected SELECT list.
	ErrColumnMismatch = errors.New("indexer: column mismatch")
)

// HTTPDoer executes a prepared request.
type HTTPDoer interface {
	Do(request *http.Request) (*http.Response, error)
}

// RequestError reports a failed indexer round trip.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	if strings.TrimSpace(e.Body) != "" {
		return e.Body
	}
	return fmt.Sprintf("indexer request failed with status %d", e.StatusCode)
}

// Record is a single row keyed by column name. Values stay loosely typed.
type Record map[string]gjson.Result

// Result is one resultset: a column header plus positional rows.
type Result struct {
	Columns []string
	Rows    []gjson.Result
}

// Empty reports whether the resultset carries no rows.
func (r Result) Empty() bool {
	return len(r.Rows) == 0
}

// Records zips rows with the header. When expected columns are supplied the header must match
// them exactly (same names, same order) or ErrColumnMismatch is returned. An empty result never
// fails the assertion.
func (r Result) Records(expected ...string) ([]Record, error) {
	if len(r.Columns) == 0 {
		return []Record{}, nil
	}
	if len(expected) > 0 && !sameColumns(r.Columns, expected) {
		return nil, fmt.Errorf("%w: got %v, want %v", ErrColumnMismatch, r.Columns, expected)
	}
	records := make([]Record, 0, len(r.Rows))
	for _, row := range r.Rows {
		values := row.Array()
		record := make(Record, len(r.Columns))
		for index, column := range r.Columns {
			if index < len(values) {
				record[column] = values[index]
				continue
			}
			record[column] = gjson.Result{}
		}
		records = append(records, record)
	}
	return records, nil
}

func sameColumns(actual, expected []string) bool {
	if len(actual) != len(expected) {
		return false
	}
	for index := range actual {
		if actual[index] != expected[index] {
			return false
		}
	}
	return true
}

// ClientConfig describes the dependencies of Client.
type ClientConfig struct {
	Endpoint   string
	HTTPClient HTTPDoer
	Logger     *zap.Logger
}

// Client sends one query per request to a fixed endpoint.
type Client struct {
	endpoint   string
	httpClient HTTPDoer
	logger     *zap.Logger
}

// NewClient validates the configuration and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errMissingEndpoint
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{endpoint: endpoint, httpClient: httpClient, logger: logger}, nil
}

type queryPayload struct {
	Query   string `json:"query"`
	Address string `json:"address"`
}

// Query sends queryText for the world at address and returns the first resultset.
func (c *Client) Query(ctx context.Context, queryText, address string) (Result, error) {
	body, err := json.Marshal([]queryPayload{{Query: queryText, Address: address}})
	if err != nil {
		return Result{}, err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("indexer request failed", zap.Error(err))
		return Result{}, err
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return Result{}, err
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		c.logger.Warn("indexer returned non-success status", zap.Int("status", response.StatusCode))
		return Result{}, &RequestError{StatusCode: response.StatusCode, Body: string(responseBody)}
	}
	return decodeEnvelope(response.StatusCode, responseBody)
}

// RunQuery returns the rows of the first resultset as keyed records without a column assertion.
func (c *Client) RunQuery(ctx context.Context, queryText, address string) ([]Record, error) {
	result, err := c.Query(ctx, queryText, address)
	if err != nil {
		return nil, err
	}
	return result.Records()
}

func decodeEnvelope(statusCode int, body []byte) (Result, error) {
	if !gjson.ValidBytes(body) {
		return Result{}, &RequestError{StatusCode: statusCode, Body: "malformed indexer envelope"}
	}
	outer := gjson.GetBytes(body, "result")
	if !outer.IsArray() {
		return Result{}, &RequestError{StatusCode: statusCode, Body: "indexer envelope missing result array"}
	}
	resultsets := outer.Array()
	if len(resultsets) == 0 {
		return Result{}, nil
	}
	resultset := resultsets[0].Array()
	if len(resultset) == 0 || !resultset[0].IsArray() {
		return Result{}, nil
	}
	header := resultset[0].Array()
	columns := make([]string, 0, len(header))
	for _, column := range header {
		columns = append(columns, column.String())
	}
	if len(columns) == 0 {
		return Result{}, nil
	}
	return Result{Columns: columns, Rows: resultset[1:]}, nil
}
