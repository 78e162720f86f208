// Package portal calls institution portals to look up a student's record.
package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrBadResponse is returned when the portal answers with a non-2xx status
// or a body that is not JSON.
var ErrBadResponse = errors.New("portal: unexpected response")

// Client is a thin resty wrapper.  One Client serves every institution; the
// base URL and key are per call.
type Client struct {
	http *resty.Client
}

// New returns a Client whose requests time out after timeout.
func New(timeout time.Duration) *Client {
	rc := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(1).
		SetRetryWaitTime(200 * time.Millisecond)
	return &Client{http: rc}
}

// FetchStudent GETs {baseURL}/{roll} with the API key as bearer token and
// returns the JSON body.
func (c *Client) FetchStudent(ctx context.Context, baseURL, apiKey, roll string) (json.RawMessage, error) {
	endpoint := strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(roll)
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(apiKey).
		Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("portal: request: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode())
	}
	body := resp.Body()
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: body is not JSON", ErrBadResponse)
	}
	return json.RawMessage(body), nil
}
