// Package cpclient talks to a running daemon over its control plane.
package cpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"runtime"
	"time"

	"github.com/goccy/go-json"
	"github.com/imroc/req/v3"
	"github.com/openmined/vaultsync/internal/client/handlers"
	"github.com/openmined/vaultsync/internal/version"
)

const (
	v1Status      = "/v1/status"
	v1Sync        = "/v1/sync"
	v1SyncRemote  = "/v1/sync/remote"
	v1SyncFiles   = "/v1/sync/files"
	v1SyncFile    = "/v1/sync/file"
	v1Reconcile   = "/v1/reconcile"
	v1Conflicts   = "/v1/conflicts"
	v1Conflict    = "/v1/conflicts/{id}"
	v1Resolve     = "/v1/conflicts/{id}/resolve"
	v1Settings    = "/v1/settings"
	v1Logs        = "/v1/logs"
	clientTimeout = 10 * time.Minute
)

var userAgent = fmt.Sprintf("%s/%s (%s; %s)", version.AppName, version.Version, runtime.GOOS, runtime.GOARCH)

// APIError is a non 2xx answer from the control plane.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("control plane %d %s: %s", e.Status, e.Code, e.Message)
}

type Client struct {
	client *req.Client
}

// New returns a client for the daemon listening on addr. A wildcard host is
// reached over loopback.
func New(addr, token string) (*Client, error) {
	baseURL, err := BaseURL(addr)
	if err != nil {
		return nil, err
	}

	c := req.C().
		SetBaseURL(baseURL).
		SetTimeout(clientTimeout).
		SetUserAgent(userAgent).
		SetCommonErrorResult(&handlers.ControlPlaneError{}).
		SetJsonMarshal(json.Marshal).
		SetJsonUnmarshal(json.Unmarshal)
	if token != "" {
		c.SetCommonBearerAuthToken(token)
	}
	return &Client{client: c}, nil
}

// BaseURL turns a listen address into a dialable url.
func BaseURL(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("control plane address %q: %w", addr, err)
	}
	if port == "" {
		return "", fmt.Errorf("control plane address %q has no port", addr)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	u := url.URL{Scheme: "http", Host: net.JoinHostPort(host, port)}
	return u.String(), nil
}

func (c *Client) Status(ctx context.Context) (resp *handlers.StatusResponse, err error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetSuccessResult(&resp).
		Get(v1Status)
	return resp, handleAPIError(res, err, "status")
}

func (c *Client) Sync(ctx context.Context) (resp *handlers.SyncResponse, err error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetSuccessResult(&resp).
		Post(v1Sync)
	return resp, handleAPIError(res, err, "sync")
}

func (c *Client) CheckRemote(ctx context.Context) (resp *handlers.RemoteCheckResponse, err error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetSuccessResult(&resp).
		Post(v1SyncRemote)
	return resp, handleAPIError(res, err, "remote check")
}

func (c *Client) Reconcile(ctx context.Context) (resp *handlers.ReconcileResponse, err error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetSuccessResult(&resp).
		Post(v1Reconcile)
	return resp, handleAPIError(res, err, "reconcile")
}

func (c *Client) Files(ctx context.Context, prefix string) (resp *handlers.SyncFilesResponse, err error) {
	r := c.client.R().
		SetContext(ctx).
		SetSuccessResult(&resp)
	if prefix != "" {
		r.SetQueryParam("prefix", prefix)
	}
	res, err := r.Get(v1SyncFiles)
	return resp, handleAPIError(res, err, "files")
}

func (c *Client) File(ctx context.Context, path string) (resp *handlers.SyncFileStatus, err error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("path", path).
		SetSuccessResult(&resp).
		Get(v1SyncFile)
	return resp, handleAPIError(res, err, "file status")
}

func (c *Client) Conflicts(ctx context.Context) (resp *handlers.ConflictsResponse, err error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetSuccessResult(&resp).
		Get(v1Conflicts)
	return resp, handleAPIError(res, err, "conflicts")
}

func (c *Client) Conflict(ctx context.Context, id string) (resp *handlers.ConflictItem, err error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetSuccessResult(&resp).
		Get(v1Conflict)
	return resp, handleAPIError(res, err, "conflict")
}

// Resolve applies a resolution. content is only sent for manual resolutions.
func (c *Client) Resolve(ctx context.Context, id, resolution string, content *string) (resp *handlers.ResolveConflictResponse, err error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetBody(&handlers.ResolveConflictRequest{Resolution: resolution, Content: content}).
		SetSuccessResult(&resp).
		Post(v1Resolve)
	return resp, handleAPIError(res, err, "resolve")
}

func (c *Client) Settings(ctx context.Context) (resp *handlers.SettingsResponse, err error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetSuccessResult(&resp).
		Get(v1Settings)
	return resp, handleAPIError(res, err, "settings")
}

func (c *Client) UpdateSettings(ctx context.Context, update *handlers.UpdateSettingsRequest) (resp *handlers.SettingsResponse, err error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetBody(update).
		SetSuccessResult(&resp).
		Put(v1Settings)
	return resp, handleAPIError(res, err, "update settings")
}

func (c *Client) Logs(ctx context.Context, startingToken int64, maxResults int) (resp *handlers.LogsResponse, err error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("startingToken", fmt.Sprint(startingToken)).
		SetQueryParam("maxResults", fmt.Sprint(maxResults)).
		SetSuccessResult(&resp).
		Get(v1Logs)
	return resp, handleAPIError(res, err, "logs")
}

func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("%s: %w", operation, requestErr)
	}

	if resp.IsErrorState() {
		apiErr := &APIError{Status: resp.StatusCode, Message: resp.Status}
		if e, ok := resp.ErrorResult().(*handlers.ControlPlaneError); ok && e.ErrorCode != "" {
			apiErr.Code = e.ErrorCode
			apiErr.Message = e.Error
		}
		return fmt.Errorf("%s: %w", operation, apiErr)
	}
	return nil
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
