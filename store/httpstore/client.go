/* Copyright 2026 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package httpstore talks to a remote record store over HTTP.
//
// The protocol is small:
//
//	GET    /api/asset/{tag}                  -> {"tag":...,"attributes":{...}} or 404
//	POST   /api/asset/{tag}                  attribute=KEY;VALUE (form)
//	DELETE /api/asset/{tag}/attribute/{key}
//
// Client is a core.EntityStore that speaks this protocol, Server
// serves it from any core.EntityStore, and DeferredAdapter composes
// shell commands that speak it later.
package httpstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Comcast/tortoise/core"
)

// APIPrefix is the path prefix for assets.
const APIPrefix = "/api/asset/"

// Client is a core.EntityStore backed by a remote record store.
type Client struct {
	// BaseURL is the scheme, host, and port (for example
	// "http://records:8080").
	BaseURL string

	Username string
	Password string

	// HTTP is the client used for requests.  NewClient gives it a
	// Jar so that session cookies survive between requests.
	HTTP *http.Client

	Debug  bool
	Logger *slog.Logger
}

// NewClient makes a Client with a cookie jar and the given timeout.
func NewClient(baseURL, username, password string, timeout time.Duration) (*Client, error) {
	jar, err := NewJar()
	if err != nil {
		return nil, err
	}
	return &Client{
		BaseURL:  strings.TrimSuffix(baseURL, "/"),
		Username: username,
		Password: password,
		HTTP: &http.Client{
			Jar:     jar,
			Timeout: timeout,
		},
		Logger: slog.Default(),
	}, nil
}

func (c *Client) logf(msg string, args ...interface{}) {
	if c.Debug {
		c.Logger.Debug("httpstore "+msg, args...)
	}
}

// AssetPath returns the path for the given tag.
func AssetPath(tag string) string {
	return APIPrefix + url.PathEscape(tag)
}

// AttributePath returns the path for deleting the given attribute.
func AttributePath(tag, key string) string {
	return AssetPath(tag) + "/attribute/" + url.PathEscape(key)
}

// AttributeForm is the form body that sets an attribute.
func AttributeForm(key, value string) string {
	return url.Values{"attribute": {key + ";" + value}}.Encode()
}

func (c *Client) do(ctx context.Context, method, path, body string) (int, []byte, error) {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, r)
	if err != nil {
		return 0, nil, err
	}
	if c.Username != "" || c.Password != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	c.logf("request", "method", method, "path", path)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	bs, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%s %s: reading body: %w", method, path, err)
	}
	c.logf("response", "method", method, "path", path, "status", resp.StatusCode)
	return resp.StatusCode, bs, nil
}

func ok(status int) bool {
	return 200 <= status && status < 300
}

// Get implements core.EntityStore.
func (c *Client) Get(ctx context.Context, id string) (*core.Entity, error) {
	status, bs, err := c.do(ctx, http.MethodGet, AssetPath(id), "")
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, fmt.Errorf("asset %s: %w", id, core.ErrNotFound)
	case !ok(status):
		return nil, fmt.Errorf("asset %s: status %d: %s", id, status, bs)
	}
	var e core.Entity
	if err = json.Unmarshal(bs, &e); err != nil {
		return nil, fmt.Errorf("asset %s: %w", id, err)
	}
	if e.Tag == "" {
		e.Tag = id
	}
	return &e, nil
}

// SetAttribute implements core.EntityStore.  An unknown asset gives
// false.
func (c *Client) SetAttribute(ctx context.Context, id, key, value string) (bool, error) {
	status, bs, err := c.do(ctx, http.MethodPost, AssetPath(id), AttributeForm(key, value))
	if err != nil {
		return false, err
	}
	switch {
	case status == http.StatusNotFound:
		return false, nil
	case !ok(status):
		return false, fmt.Errorf("setting %s on %s: status %d: %s", key, id, status, bs)
	}
	return true, nil
}

// DeleteAttribute implements core.EntityStore.  An unknown asset
// gives false.
func (c *Client) DeleteAttribute(ctx context.Context, id, key string) (bool, error) {
	status, bs, err := c.do(ctx, http.MethodDelete, AttributePath(id, key), "")
	if err != nil {
		return false, err
	}
	switch {
	case status == http.StatusNotFound:
		return false, nil
	case !ok(status):
		return false, fmt.Errorf("deleting %s on %s: status %d: %s", key, id, status, bs)
	}
	return true, nil
}
