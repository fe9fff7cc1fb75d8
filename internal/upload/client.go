// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/relabs-tech/sensor_collector/internal/reading"
)

// Backend default credential. It is shared by every device and travels
// over plain HTTP unless the server address says otherwise; override it in
// the config file wherever the backend allows.
const (
	DefaultUser     = "user"
	DefaultPassword = "password"
)

const maxResponseBody = 1 << 20

// ErrEncode reports that the request body could not be built.
var ErrEncode = errors.New("failed to build JSON request")

// Mode selects one request per batch or one per record.
type Mode int

const (
	ModeBulk Mode = iota
	ModeRecord
)

// ParseMode maps a config value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "bulk":
		return ModeBulk, nil
	case "record":
		return ModeRecord, nil
	}
	return 0, fmt.Errorf("unknown upload mode %q (want bulk or record)", s)
}

func (m Mode) String() string {
	if m == ModeRecord {
		return "record"
	}
	return "bulk"
}

// Options configures a Client. Zero values pick the defaults.
type Options struct {
	Mode       Mode
	User       string
	Password   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client posts session records to the collection backend.
type Client struct {
	mode     Mode
	user     string
	password string
	http     *http.Client

	warnOnce sync.Once
}

// New builds a client.
func New(opts Options) *Client {
	c := &Client{
		mode:     opts.Mode,
		user:     opts.User,
		password: opts.Password,
		http:     opts.HTTPClient,
	}
	if c.user == "" && c.password == "" {
		c.user, c.password = DefaultUser, DefaultPassword
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		c.http = &http.Client{Timeout: timeout}
	}
	return c
}

// Mode returns the upload mode.
func (c *Client) Mode() Mode {
	return c.mode
}

// Result is the terminal outcome of one upload. There are no retries.
type Result struct {
	OK         bool   `json:"ok"`
	StatusCode int    `json:"statusCode,omitempty"`
	Body       string `json:"body,omitempty"`
	Err        error  `json:"-"`
	Sent       int    `json:"sent"` // records accepted by the server
	URL        string `json:"url,omitempty"`
}

// Status renders the result as operator-facing text.
func (r Result) Status() string {
	switch {
	case r.OK:
		if r.Body == "" {
			return "Upload success."
		}
		return "Upload success.\n" + r.Body
	case errors.Is(r.Err, ErrEncode):
		return "Error: Failed to build JSON request"
	case r.StatusCode != 0:
		msg := fmt.Sprintf("Upload failed: Status %d", r.StatusCode)
		if r.Body != "" {
			msg += "\n" + r.Body
		}
		return msg
	case r.Err != nil:
		return "Upload failed: " + r.Err.Error()
	}
	return "Upload failed"
}

// Upload sends records to server ("host:port" or a full base URL) in the
// client's mode.
func (c *Client) Upload(ctx context.Context, server string, records []reading.Record) Result {
	if c.mode == ModeRecord {
		return c.UploadEach(ctx, server, records)
	}
	return c.UploadBulk(ctx, server, records)
}

// UploadBulk posts the whole batch to /patient/{subject}/data/bulk.
func (c *Client) UploadBulk(ctx context.Context, server string, records []reading.Record) Result {
	target := endpoint(server, reading.SubjectOf(records), "data", "bulk")

	body, err := json.Marshal(reading.NewBulk(records))
	if err != nil {
		log.Printf("upload: failed to create JSON body for bulk upload: %v", err)
		return Result{Err: fmt.Errorf("%w: %v", ErrEncode, err), URL: target}
	}

	log.Printf("upload: uploading %d records to %s", len(records), target)
	res := c.post(ctx, target, body)
	if res.OK {
		res.Sent = len(records)
	}
	return res
}

// UploadEach posts every record to /patient/{subject}/data, in order.
// The first failure ends the batch.
func (c *Client) UploadEach(ctx context.Context, server string, records []reading.Record) Result {
	var last Result
	for i, rec := range records {
		target := endpoint(server, rec.SubjectID, "data")

		body, err := json.Marshal(rec)
		if err != nil {
			log.Printf("upload: failed to create JSON body for record %d: %v", i, err)
			return Result{Err: fmt.Errorf("%w: %v", ErrEncode, err), Sent: i, URL: target}
		}

		last = c.post(ctx, target, body)
		if !last.OK {
			last.Sent = i
			return last
		}
	}
	last.OK = true
	last.Sent = len(records)
	return last
}

func (c *Client) post(ctx context.Context, target string, body []byte) Result {
	res := Result{URL: target}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		res.Err = err
		return res
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.SetBasicAuth(c.user, c.password)

	if c.user == DefaultUser && c.password == DefaultPassword && req.URL.Scheme == "http" {
		c.warnOnce.Do(func() {
			log.Printf("upload: WARNING: sending the default backend credential over plain HTTP to %s", req.URL.Host)
		})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.Printf("upload: request to %s failed: %v", target, err)
		res.Err = err
		return res
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	res.StatusCode = resp.StatusCode
	res.Body = string(raw)
	if err != nil {
		res.Err = fmt.Errorf("read response: %w", err)
		return res
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Err = fmt.Errorf("server returned %s", resp.Status)
		log.Printf("upload: %s returned %d: %s", target, resp.StatusCode, res.Body)
		return res
	}
	res.OK = true
	log.Printf("upload: success: %s", res.Body)
	return res
}

// endpoint builds http://{server}/patient/{subject}/{parts...}.
func endpoint(server, subject string, parts ...string) string {
	base := strings.TrimRight(server, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	path := "/patient/" + url.PathEscape(subject)
	for _, p := range parts {
		path += "/" + p
	}
	return base + path
}
