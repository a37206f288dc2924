package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/op/go-logging.v1"

	"strand/internal/domain"
	"strand/internal/retry"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxAttempts    = 3

	requestIDHeader = "X-Request-Id"
)

// HTTP talks to one node.
type HTTP struct {
	Base string
	HTTP *http.Client

	// RequestTimeout bounds unary calls. Sync subscriptions are bounded by
	// their context only.
	RequestTimeout time.Duration

	// MaxAttempts is how often idempotent reads are tried when they fail
	// transiently.
	MaxAttempts int
	BaseDelay   time.Duration

	log *logging.Logger
}

var _ domain.Transport = (*HTTP)(nil)

func NewHTTP(base string, log *logging.Logger) *HTTP {
	if log == nil {
		log = logging.MustGetLogger("relay")
	}
	return &HTTP{
		Base:           base,
		HTTP:           http.DefaultClient,
		RequestTimeout: DefaultRequestTimeout,
		MaxAttempts:    DefaultMaxAttempts,
		BaseDelay:      retry.DefaultBaseDelay,
		log:            log,
	}
}

type createStreamRequest struct {
	Events []domain.Envelope `json:"events"`
}

type miniblocksResponse struct {
	Miniblocks []domain.Miniblock `json:"miniblocks"`
	Terminus   bool               `json:"terminus"`
}

type syncRequest struct {
	Cookies []domain.SyncCookie `json:"cookies"`
}

// errorBody is what a node sends with a non-2xx status.
type errorBody struct {
	Code    domain.Code `json:"code"`
	Message string      `json:"message"`
}

func (c *HTTP) CreateStream(
	ctx context.Context,
	streamID domain.StreamID,
	events []domain.Envelope,
) (domain.StreamAndCookie, error) {
	var out domain.StreamAndCookie
	err := c.post(ctx, streamPath(streamID), createStreamRequest{Events: events}, &out)
	return out, err
}

func (c *HTTP) GetStream(ctx context.Context, streamID domain.StreamID) (domain.StreamAndCookie, error) {
	var out domain.StreamAndCookie
	err := c.getJSON(ctx, streamPath(streamID), &out)
	return out, err
}

func (c *HTTP) AddEvent(ctx context.Context, streamID domain.StreamID, envelope domain.Envelope) error {
	return c.post(ctx, streamPath(streamID)+"/events", envelope, nil)
}

func (c *HTTP) GetMiniblocks(
	ctx context.Context,
	streamID domain.StreamID,
	fromInclusive, toExclusive int64,
) ([]domain.Miniblock, bool, error) {
	q := url.Values{}
	q.Set("from", strconv.FormatInt(fromInclusive, 10))
	q.Set("to", strconv.FormatInt(toExclusive, 10))
	var out miniblocksResponse
	if err := c.getJSON(ctx, streamPath(streamID)+"/miniblocks?"+q.Encode(), &out); err != nil {
		return nil, false, err
	}
	return out.Miniblocks, out.Terminus, nil
}

func (c *HTTP) GetLastMiniblockHash(ctx context.Context, streamID domain.StreamID) (domain.LastMiniblock, error) {
	var out domain.LastMiniblock
	err := c.getJSON(ctx, streamPath(streamID)+"/last", &out)
	return out, err
}

// SyncStreams opens a subscription. The response body stays open until the
// node ends the round, ctx is done or the subscription is closed.
func (c *HTTP) SyncStreams(ctx context.Context, cookies []domain.SyncCookie) (domain.SyncSubscription, error) {
	body, err := json.Marshal(syncRequest{Cookies: cookies})
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/sync", body)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(req, resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return &subscription{body: resp.Body, dec: json.NewDecoder(resp.Body)}, nil
}

func (c *HTTP) post(ctx context.Context, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.RequestTimeout)
	defer cancel()
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// getJSON retries transient failures, since reads are idempotent.
func (c *HTTP) getJSON(ctx context.Context, path string, out any) error {
	attempts := max(c.MaxAttempts, 1)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := retry.Delay(c.BaseDelay, retry.DefaultMaxDelay, retry.DefaultJitter, attempt-1)
			c.log.Debugf("get %s failed, retrying in %s: %v", path, delay, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		err = c.getOnce(ctx, path, out)
		if err == nil || ctx.Err() != nil || !retry.IsTransientError(err) {
			return err
		}
	}
	return err
}

func (c *HTTP) getOnce(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.RequestTimeout)
	defer cancel()
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *HTTP) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(requestIDHeader, uuid.NewString())
	return req, nil
}

func (c *HTTP) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(req, resp); err != nil {
		return err
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func checkStatus(req *http.Request, resp *http.Response) error {
	if resp.StatusCode/100 == 2 {
		return nil
	}
	var eb errorBody
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(b, &eb) == nil && eb.Code != domain.CodeUnspecified {
		return domain.NewError(eb.Code, "%s", eb.Message)
	}
	return fmt.Errorf("relay %s %s: %s", req.Method, req.URL.Path, resp.Status)
}

func streamPath(id domain.StreamID) string {
	return "/streams/" + url.PathEscape(string(id))
}

// subscription reads newline-delimited SyncResponses.
type subscription struct {
	body io.ReadCloser
	dec  *json.Decoder
}

func (s *subscription) Recv() (domain.SyncResponse, error) {
	var resp domain.SyncResponse
	if err := s.dec.Decode(&resp); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return resp, fmt.Errorf("sync stream truncated: %w", err)
		}
		return resp, err
	}
	return resp, nil
}

func (s *subscription) Close() error { return s.body.Close() }
