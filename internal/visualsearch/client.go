package visualsearch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/alexeynavarkin/picsearch/internal/credential"
	"github.com/alexeynavarkin/picsearch/internal/metrics"
)

const (
	DefaultBaseURL = "https://aip.baidubce.com/rest/2.0/realtime_search/same_hq"

	defaultMaxResponseBytes = 4 << 20
)

// TokenSource hands out bearer tokens and accepts notice that one was
// rejected. *credential.Cache implements it.
type TokenSource interface {
	Token(ctx context.Context) (credential.Credential, error)
	Invalidate()
}

type Config struct {
	BaseURL string
	// QPS caps outbound calls; zero or negative disables the limit.
	QPS              float64
	Burst            int
	MaxResponseBytes int64
}

// Client talks to the remote same-image index. Registration and search use
// the same transport: a form-encoded body with a base64 image, the token in
// the query string.
//
// The index rejects images below its minimum pixel dimensions with
// CodeImageSize. Callers must supply images that meet the minimum: the
// client never resizes or pads.
type Client struct {
	httpClient *http.Client
	tokens     TokenSource
	baseURL    string
	limiter    *rate.Limiter
	maxBody    int64

	rec metrics.Recorder
	lg  *zap.Logger
}

func NewClient(httpClient *http.Client, tokens TokenSource, cfg Config, rec metrics.Recorder, lg *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if rec == nil {
		rec = metrics.Nop
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	limit := rate.Inf
	burst := cfg.Burst
	if cfg.QPS > 0 {
		limit = rate.Limit(cfg.QPS)
		if burst <= 0 {
			burst = 1
		}
	}
	maxBody := cfg.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = defaultMaxResponseBytes
	}

	return &Client{
		httpClient: httpClient,
		tokens:     tokens,
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(limit, burst),
		maxBody:    maxBody,
		rec:        rec,
		lg:         lg,
	}
}

type envelope struct {
	LogID     uint64 `json:"log_id"`
	ErrorCode int    `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

type addResponse struct {
	envelope
	ContentSign string `json:"cont_sign"`
}

type searchResponse struct {
	envelope
	HasMore   bool `json:"has_more"`
	ResultNum int  `json:"result_num"`
	Result    []struct {
		Score       float64 `json:"score"`
		Brief       string  `json:"brief"`
		ContentSign string  `json:"cont_sign"`
	} `json:"result"`
}

type Registration struct {
	ContentSign string
	LogID       uint64
}

// Register adds image to the index. brief is stored next to the
// fingerprint and returned by Search; it is not interpreted here.
func (c *Client) Register(ctx context.Context, image []byte, brief string) (reg Registration, err error) {
	defer metrics.Since(c.rec, metrics.StageRegister, time.Now(), &err)

	form := url.Values{}
	form.Set("image", base64.StdEncoding.EncodeToString(image))
	form.Set("brief", brief)

	resp, err := call[addResponse](ctx, c, KindRegistration, "add", form)
	if err != nil {
		return Registration{}, err
	}
	if resp.ContentSign == "" {
		return Registration{}, &Error{
			Kind:    KindRegistration,
			Code:    CodeNoSignature,
			Message: "response carries no cont_sign",
			Status:  http.StatusOK,
		}
	}

	c.lg.Info("image registered", zap.String("cont_sign", resp.ContentSign), zap.Uint64("log_id", resp.LogID))
	return Registration{ContentSign: resp.ContentSign, LogID: resp.LogID}, nil
}

// Search queries the index with image. An empty cursor means no match and
// is not an error.
func (c *Client) Search(ctx context.Context, image []byte) (matches *Matches, err error) {
	defer metrics.Since(c.rec, metrics.StageSearch, time.Now(), &err)

	form := url.Values{}
	form.Set("image", base64.StdEncoding.EncodeToString(image))

	resp, err := call[searchResponse](ctx, c, KindSearch, "search", form)
	if err != nil {
		return nil, err
	}

	items := make([]Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		items = append(items, Match{
			ContentSign: r.ContentSign,
			Score:       r.Score,
			Brief:       r.Brief,
		})
	}

	c.lg.Info("search done", zap.Int("matches", len(items)), zap.Uint64("log_id", resp.LogID))
	return NewMatches(items, resp.HasMore), nil
}

type enveloped interface {
	env() envelope
}

func (e envelope) env() envelope { return e }

// call performs one request and, if the token is rejected, invalidates it
// and retries exactly once.
func call[T any, PT interface {
	*T
	enveloped
}](ctx context.Context, c *Client, kind Kind, op string, form url.Values) (*T, error) {
	for attempt := 0; ; attempt++ {
		cred, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, &Error{Kind: kind, Transport: true, Message: "acquire token: " + err.Error(), Err: err}
		}

		status, body, err := c.post(ctx, op, cred.Token, form)
		if err != nil {
			return nil, &Error{Kind: kind, Transport: true, Status: status, Message: err.Error(), Err: err}
		}

		out := PT(new(T))
		decodeErr := json.Unmarshal(body, out)
		env := out.env()
		if attempt == 0 && tokenRejected(status, env.ErrorCode) {
			c.lg.Warn("token rejected, refreshing", zap.String("op", op), zap.Int("status", status), zap.Int("error_code", env.ErrorCode))
			c.tokens.Invalidate()
			continue
		}

		if decodeErr != nil {
			return nil, &Error{
				Kind:      kind,
				Transport: true,
				Status:    status,
				Message:   fmt.Sprintf("malformed response: %s", truncate(body, 256)),
				Err:       decodeErr,
			}
		}
		if env.ErrorCode != CodeOK {
			return nil, &Error{Kind: kind, Code: env.ErrorCode, Message: env.ErrorMsg, Status: status}
		}
		if status != http.StatusOK {
			return nil, &Error{Kind: kind, Transport: true, Status: status, Message: http.StatusText(status)}
		}
		return out, nil
	}
}

func (c *Client) post(ctx context.Context, op, token string, form url.Values) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}

	endpoint := c.baseURL + "/" + op + "?access_token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, redactToken(err, token)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	if int64(len(body)) > c.maxBody {
		return resp.StatusCode, nil, fmt.Errorf("response body exceeded limit of %d bytes", c.maxBody)
	}
	return resp.StatusCode, body, nil
}

func tokenRejected(status, code int) bool {
	return status == http.StatusUnauthorized || code == CodeTokenInvalid || code == CodeTokenExpired
}

// redactToken keeps the access token out of *url.Error messages.
func redactToken(err error, token string) error {
	var urlErr *url.Error
	if token == "" || !errors.As(err, &urlErr) {
		return err
	}
	redacted := *urlErr
	redacted.URL = strings.ReplaceAll(redacted.URL, url.QueryEscape(token), "REDACTED")
	return &redacted
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
