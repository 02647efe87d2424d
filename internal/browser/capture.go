// internal/browser/capture.go
package browser

import (
	"context"
	stdjson "encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fitbridge/internal/config"
)

const (
	// idleCheckInterval is how often the idle waiter samples in-flight requests.
	idleCheckInterval = 250 * time.Millisecond
	defaultQuietPeriod = 1500 * time.Millisecond
	bodyFetchTimeout   = 30 * time.Second
)

// jsonAPI decodes captured bodies; jsonNumAPI keeps numeric user ids as
// json.Number so their literal form survives the round trip.
var (
	jsonAPI    = jsoniter.ConfigCompatibleWithStandardLibrary
	jsonNumAPI = jsoniter.Config{UseNumber: true}.Froze()
)

type captureKind int

const (
	captureToken captureKind = iota
	captureUser
)

func (k captureKind) String() string {
	if k == captureToken {
		return "token"
	}
	return "user"
}

// CaptureResult is an immutable snapshot of the authentication material
// recovered during one login attempt. Token and user id arrive in separate
// responses; a result is only usable once both are present.
type CaptureResult struct {
	AccessToken  string
	RefreshToken string
	UserID       string

	// TokenSource and UserSource record the response URLs the material came
	// from, for diagnostics.
	TokenSource string
	UserSource  string
}

// HasToken reports whether bearer material was captured.
func (c CaptureResult) HasToken() bool { return c.AccessToken != "" }

// HasUser reports whether a user identity was captured.
func (c CaptureResult) HasUser() bool { return c.UserID != "" }

// Complete reports whether both halves of the session material are present.
func (c CaptureResult) Complete() bool { return c.HasToken() && c.HasUser() }

// pendingCapture tracks a matched request between its dispatch and the
// arrival of its body.
type pendingCapture struct {
	kind   captureKind
	url    string
	status int64
}

// Recorder passively observes the devtools network event stream of a single
// login attempt, recovering the bearer token and user identity from matched
// responses. It never injects, blocks or modifies traffic. A Recorder is
// scoped to one attempt; start the next attempt with a fresh one.
type Recorder struct {
	logger *zap.Logger
	cfg    config.CaptureConfig

	sessionCtx context.Context

	mu         sync.Mutex
	attached   bool
	activeReqs map[network.RequestID]struct{}
	pending    map[network.RequestID]pendingCapture
	result     CaptureResult

	// wg tracks in-flight response body fetches.
	wg sync.WaitGroup
}

// NewRecorder creates a Recorder matching the configured endpoint fragments.
func NewRecorder(cfg config.CaptureConfig, logger *zap.Logger) *Recorder {
	return &Recorder{
		logger:     logger.Named("capture"),
		cfg:        cfg,
		activeReqs: make(map[network.RequestID]struct{}),
		pending:    make(map[network.RequestID]pendingCapture),
	}
}

// Attach subscribes the recorder to the session's event stream. It must run
// before the first navigation so no early response can slip past.
func (r *Recorder) Attach(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attached {
		return errors.New("recorder is already attached")
	}
	r.attached = true
	r.sessionCtx = ctx

	chromedp.ListenTarget(ctx, r.handleEvent)
	return nil
}

// classify matches a URL against the configured endpoint fragments. The token
// fragment takes precedence when both match.
func (r *Recorder) classify(url string) (captureKind, bool) {
	if r.cfg.TokenURLFragment != "" && strings.Contains(url, r.cfg.TokenURLFragment) {
		return captureToken, true
	}
	if r.cfg.UserURLFragment != "" && strings.Contains(url, r.cfg.UserURLFragment) {
		return captureUser, true
	}
	return 0, false
}

// handleEvent is the devtools event dispatch. It runs on chromedp's listener
// goroutine and must not block; body retrieval happens on separate goroutines.
func (r *Recorder) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		r.onRequestWillBeSent(e)
	case *network.EventResponseReceived:
		r.onResponseReceived(e)
	case *network.EventLoadingFinished:
		r.onLoadingFinished(e)
	case *network.EventLoadingFailed:
		r.onLoadingFailed(e)
	}
}

func (r *Recorder) onRequestWillBeSent(e *network.EventRequestWillBeSent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.activeReqs[e.RequestID] = struct{}{}
	if e.Request == nil {
		return
	}
	if kind, ok := r.classify(e.Request.URL); ok {
		r.pending[e.RequestID] = pendingCapture{kind: kind, url: e.Request.URL}
	}
}

func (r *Recorder) onResponseReceived(e *network.EventResponseReceived) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[e.RequestID]
	if !ok || e.Response == nil {
		return
	}
	p.status = e.Response.Status
	r.pending[e.RequestID] = p
}

func (r *Recorder) onLoadingFinished(e *network.EventLoadingFinished) {
	r.mu.Lock()
	delete(r.activeReqs, e.RequestID)
	p, matched := r.pending[e.RequestID]
	delete(r.pending, e.RequestID)
	sessionCtx := r.sessionCtx
	r.mu.Unlock()

	if !matched || sessionCtx == nil {
		return
	}
	// Error responses from the auth endpoints carry no session material.
	if p.status >= 400 {
		r.logger.Debug("Skipping matched response with error status.",
			zap.String("kind", p.kind.String()),
			zap.Int64("status", p.status),
			zap.String("url", p.url))
		return
	}

	r.wg.Add(1)
	go r.fetchBody(e.RequestID, p)
}

func (r *Recorder) onLoadingFailed(e *network.EventLoadingFailed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.activeReqs, e.RequestID)
	delete(r.pending, e.RequestID)
}

// fetchBody pulls the response body over the devtools protocol. Bodies must
// be fetched before the target navigates away or the browser evicts them.
func (r *Recorder) fetchBody(id network.RequestID, p pendingCapture) {
	defer r.wg.Done()

	c := chromedp.FromContext(r.sessionCtx)
	if c == nil || c.Target == nil {
		return
	}

	fetchCtx, cancel := context.WithTimeout(r.sessionCtx, bodyFetchTimeout)
	defer cancel()

	body, err := network.GetResponseBody(id).Do(cdp.WithExecutor(fetchCtx, c.Target))
	if err != nil {
		r.logger.Debug("Response body unavailable.",
			zap.String("kind", p.kind.String()),
			zap.String("url", p.url),
			zap.Error(err))
		return
	}

	r.ingest(p.kind, p.url, body)
}

// Ingest parses a response body from outside the devtools event stream (the
// capture proxy fallback feeds through here). Unmatched URLs are ignored.
func (r *Recorder) Ingest(url string, body []byte) {
	kind, ok := r.classify(url)
	if !ok {
		return
	}
	r.ingest(kind, url, body)
}

// ingest merges parsed material into the attempt's result. Parsing is
// best-effort: bodies that do not carry the expected shape are ignored
// without failing the attempt.
func (r *Recorder) ingest(kind captureKind, url string, body []byte) {
	switch kind {
	case captureToken:
		access, refresh, ok := parseTokenBody(body)
		if !ok {
			r.logger.Debug("Token endpoint response had no usable token.", zap.String("url", url))
			return
		}
		r.mu.Lock()
		r.result.AccessToken = access
		r.result.RefreshToken = refresh
		r.result.TokenSource = url
		r.mu.Unlock()
		r.logger.Debug("Captured bearer token.", zap.String("url", url))

	case captureUser:
		userID, ok := parseUserBody(body)
		if !ok {
			r.logger.Debug("User endpoint response had no usable user id.", zap.String("url", url))
			return
		}
		r.mu.Lock()
		r.result.UserID = userID
		r.result.UserSource = url
		r.mu.Unlock()
		r.logger.Debug("Captured user identity.", zap.String("url", url))
	}
}

// Capture returns a snapshot of the material recovered so far.
func (r *Recorder) Capture() CaptureResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// inFlight returns the number of network requests currently outstanding.
func (r *Recorder) inFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.activeReqs)
}

// WaitNetworkIdle blocks until no request has been in flight for the quiet
// period, or the context ends. It is used after login completion to give the
// token and user responses time to land.
func (r *Recorder) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	if quiet <= 0 {
		quiet = defaultQuietPeriod
	}

	ticker := time.NewTicker(idleCheckInterval)
	defer ticker.Stop()

	timer := time.NewTimer(quiet)
	defer timer.Stop()

	isIdle := true
	if r.inFlight() > 0 {
		if !timer.Stop() {
			<-timer.C
		}
		isIdle = false
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			active := r.inFlight()
			if active > 0 && isIdle {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				isIdle = false
			} else if active == 0 && !isIdle {
				timer.Reset(quiet)
				isIdle = true
			}
		case <-timer.C:
			return nil
		}
	}
}

// Drain waits (bounded by ctx) for in-flight body fetches to finish.
func (r *Recorder) Drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("Gave up waiting for in-flight body fetches.")
	}
}

// -- Wire format parsing --

// tokenEnvelope mirrors the platform's token endpoint body:
//
//	{ "token": { "access_token": "...", "refresh_token": "..." } }
type tokenEnvelope struct {
	Token struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	} `json:"token"`
}

// userEnvelope mirrors the platform's user endpoint body:
//
//	{ "user": { "userId": 123 } }
//
// userId arrives as a string on some platform versions and a number on
// others, so it is decoded loosely and coerced.
type userEnvelope struct {
	User struct {
		UserID any `json:"userId"`
	} `json:"user"`
}

// parseTokenBody extracts bearer material from a token endpoint body.
// Unexpected shapes yield ok=false, never an error: interception is
// best-effort and unrelated responses routinely share the endpoint fragment.
func parseTokenBody(data []byte) (access, refresh string, ok bool) {
	var env tokenEnvelope
	if err := jsonAPI.Unmarshal(data, &env); err != nil {
		return "", "", false
	}
	if env.Token.AccessToken == "" {
		return "", "", false
	}
	return env.Token.AccessToken, env.Token.RefreshToken, true
}

// parseUserBody extracts the user id from a user endpoint body, coercing
// numeric ids to their decimal string form.
func parseUserBody(data []byte) (string, bool) {
	var env userEnvelope
	if err := jsonNumAPI.Unmarshal(data, &env); err != nil {
		return "", false
	}
	switch v := env.User.UserID.(type) {
	case string:
		return v, v != ""
	case stdjson.Number:
		return v.String(), true
	default:
		return "", false
	}
}
