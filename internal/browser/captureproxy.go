// internal/browser/captureproxy.go
package browser

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"

	fitnet "github.com/xkilldash9x/fitbridge/internal/network"
	certs "github.com/xkilldash9x/fitbridge/internal/security"
)

// maxCaptureBody bounds how much of a matched response the proxy inspects.
// Auth payloads are tiny; anything larger is not what we are looking for.
const maxCaptureBody = 1 << 20

// ProxyCapture is the interception fallback for environments where devtools
// response bodies are unavailable. It runs a local MITM proxy, routes the
// browser through it, and feeds matched response bodies into the same
// Recorder the devtools path uses. Traffic is observed, never modified.
type ProxyCapture struct {
	logger   *zap.Logger
	recorder *Recorder

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	addr     string
	ca       *certs.CA
}

// NewProxyCapture creates a capture proxy feeding the given recorder.
func NewProxyCapture(recorder *Recorder, logger *zap.Logger) *ProxyCapture {
	return &ProxyCapture{
		logger:   logger.Named("capture_proxy"),
		recorder: recorder,
	}
}

// Start binds the proxy to listenAddr and begins serving. The effective
// address (relevant with a ":0" port) is available from Addr afterwards.
func (p *ProxyCapture) Start(listenAddr string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.srv != nil {
		return errors.New("capture proxy is already running")
	}

	// Each run gets its own throwaway CA; the launcher tells the browser to
	// ignore certificate errors when proxied, and callers that verify can
	// trust CAPool instead.
	ca, err := certs.NewEphemeralCA()
	if err != nil {
		return fmt.Errorf("generating capture proxy CA: %w", err)
	}
	tlsCert := ca.TLSCertificate()
	mitm := &goproxy.ConnectAction{
		Action:    goproxy.ConnectMitm,
		TLSConfig: goproxy.TLSConfigFromCA(&tlsCert),
	}

	proxy := goproxy.NewProxyHttpServer()
	proxy.OnRequest().HandleConnect(goproxy.FuncHttpsHandler(
		func(host string, _ *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
			return mitm, host
		}))
	// The proxy terminates TLS itself, so upstream verification is a local
	// policy choice; login targets are routinely staging hosts with private
	// certificates.
	proxy.Tr = &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	proxy.OnRequest().DoFunc(func(req *http.Request, _ *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		// Upstream responses must stay parseable; asking for identity
		// encoding avoids decompressing every matched body.
		req.Header.Del("Accept-Encoding")
		return req, nil
	})
	proxy.OnResponse().DoFunc(p.interceptResponse)

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("binding capture proxy listener: %w", err)
	}

	p.listener = listener
	p.addr = listener.Addr().String()
	p.ca = ca
	p.srv = &http.Server{Handler: proxy}

	go func() {
		if err := p.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("Capture proxy stopped unexpectedly.", zap.Error(err))
		}
	}()

	p.logger.Debug("Capture proxy listening.", zap.String("addr", p.addr))
	return nil
}

// Addr returns the proxy's listen address, empty before Start.
func (p *ProxyCapture) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addr
}

// CAPool returns the pool holding the run's interception CA, nil before
// Start. Clients routed through the proxy can verify against it instead of
// disabling certificate checks.
func (p *ProxyCapture) CAPool() *x509.CertPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ca == nil {
		return nil
	}
	return p.ca.CertPool
}

// interceptResponse inspects responses from the auth endpoints and hands
// their bodies to the recorder. The response continues to the browser intact.
func (p *ProxyCapture) interceptResponse(resp *http.Response, pctx *goproxy.ProxyCtx) *http.Response {
	if resp == nil || pctx.Req == nil || pctx.Req.URL == nil {
		return resp
	}

	url := pctx.Req.URL.String()
	if _, ok := p.recorder.classify(url); !ok {
		return resp
	}
	if resp.StatusCode >= 400 || resp.Body == nil {
		return resp
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCaptureBody))
	if err != nil {
		p.logger.Debug("Failed reading matched response body.", zap.String("url", url), zap.Error(err))
		return resp
	}
	// Re-assemble the body so the browser still receives everything,
	// including any remainder past the inspection limit.
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(body), resp.Body), resp.Body}

	data := body
	if encoding := resp.Header.Get("Content-Encoding"); encoding != "" {
		if decoded, err := fitnet.DecompressBody(data, encoding); err == nil {
			data = decoded
		} else {
			p.logger.Debug("Could not decompress matched response body.",
				zap.String("url", url),
				zap.String("encoding", encoding),
				zap.Error(err))
		}
	}

	p.recorder.Ingest(url, data)
	return resp
}

// Stop shuts the proxy down, waiting for active connections within ctx.
func (p *ProxyCapture) Stop(ctx context.Context) error {
	p.mu.Lock()
	srv := p.srv
	p.srv = nil
	p.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down capture proxy: %w", err)
	}
	return nil
}
