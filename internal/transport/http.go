package transport

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/muurk/netbridge/internal/logging"
	"github.com/muurk/netbridge/internal/obs"
	"go.uber.org/zap"
)

// maxRequestBody bounds the body read from a plain HTTP request.
const maxRequestBody = 1 << 20

var (
	// ErrAlreadyReplied is returned by Respond after the first reply.
	ErrAlreadyReplied = errors.New("request already replied")

	// ErrRequestExpired is returned by Respond once the request was answered
	// with a timeout or the client went away.
	ErrRequestExpired = errors.New("request expired")
)

const (
	requestPending int32 = iota
	requestReplied
	requestExpired
)

// Response is the host's answer to an HTTPRequest.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// HTTPRequest is a plain HTTP request received on a listening manager. The
// serving goroutine blocks until Respond is called or the reply timeout
// elapses.
type HTTPRequest struct {
	Method     string
	URL        string
	Path       string
	Header     http.Header
	Body       []byte
	RemoteAddr string

	state atomic.Int32
	reply chan Response
}

// Respond answers the request. Only the first call succeeds.
func (r *HTTPRequest) Respond(resp Response) error {
	if !r.state.CompareAndSwap(requestPending, requestReplied) {
		if r.state.Load() == requestExpired {
			return ErrRequestExpired
		}
		return ErrAlreadyReplied
	}
	r.reply <- resp
	return nil
}

// Answered reports whether the request has been replied to or expired.
func (r *HTTPRequest) Answered() bool {
	return r.state.Load() != requestPending
}

func (r *HTTPRequest) expire() bool {
	return r.state.CompareAndSwap(requestPending, requestExpired)
}

func newHTTPRequest(req *http.Request) (*HTTPRequest, error) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxRequestBody))
	if err != nil {
		return nil, err
	}
	return &HTTPRequest{
		Method:     req.Method,
		URL:        req.URL.String(),
		Path:       req.URL.Path,
		Header:     req.Header.Clone(),
		Body:       body,
		RemoteAddr: req.RemoteAddr,
		reply:      make(chan Response, 1),
	}, nil
}

// serveHTTP queues a plain request for the worker and waits for the reply.
func (m *Manager) serveHTTP(w http.ResponseWriter, r *http.Request) {
	logHTTPRequestDetails(r)

	req, err := newHTTPRequest(r)
	if err != nil {
		obs.HTTPRequestsTotal.WithLabelValues("bad_request").Inc()
		writeResponse(w, r.RemoteAddr, Response{Status: http.StatusBadRequest})
		return
	}

	if !m.emit(event{kind: eventHTTP, req: req}) {
		req.expire()
		obs.HTTPRequestsTotal.WithLabelValues("unavailable").Inc()
		writeResponse(w, r.RemoteAddr, Response{Status: http.StatusServiceUnavailable})
		return
	}

	timer := time.NewTimer(m.opts.ReplyTimeout)
	defer timer.Stop()

	select {
	case resp := <-req.reply:
		obs.HTTPRequestsTotal.WithLabelValues("replied").Inc()
		writeResponse(w, r.RemoteAddr, resp)
	case <-timer.C:
		if !req.expire() {
			// Respond won the race; its reply is already buffered.
			writeResponse(w, r.RemoteAddr, <-req.reply)
			return
		}
		obs.HTTPRequestsTotal.WithLabelValues("timeout").Inc()
		logging.Warn("No reply from host before timeout",
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("path", r.URL.Path),
			zap.Duration("timeout", m.opts.ReplyTimeout),
		)
		writeResponse(w, r.RemoteAddr, Response{Status: http.StatusGatewayTimeout})
	case <-r.Context().Done():
		req.expire()
		obs.HTTPRequestsTotal.WithLabelValues("abandoned").Inc()
	case <-m.closed:
		req.expire()
		obs.HTTPRequestsTotal.WithLabelValues("unavailable").Inc()
		writeResponse(w, r.RemoteAddr, Response{Status: http.StatusServiceUnavailable})
	}
}

func writeResponse(w http.ResponseWriter, remoteAddr string, resp Response) {
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	if resp.Body == nil && resp.Status >= 400 {
		resp.Body = []byte(http.StatusText(resp.Status) + "\n")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.WriteHeader(resp.Status)
	n, _ := w.Write(resp.Body)
	logging.LogHTTPResponse(remoteAddr, resp.Status, n)
}

// logHTTPRequestDetails logs all details of an HTTP request.
func logHTTPRequestDetails(req *http.Request) {
	headers := make(map[string]string)
	for key, values := range req.Header {
		headers[key] = strings.Join(values, ", ")
	}

	logging.LogHTTPRequest(req.RemoteAddr, req.Method, req.URL.Path, headers)

	logging.Debug("HTTP request details",
		zap.String("remote_addr", req.RemoteAddr),
		zap.String("host", req.Host),
		zap.String("origin", req.Header.Get("Origin")),
		zap.String("sec_websocket_key", req.Header.Get("Sec-WebSocket-Key")),
		zap.String("sec_websocket_version", req.Header.Get("Sec-WebSocket-Version")),
		zap.String("user_agent", req.Header.Get("User-Agent")),
	)
}
