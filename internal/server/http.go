package server

import (
	"net/http"

	"github.com/muurk/netbridge/internal/host"
	"github.com/muurk/netbridge/internal/logging"
	"github.com/muurk/netbridge/internal/transport"
	"go.uber.org/zap"
)

// ErrAlreadyReplied is returned by Reply when the request was answered before.
var ErrAlreadyReplied = transport.ErrAlreadyReplied

// ErrRequestExpired is returned by Reply after the request timed out or was
// abandoned by the client.
var ErrRequestExpired = transport.ErrRequestExpired

// PendingRequest is a plain HTTP request waiting for the host's reply.
type PendingRequest struct {
	Method     string
	URL        string
	Path       string
	Header     http.Header
	Body       []byte
	RemoteAddr string

	native *transport.HTTPRequest
}

func newPendingRequest(req *transport.HTTPRequest) *PendingRequest {
	return &PendingRequest{
		Method:     req.Method,
		URL:        req.URL,
		Path:       req.Path,
		Header:     req.Header,
		Body:       req.Body,
		RemoteAddr: req.RemoteAddr,
		native:     req,
	}
}

func (r *PendingRequest) String() string {
	return r.Method + " " + r.URL + " from " + r.RemoteAddr
}

// Answered reports whether the request has been replied to or has expired.
func (r *PendingRequest) Answered() bool {
	return r.native.Answered()
}

// Reply sends the host's response for req back to the connection it arrived
// on. Only the first reply succeeds.
func (s *Server) Reply(req *PendingRequest, status int, header http.Header, body []byte) error {
	if err := req.native.Respond(transport.Response{
		Status: status,
		Header: header,
		Body:   body,
	}); err != nil {
		logging.Debug("Reply rejected",
			zap.String("remote_addr", req.RemoteAddr),
			zap.String("path", req.Path),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// handleHTTPRequest hands a request to the host. If the host cannot take it
// the client gets 503 immediately instead of waiting for the reply timeout.
func (s *Server) handleHTTPRequest(req *transport.HTTPRequest) {
	pending := newPendingRequest(req)
	if err := s.deliver(s.object, host.HTTPRequestReceived, pending); err != nil {
		_ = req.Respond(transport.Response{Status: http.StatusServiceUnavailable})
	}
}
