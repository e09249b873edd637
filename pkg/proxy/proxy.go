package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cpwebapi/cpwebapi-go/internal/log"
	"github.com/cpwebapi/cpwebapi-go/pkg/protocol"
	"github.com/cpwebapi/cpwebapi-go/pkg/session"
)

const (
	DefaultTimeout = 10 * time.Second
	// PathPrefix is stripped from request paths before they are resolved against the session's
	// base URL.
	PathPrefix          = "/v1/api/"
	maxRequestBodyBytes = 1024 * 1024
)

// Proxy exposes an HTTP API that forwards signed requests to the Client Portal Web API.
type Proxy struct {
	Timeout time.Duration

	session *session.Session
}

// New creates an http proxy that signs requests using s.
func New(s *session.Session) *Proxy {
	return &Proxy{
		Timeout: DefaultTimeout,
		session: s,
	}
}

// Response is returned to clients when the proxy cannot relay an upstream response.
type Response struct {
	Error      string `json:"error"`
	ErrDetails string `json:"error_description,omitempty"`
}

func writeJSONError(w http.ResponseWriter, code int, err error) {
	reply := Response{Error: http.StatusText(code)}

	var httpErr *protocol.HttpError
	if errors.As(err, &httpErr) {
		// Relay errors returned by the API as-is.
		log.Warning("Upstream returned %d", httpErr.Code)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(httpErr.Code)
		fmt.Fprintln(w, httpErr.Message)
		return
	}
	if err != nil {
		reply.ErrDetails = err.Error()
	}
	jsonBytes, err := json.Marshal(&reply)
	if err != nil {
		log.Error("Error serializing reply %+v: %s", &reply, err)
		code = http.StatusInternalServerError
		jsonBytes = []byte("{\"error\": \"internal server error\"}")
	}
	log.Error("Returning error %s", http.StatusText(code))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	jsonBytes = append(jsonBytes, '\n')
	w.Write(jsonBytes)
}

// errorStatus maps an error from the session to the status code returned to the client.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case protocol.IsCredentialError(err):
		return http.StatusUnauthorized
	case errors.Is(err, protocol.ErrMissingCredentials):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// parseRequest translates an incoming request into a session.Request. Query parameters must be
// single-valued. Bodies may be JSON objects or URL-encoded forms.
func parseRequest(req *http.Request) (*session.Request, error) {
	request := &session.Request{}

	query := req.URL.Query()
	if len(query) > 0 {
		request.Params = make(map[string]string, len(query))
		for k, v := range query {
			if len(v) != 1 {
				return nil, fmt.Errorf("query parameter %s must have exactly one value", k)
			}
			request.Params[k] = v[0]
		}
	}

	if req.Body == nil {
		return request, nil
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, maxRequestBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("could not read request body: %s", err)
	}
	if len(body) > maxRequestBodyBytes {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxRequestBodyBytes)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return request, nil
	}

	mediaType := "application/json"
	if contentType := req.Header.Get("Content-Type"); contentType != "" {
		if mediaType, _, err = mime.ParseMediaType(contentType); err != nil {
			return nil, fmt.Errorf("invalid Content-Type: %s", err)
		}
	}
	switch mediaType {
	case "application/json":
		decoder := json.NewDecoder(bytes.NewReader(body))
		decoder.UseNumber()
		if err := decoder.Decode(&request.Body); err != nil {
			return nil, fmt.Errorf("request body must be a JSON object: %s", err)
		}
	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("could not parse form data: %s", err)
		}
		request.FormData = make(map[string]string, len(values))
		for k, v := range values {
			if len(v) != 1 {
				return nil, fmt.Errorf("form field %s must have exactly one value", k)
			}
			request.FormData[k] = v[0]
		}
	default:
		return nil, fmt.Errorf("unsupported Content-Type %s", mediaType)
	}
	return request, nil
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	log.Info("Received %s request for %s", req.Method, req.URL.Path)

	switch req.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, nil)
		return
	}

	endpoint, ok := strings.CutPrefix(req.URL.Path, PathPrefix)
	if !ok || endpoint == "" {
		writeJSONError(w, http.StatusNotFound, fmt.Errorf("expected path under %s", PathPrefix))
		return
	}

	request, err := parseRequest(req)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), p.Timeout)
	defer cancel()

	body, err := p.forward(ctx, req.Method, endpoint, request)
	if err != nil {
		var httpErr *protocol.HttpError
		if errors.As(err, &httpErr) {
			writeJSONError(w, httpErr.Code, err)
		} else {
			writeJSONError(w, errorStatus(err), err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// forward sends request upstream. A 401 usually means the server no longer accepts the live
// session token, so the token is dropped and the request is sent once more with a fresh one. Other
// failures are returned to the client, which can consult the status code to decide whether to
// resend.
func (p *Proxy) forward(ctx context.Context, method, endpoint string, request *session.Request) ([]byte, error) {
	log.Debug("Forwarding %s request to %s", method, endpoint)
	body, err := p.session.Do(ctx, method, endpoint, request)

	var httpErr *protocol.HttpError
	if errors.As(err, &httpErr) && httpErr.Code == http.StatusUnauthorized {
		log.Info("Live session token rejected, requesting a new one")
		p.session.Invalidate()
		body, err = p.session.Do(ctx, method, endpoint, request)
	}
	return body, err
}
