// Package session implements an OAuth session with the Client Portal Web API.
//
// A Session obtains a live session token through a Diffie-Hellman exchange that is signed with the
// consumer's RSA key, then signs every request with HMAC-SHA256 keyed by that token. Tokens are
// acquired lazily on the first request and re-acquired once they expire.
//
// Sessions never retry failed requests. Use [protocol.ShouldRetry] to decide whether to do so.
package session

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cpwebapi/cpwebapi-go/internal/authentication"
	"github.com/cpwebapi/cpwebapi-go/internal/log"
	"github.com/cpwebapi/cpwebapi-go/pkg/protocol"
)

const (
	// DefaultBaseURL is the production Client Portal Web API.
	DefaultBaseURL = "https://api.ibkr.com/v1/api/"
	// DefaultRealm is used when Credentials.Realm is empty.
	DefaultRealm = "limited_poa"
	// MaxResponseLength is the largest response body a Session accepts.
	MaxResponseLength = 10 * 1024 * 1024

	liveSessionTokenEndpoint = "oauth/live_session_token"
)

// Credentials hold everything issued to a consumer during OAuth registration. The same RSA key
// may serve as SignatureKey and EncryptionKey.
type Credentials struct {
	Realm             string
	ConsumerKey       string
	AccessToken       string
	AccessTokenSecret string // base64, encrypted with EncryptionKey
	SignatureKey      *rsa.PrivateKey
	EncryptionKey     *rsa.PrivateKey
	DHParameters      *protocol.DHParameters
}

func (c *Credentials) validate() error {
	var missing []string
	if c.ConsumerKey == "" {
		missing = append(missing, "consumer key")
	}
	if c.AccessToken == "" {
		missing = append(missing, "access token")
	}
	if c.AccessTokenSecret == "" {
		missing = append(missing, "access token secret")
	}
	if c.SignatureKey == nil {
		missing = append(missing, "signature key")
	}
	if c.EncryptionKey == nil {
		missing = append(missing, "encryption key")
	}
	if c.DHParameters == nil {
		missing = append(missing, "DH parameters")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", protocol.ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

// Session signs and sends requests on behalf of a single consumer. A Session is safe for
// concurrent use.
type Session struct {
	// ID identifies the Session in log messages.
	ID        string
	UserAgent string

	creds   Credentials
	baseURL *url.URL
	client  *http.Client
	random  authentication.RandomSource
	clock   Clock

	// lstLock guards the token and is held while a new token is requested, so concurrent
	// requests trigger at most one handshake.
	lstLock          sync.Mutex
	liveSessionToken string
	expiration       time.Time
}

// An Option configures a Session.
type Option func(*Session) error

// WithBaseURL overrides DefaultBaseURL, for example to target a proxy.
func WithBaseURL(baseURL string) Option {
	return func(s *Session) error {
		u, err := url.Parse(baseURL)
		if err != nil {
			return fmt.Errorf("invalid base URL: %w", err)
		}
		if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return fmt.Errorf("invalid base URL '%s': expected http(s)://host/path/", baseURL)
		}
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		s.baseURL = u
		return nil
	}
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Session) error {
		s.client = client
		return nil
	}
}

// WithRandomSource replaces the source of nonces and DH private values.
func WithRandomSource(random authentication.RandomSource) Option {
	return func(s *Session) error {
		s.random = random
		return nil
	}
}

// WithClock replaces the clock used for timestamps and token expiry.
func WithClock(clock Clock) Option {
	return func(s *Session) error {
		s.clock = clock
		return nil
	}
}

// WithUserAgent prefixes the User-Agent header with app.
func WithUserAgent(app string) Option {
	return func(s *Session) error {
		s.UserAgent = buildUserAgent(app)
		return nil
	}
}

// WithLiveSessionToken resumes a Session using a token obtained earlier, typically loaded from a
// cache.SessionCache. The token is used until expiration.
func WithLiveSessionToken(token string, expiration time.Time) Option {
	return func(s *Session) error {
		s.liveSessionToken = token
		s.expiration = expiration
		return nil
	}
}

// WithTestMode makes nonces, DH private values and timestamps constant. Never use this against a
// production server.
func WithTestMode() Option {
	return func(s *Session) error {
		s.random = authentication.FixedRandom{}
		s.clock = FixedClock{}
		return nil
	}
}

// New creates a Session. No network traffic occurs until the first request.
func New(creds Credentials, options ...Option) (*Session, error) {
	if creds.Realm == "" {
		creds.Realm = DefaultRealm
	}
	if err := creds.validate(); err != nil {
		return nil, err
	}
	baseURL, err := url.Parse(DefaultBaseURL)
	if err != nil {
		return nil, err
	}
	s := &Session{
		ID:      uuid.NewString(),
		creds:   creds,
		baseURL: baseURL,
		client:  &http.Client{},
		random:  authentication.NewRandomSource(false),
		clock:   SystemClock{},
	}
	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}
	if _, ok := s.random.(authentication.FixedRandom); ok {
		log.Warning("[%s] Session is using fixed random values", s.ID)
	}
	if s.UserAgent == "" {
		s.UserAgent = buildUserAgent("")
	}
	return s, nil
}

// ConsumerKey returns the consumer key the Session authenticates as.
func (s *Session) ConsumerKey() string {
	return s.creds.ConsumerKey
}

// LiveSessionToken returns the current token and its expiration. The token is empty if none has
// been acquired.
func (s *Session) LiveSessionToken() (string, time.Time) {
	s.lstLock.Lock()
	defer s.lstLock.Unlock()
	return s.liveSessionToken, s.expiration
}

// Valid returns true if the Session holds a live session token that has not expired.
func (s *Session) Valid() bool {
	s.lstLock.Lock()
	defer s.lstLock.Unlock()
	return s.validLocked()
}

func (s *Session) validLocked() bool {
	if s.liveSessionToken == "" || s.expiration.IsZero() {
		return false
	}
	return !s.clock.Now().After(s.expiration)
}

// RequestLiveSessionToken performs the DH handshake and replaces the current token, even if it is
// still valid. If the server's signature over the new token does not verify, the Session is left
// without a token and protocol.ErrLiveSessionTokenInvalid is returned.
func (s *Session) RequestLiveSessionToken(ctx context.Context) error {
	s.lstLock.Lock()
	defer s.lstLock.Unlock()
	return s.requestLiveSessionTokenLocked(ctx)
}

type liveSessionTokenReply struct {
	DHResponse string `json:"diffie_hellman_response"`
	Signature  string `json:"live_session_token_signature"`
	Expiration int64  `json:"live_session_token_expiration"`
}

func (s *Session) requestLiveSessionTokenLocked(ctx context.Context) error {
	s.liveSessionToken = ""
	s.expiration = time.Time{}

	privateValue, err := s.random.DHPrivateValue()
	if err != nil {
		return fmt.Errorf("error generating DH private value: %w", err)
	}
	challenge, err := s.creds.DHParameters.Challenge(privateValue)
	if err != nil {
		return fmt.Errorf("error computing DH challenge: %w", err)
	}
	prepend, err := authentication.DecryptPrepend(s.creds.AccessTokenSecret, s.creds.EncryptionKey)
	if err != nil {
		return fmt.Errorf("error decrypting access token secret: %w", err)
	}

	headers, err := s.oauthHeaders(authentication.SignatureMethodRSASHA256)
	if err != nil {
		return err
	}
	requestURL := s.resolve(liveSessionTokenEndpoint)
	extraHeaders := map[string]string{authentication.ParamDHChallenge: challenge}
	baseString := authentication.BaseString(&authentication.Request{
		Method:       http.MethodPost,
		URL:          requestURL,
		Headers:      headers,
		ExtraHeaders: extraHeaders,
		Prepend:      prepend,
	})
	signature, err := authentication.SignRSASHA256(baseString, s.creds.SignatureKey)
	if err != nil {
		return err
	}
	headers[authentication.ParamDHChallenge] = challenge
	headers[authentication.ParamSignature] = signature

	log.Info("[%s] Requesting live session token...", s.ID)
	body, err := s.send(ctx, http.MethodPost, requestURL, nil, authentication.AuthorizationHeader(headers, s.creds.Realm), "", nil)
	if err != nil {
		return fmt.Errorf("error requesting live session token: %w", err)
	}

	var reply liveSessionTokenReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return fmt.Errorf("%w: %s", protocol.ErrBadResponse, err)
	}
	if reply.DHResponse == "" || reply.Signature == "" || reply.Expiration == 0 {
		return fmt.Errorf("%w: live session token response is missing fields", protocol.ErrBadResponse)
	}

	token, err := authentication.DeriveLiveSessionToken(s.creds.DHParameters, privateValue, reply.DHResponse, prepend)
	if err != nil {
		return fmt.Errorf("error deriving live session token: %w", err)
	}
	if !authentication.ValidateLiveSessionToken(token, reply.Signature, s.creds.ConsumerKey) {
		log.Error("[%s] Server signature over live session token did not verify", s.ID)
		return protocol.ErrLiveSessionTokenInvalid
	}

	s.liveSessionToken = token
	s.expiration = time.UnixMilli(reply.Expiration)
	log.Info("[%s] Acquired live session token expiring at %s", s.ID, s.expiration.UTC().Format(time.RFC3339))
	return nil
}

func (s *Session) ensureLiveSessionToken(ctx context.Context) (string, error) {
	s.lstLock.Lock()
	defer s.lstLock.Unlock()
	if !s.validLocked() {
		if err := s.requestLiveSessionTokenLocked(ctx); err != nil {
			return "", err
		}
	}
	return s.liveSessionToken, nil
}

// Request holds the optional parameters of a protected-resource request. FormData and Body are
// mutually exclusive.
type Request struct {
	Params   map[string]string      // query string
	FormData map[string]string      // sent as application/x-www-form-urlencoded
	Body     map[string]interface{} // sent as JSON; nil values are omitted
}

// bodyParameters renders the top-level JSON fields that contribute to the signature base string.
// Strings are used verbatim and other values are JSON-encoded.
func (r *Request) bodyParameters() (map[string]string, error) {
	if r.Body == nil {
		return nil, nil
	}
	params := make(map[string]string, len(r.Body))
	for k, v := range r.Body {
		switch value := v.(type) {
		case nil:
			continue
		case string:
			params[k] = value
		default:
			encoded, err := json.Marshal(value)
			if err != nil {
				return nil, fmt.Errorf("error encoding body field %s: %w", k, err)
			}
			params[k] = string(encoded)
		}
	}
	return params, nil
}

func (r *Request) payload() ([]byte, string, error) {
	switch {
	case r.FormData != nil && r.Body != nil:
		return nil, "", errors.New("request cannot carry both form data and a JSON body")
	case r.FormData != nil:
		values := make(url.Values, len(r.FormData))
		for k, v := range r.FormData {
			values.Set(k, v)
		}
		return []byte(values.Encode()), "application/x-www-form-urlencoded", nil
	case r.Body != nil:
		body := make(map[string]interface{}, len(r.Body))
		for k, v := range r.Body {
			if v != nil {
				body[k] = v
			}
		}
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, "", err
		}
		return encoded, "application/json", nil
	}
	return nil, "", nil
}

// Do sends a request signed with the live session token, acquiring a token first if the Session
// has none or it has expired. The endpoint is resolved relative to the base URL (e.g.,
// "iserver/accounts"). Returns the response body. Non-2xx responses yield a *protocol.HttpError.
func (s *Session) Do(ctx context.Context, method, endpoint string, request *Request) ([]byte, error) {
	if request == nil {
		request = &Request{}
	}
	payload, contentType, err := request.payload()
	if err != nil {
		return nil, err
	}
	bodyParams, err := request.bodyParameters()
	if err != nil {
		return nil, err
	}

	token, err := s.ensureLiveSessionToken(ctx)
	if err != nil {
		return nil, err
	}

	headers, err := s.oauthHeaders(authentication.SignatureMethodHMACSHA256)
	if err != nil {
		return nil, err
	}
	requestURL := s.resolve(endpoint)
	baseString := authentication.BaseString(&authentication.Request{
		Method:   method,
		URL:      requestURL,
		Headers:  headers,
		Params:   request.Params,
		FormData: request.FormData,
		Body:     bodyParams,
	})
	signature, err := authentication.SignHMACSHA256(baseString, token)
	if err != nil {
		return nil, err
	}
	headers[authentication.ParamSignature] = signature

	return s.send(ctx, method, requestURL, request.Params, authentication.AuthorizationHeader(headers, s.creds.Realm), contentType, payload)
}

// Get sends a signed GET request to endpoint.
func (s *Session) Get(ctx context.Context, endpoint string) ([]byte, error) {
	return s.Do(ctx, http.MethodGet, endpoint, nil)
}

// Post sends a signed POST request to endpoint with an optional JSON body.
func (s *Session) Post(ctx context.Context, endpoint string, body map[string]interface{}) ([]byte, error) {
	return s.Do(ctx, http.MethodPost, endpoint, &Request{Body: body})
}

func (s *Session) oauthHeaders(signatureMethod string) (map[string]string, error) {
	nonce, err := s.random.Nonce()
	if err != nil {
		return nil, fmt.Errorf("error generating nonce: %w", err)
	}
	return map[string]string{
		authentication.ParamConsumerKey:     s.creds.ConsumerKey,
		authentication.ParamNonce:           nonce,
		authentication.ParamSignatureMethod: signatureMethod,
		authentication.ParamTimestamp:       strconv.FormatInt(s.clock.Now().Unix(), 10),
		authentication.ParamToken:           s.creds.AccessToken,
	}, nil
}

// resolve returns the absolute URL of endpoint. Query strings belong in Request.Params, not in
// endpoint.
func (s *Session) resolve(endpoint string) string {
	ref := &url.URL{Path: strings.TrimPrefix(endpoint, "/")}
	return s.baseURL.ResolveReference(ref).String()
}

func (s *Session) send(ctx context.Context, method, requestURL string, query map[string]string, authHeader, contentType string, payload []byte) ([]byte, error) {
	fullURL := requestURL
	if len(query) > 0 {
		values := make(url.Values, len(query))
		for k, v := range query {
			values.Set(k, v)
		}
		fullURL += "?" + values.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("error constructing request to %s: %w", requestURL, err)
	}
	request.Header.Set("Authorization", authHeader)
	request.Header.Set("User-Agent", s.UserAgent)
	request.Header.Set("Accept", "*/*")
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}

	log.Debug("[%s] %s %s", s.ID, method, fullURL)
	response, err := s.client.Do(request)
	if err != nil {
		return nil, &protocol.RequestError{Err: err, PossibleSuccess: false, PossibleTemporary: true}
	}
	defer response.Body.Close()

	reader := io.LimitedReader{R: response.Body, N: MaxResponseLength + 1}
	responseBody, err := io.ReadAll(&reader)
	if err != nil {
		return nil, &protocol.RequestError{Err: err, PossibleSuccess: true, PossibleTemporary: false}
	}
	if len(responseBody) > MaxResponseLength {
		return nil, protocol.NewError("response exceeds maximum length", true, false)
	}

	log.Debug("[%s] Server returned %d: %s", s.ID, response.StatusCode, http.StatusText(response.StatusCode))
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, &protocol.HttpError{Code: response.StatusCode, Message: strings.TrimSpace(string(responseBody))}
	}
	return responseBody, nil
}
