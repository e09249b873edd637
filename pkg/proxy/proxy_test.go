package proxy_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cpwebapi/cpwebapi-go/pkg/protocol"
	"github.com/cpwebapi/cpwebapi-go/pkg/proxy"
	"github.com/cpwebapi/cpwebapi-go/pkg/session"
)

const (
	baseURL = "https://api.ibkr.com/v1/api/"
	lstURL  = baseURL + "oauth/live_session_token"
	// Any well-formed token works; responders below do not verify signatures.
	liveSessionToken = "J0Bd9N3zbyZ5QWlcZ1qAU2BJ4qE="
	// Encrypted under test_data/private_key.pem, so that handshakes reach the server.
	accessTokenSecret = "2k3kTJSz1QZTG1Di8Gs1WbGX6wkioSqs6t+TGfIMyvB/FjZdiA60kmLXbETP1mRHTjY32uAKX7yhmFhs70240EoAU73WlMbd34Zo5kcsYeXTDKkemvhsY36Hvrjp+OuuYDPOlYTpLbGb0Y/mslwuWi2XjMTm7XtRCx3Ot4cTrjhMA6HHcpa7aGpWZV3WMVJYpiWou1aUYWLq8j/4YDOrMayAgGkRdzMFsG+9HEQtdwjv9qUFQomT0i36NO52nbsUEUd62HacYGHtuFK2NTHb5M0mmE7sLrwe7V/YC1lSMoxXhq9qXn5heLG0UT77WFc3d9Ft7b8krBsTuuCFeVa/Ww=="
)

var _ = Describe("Proxy", func() {
	var (
		p *proxy.Proxy
		s *session.Session
	)

	sendRequest := func(method, path, contentType string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		rr := httptest.NewRecorder()
		p.ServeHTTP(rr, req)
		return rr
	}

	callCount := func(method, url string) int {
		return httpmock.GetCallCountInfo()[method+" "+url]
	}

	BeforeEach(func() {
		httpmock.Activate()
		DeferCleanup(httpmock.DeactivateAndReset)

		key, err := protocol.LoadPrivateKey("test_data/private_key.pem")
		Expect(err).ToNot(HaveOccurred())
		params, err := protocol.LoadDHParameters("test_data/dhparam.pem")
		Expect(err).ToNot(HaveOccurred())
		s, err = session.New(session.Credentials{
			ConsumerKey:       "TESTCONS",
			AccessToken:       "56789abcdef",
			AccessTokenSecret: accessTokenSecret,
			SignatureKey:      key,
			EncryptionKey:     key,
			DHParameters:      params,
		}, session.WithLiveSessionToken(liveSessionToken, time.Now().Add(time.Hour)))
		Expect(err).ToNot(HaveOccurred())
		p = proxy.New(s)
	})

	Context("forwarding", func() {
		It("signs GET requests and relays the response", func() {
			httpmock.RegisterResponder(http.MethodGet, baseURL+"iserver/marketdata/snapshot",
				func(req *http.Request) (*http.Response, error) {
					defer GinkgoRecover()
					Expect(req.URL.Query().Get("conids")).To(Equal("265598"))
					Expect(req.Header.Get("Authorization")).To(ContainSubstring(`oauth_signature_method="HMAC-SHA256"`))
					Expect(req.Header.Get("Authorization")).To(ContainSubstring(`oauth_consumer_key="TESTCONS"`))
					return httpmock.NewStringResponse(http.StatusOK, `[{"31":"170.5"}]`), nil
				})

			rr := sendRequest(http.MethodGet, "/v1/api/iserver/marketdata/snapshot?conids=265598", "", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Body.String()).To(MatchJSON(`[{"31":"170.5"}]`))
			Expect(rr.Header().Get("Content-Type")).To(Equal("application/json"))
		})

		It("forwards JSON bodies without altering numbers", func() {
			var received []byte
			httpmock.RegisterResponder(http.MethodPost, baseURL+"iserver/account/U1234567/orders",
				func(req *http.Request) (*http.Response, error) {
					defer GinkgoRecover()
					Expect(req.Header.Get("Content-Type")).To(Equal("application/json"))
					var err error
					received, err = io.ReadAll(req.Body)
					Expect(err).ToNot(HaveOccurred())
					return httpmock.NewStringResponse(http.StatusOK, `{}`), nil
				})

			rr := sendRequest(http.MethodPost, "/v1/api/iserver/account/U1234567/orders", "application/json; charset=utf-8",
				[]byte(`{"conid": 265598, "price": 170.25, "side": "BUY"}`))
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(received).To(MatchJSON(`{"conid": 265598, "price": 170.25, "side": "BUY"}`))
		})

		It("forwards form data", func() {
			httpmock.RegisterResponder(http.MethodPost, baseURL+"iserver/reauthenticate",
				func(req *http.Request) (*http.Response, error) {
					defer GinkgoRecover()
					Expect(req.Header.Get("Content-Type")).To(Equal("application/x-www-form-urlencoded"))
					Expect(req.ParseForm()).To(Succeed())
					Expect(req.PostForm.Get("force")).To(Equal("true"))
					return httpmock.NewStringResponse(http.StatusOK, `{}`), nil
				})

			rr := sendRequest(http.MethodPost, "/v1/api/iserver/reauthenticate", "application/x-www-form-urlencoded", []byte("force=true"))
			Expect(rr.Code).To(Equal(http.StatusOK))
		})

		It("relays upstream errors", func() {
			httpmock.RegisterResponder(http.MethodGet, baseURL+"portfolio/U0/summary",
				httpmock.NewStringResponder(http.StatusNotFound, `{"error":"no such account"}`))

			rr := sendRequest(http.MethodGet, "/v1/api/portfolio/U0/summary", "", nil)
			Expect(rr.Code).To(Equal(http.StatusNotFound))
			Expect(rr.Body.String()).To(MatchJSON(`{"error":"no such account"}`))
			Expect(callCount(http.MethodGet, baseURL+"portfolio/U0/summary")).To(Equal(1))
		})
	})

	Context("invalid requests", func() {
		It("rejects paths outside the API", func() {
			Expect(sendRequest(http.MethodGet, "/tickle", "", nil).Code).To(Equal(http.StatusNotFound))
			Expect(sendRequest(http.MethodGet, "/v1/api/", "", nil).Code).To(Equal(http.StatusNotFound))
		})

		It("rejects unsupported methods", func() {
			Expect(sendRequest(http.MethodPatch, "/v1/api/tickle", "", nil).Code).To(Equal(http.StatusMethodNotAllowed))
		})

		It("rejects malformed parameters", func() {
			rr := sendRequest(http.MethodGet, "/v1/api/trsrv/secdef?conids=1&conids=2", "", nil)
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
			var reply proxy.Response
			Expect(json.Unmarshal(rr.Body.Bytes(), &reply)).To(Succeed())
			Expect(reply.ErrDetails).To(ContainSubstring("conids"))

			Expect(sendRequest(http.MethodPost, "/v1/api/iserver/switch", "application/json", []byte(`["U1"]`)).Code).To(Equal(http.StatusBadRequest))
			Expect(sendRequest(http.MethodPost, "/v1/api/iserver/switch", "text/plain", []byte(`U1`)).Code).To(Equal(http.StatusBadRequest))
			Expect(sendRequest(http.MethodPost, "/v1/api/iserver/switch", "application/json", bytes.Repeat([]byte(" "), 2*1024*1024)).Code).To(Equal(http.StatusBadRequest))
			Expect(httpmock.GetTotalCallCount()).To(Equal(0))
		})
	})

	Context("token refresh", func() {
		It("does not resend after transport errors", func() {
			httpmock.RegisterResponder(http.MethodPost, baseURL+"tickle", httpmock.NewErrorResponder(errors.New("connection refused")))

			rr := sendRequest(http.MethodPost, "/v1/api/tickle", "", nil)
			Expect(rr.Code).To(Equal(http.StatusBadGateway))
			Expect(strings.Contains(rr.Body.String(), "connection refused")).To(BeTrue())
			Expect(callCount(http.MethodPost, baseURL+"tickle")).To(Equal(1))
		})

		It("relays temporary upstream failures", func() {
			httpmock.RegisterResponder(http.MethodPost, baseURL+"iserver/switch", httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))

			rr := sendRequest(http.MethodPost, "/v1/api/iserver/switch", "application/json", []byte(`{"acctId":"U1"}`))
			Expect(rr.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(callCount(http.MethodPost, baseURL+"iserver/switch")).To(Equal(1))
		})

		It("resends once with a new token after a 401", func() {
			attempts := 0
			httpmock.RegisterResponder(http.MethodPost, baseURL+"tickle",
				func(req *http.Request) (*http.Response, error) {
					attempts++
					if attempts == 1 {
						return httpmock.NewStringResponse(http.StatusUnauthorized, "invalid token"), nil
					}
					return httpmock.NewStringResponse(http.StatusOK, `{"session":"abc"}`), nil
				})
			registerLiveSessionToken()

			rr := sendRequest(http.MethodPost, "/v1/api/tickle", "", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(attempts).To(Equal(2))
			Expect(callCount(http.MethodPost, lstURL)).To(Equal(1))
			Expect(s.Valid()).To(BeTrue())
		})

		It("requests a new token when the current one is rejected", func() {
			httpmock.RegisterResponder(http.MethodPost, baseURL+"tickle", httpmock.NewStringResponder(http.StatusUnauthorized, "invalid token"))
			httpmock.RegisterResponder(http.MethodPost, lstURL, httpmock.NewStringResponder(http.StatusInternalServerError, "unavailable"))

			rr := sendRequest(http.MethodPost, "/v1/api/tickle", "", nil)
			Expect(rr.Code).To(Equal(http.StatusInternalServerError))
			Expect(callCount(http.MethodPost, lstURL)).To(Equal(1))
			Expect(callCount(http.MethodPost, baseURL+"tickle")).To(Equal(1))
			Expect(s.Valid()).To(BeFalse())
		})
	})
})
