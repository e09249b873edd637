package session_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/cpwebapi/cpwebapi-go/internal/authentication"
	"github.com/cpwebapi/cpwebapi-go/mocks"
	"github.com/cpwebapi/cpwebapi-go/pkg/cache"
	"github.com/cpwebapi/cpwebapi-go/pkg/protocol"
	"github.com/cpwebapi/cpwebapi-go/pkg/session"
)

const (
	testDHPrivateValue = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	testChallenge      = "abf1402ca9a12a4598b01811cf9fcfece9e855ddcea562ac5737bc6023f2b18455ee34be8bf1faf61a5a98420ec59d14cb849d9fdc8e8f21cb3b02504553c7ec97e15073178b82c4506f786cb7bf2ae2cdf97c1cfcd88cb5ecbd0cac7856edda136c0d1bb7f4690cc250e5c64a3ad34f9ca263548677893607d3940ba5d8dd43c3d2203ea9e330990b6807f5def1f42d8fc1c75040d7151518ea56f83706bac4139b57d3edd763862f58e6fd04d6cc66814fa66bb52a7367192dbf13c96c751bc3840f42d1a44cdec99430a01ba31f138a009628cc78775ecf4f50aceec2edbfc47915fa81487758887c23454acf1bab351dadff9b0ee343c8ccf5640d12b90f"
	// Token derived from testDHPrivateValue, serverPrivateValue and testPrepend.
	testLiveSessionToken = "mzx+xJooFC8DEW251EtPDGD2zX8="

	tickleURL = testBaseURL + "tickle"
)

var _ = Describe("Session", func() {
	var (
		ctx     context.Context
		ctrl    *gomock.Controller
		creds   session.Credentials
		gateway *fakeGateway
		now     time.Time
		clock   *mocks.Clock
		random  *mocks.RandomSource
	)

	callCount := func(method, url string) int {
		return httpmock.GetCallCountInfo()[method+" "+url]
	}

	newSession := func(options ...session.Option) *session.Session {
		s, err := session.New(creds, options...)
		Expect(err).ToNot(HaveOccurred())
		return s
	}

	BeforeEach(func() {
		httpmock.Activate()
		DeferCleanup(httpmock.DeactivateAndReset)
		ctrl = gomock.NewController(GinkgoT())
		ctx = context.Background()

		key, err := protocol.LoadPrivateKey("test_data/private_key.pem")
		Expect(err).ToNot(HaveOccurred())
		params, err := protocol.LoadDHParameters("test_data/dhparam.pem")
		Expect(err).ToNot(HaveOccurred())
		creds = session.Credentials{
			Realm:             testRealm,
			ConsumerKey:       testConsumerKey,
			AccessToken:       testAccessToken,
			AccessTokenSecret: testAccessTokenSecret,
			SignatureKey:      key,
			EncryptionKey:     key,
			DHParameters:      params,
		}

		now = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
		clock = mocks.NewClock(ctrl)
		clock.EXPECT().Now().DoAndReturn(func() time.Time { return now }).AnyTimes()
		random = mocks.NewRandomSource(ctrl)
		random.EXPECT().Nonce().Return("nonce", nil).AnyTimes()

		gateway = &fakeGateway{
			params:     params,
			publicKey:  &key.PublicKey,
			realm:      testRealm,
			lstURL:     testLSTURL,
			expiration: now.Add(time.Hour),
		}
		httpmock.RegisterResponder(http.MethodPost, testLSTURL, gateway.handshake)
		httpmock.RegisterResponder(http.MethodPost, tickleURL, gateway.signedResponder(http.StatusOK, map[string]interface{}{"session": "abc"}, nil))
	})

	Describe("New", func() {
		It("rejects incomplete credentials", func() {
			creds.AccessTokenSecret = ""
			creds.DHParameters = nil
			_, err := session.New(creds)
			Expect(err).To(MatchError(protocol.ErrMissingCredentials))
			Expect(err.Error()).To(ContainSubstring("access token secret, DH parameters"))
		})

		It("rejects invalid base URLs", func() {
			for _, baseURL := range []string{"ftp://example.com/", "/v1/api/", "://"} {
				_, err := session.New(creds, session.WithBaseURL(baseURL))
				Expect(err).To(HaveOccurred(), baseURL)
			}
		})

		It("resolves endpoints against a custom base URL", func() {
			gateway.lstURL = "https://localhost:5000/v1/api/oauth/live_session_token"
			httpmock.RegisterResponder(http.MethodPost, gateway.lstURL, gateway.handshake)
			httpmock.RegisterResponder(http.MethodPost, "https://localhost:5000/v1/api/tickle", gateway.signedResponder(http.StatusOK, map[string]interface{}{}, nil))
			s := newSession(session.WithBaseURL("https://localhost:5000/v1/api"), session.WithClock(clock))
			_, err := s.Tickle(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(callCount(http.MethodPost, tickleURL)).To(Equal(0))
		})

		It("uses the default realm", func() {
			creds.Realm = ""
			gateway.realm = session.DefaultRealm
			s := newSession(session.WithClock(clock))
			_, err := s.Tickle(ctx)
			Expect(err).ToNot(HaveOccurred())
		})
	})

	Describe("live session token", func() {
		It("derives the token from the DH exchange", func() {
			random.EXPECT().DHPrivateValue().Return(testDHPrivateValue, nil)
			s := newSession(session.WithClock(clock), session.WithRandomSource(random))
			Expect(s.Valid()).To(BeFalse())

			Expect(s.RequestLiveSessionToken(ctx)).To(Succeed())
			token, expiration := s.LiveSessionToken()
			Expect(token).To(Equal(testLiveSessionToken))
			Expect(expiration.Equal(gateway.expiration.Truncate(time.Millisecond))).To(BeTrue())
			Expect(s.Valid()).To(BeTrue())
			Expect(gateway.lastHandshake).To(HaveKeyWithValue(authentication.ParamDHChallenge, testChallenge))
		})

		It("acquires a token once for sequential requests", func() {
			s := newSession(session.WithClock(clock))
			for i := 0; i < 3; i++ {
				_, err := s.Tickle(ctx)
				Expect(err).ToNot(HaveOccurred())
			}
			Expect(gateway.handshakeCount()).To(Equal(1))
			Expect(callCount(http.MethodPost, tickleURL)).To(Equal(3))
		})

		It("re-acquires the token after it expires", func() {
			gateway.expiration = now.Add(time.Minute)
			s := newSession(session.WithClock(clock))
			_, err := s.Tickle(ctx)
			Expect(err).ToNot(HaveOccurred())

			now = now.Add(time.Minute)
			_, err = s.Tickle(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(gateway.handshakeCount()).To(Equal(1))

			now = now.Add(time.Second)
			gateway.expiration = now.Add(time.Hour)
			Expect(s.Valid()).To(BeFalse())
			_, err = s.Tickle(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(gateway.handshakeCount()).To(Equal(2))
		})

		It("fails closed when the server signature does not verify", func() {
			gateway.corruptSignature = true
			s := newSession(session.WithClock(clock))
			_, err := s.Tickle(ctx)
			Expect(err).To(MatchError(protocol.ErrLiveSessionTokenInvalid))
			Expect(protocol.IsCredentialError(err)).To(BeTrue())
			Expect(protocol.ShouldRetry(err)).To(BeFalse())
			Expect(callCount(http.MethodPost, tickleURL)).To(Equal(0))
			Expect(s.Valid()).To(BeFalse())
			token, _ := s.LiveSessionToken()
			Expect(token).To(BeEmpty())
		})

		It("discards a valid token when a new handshake fails", func() {
			s := newSession(session.WithClock(clock))
			Expect(s.RequestLiveSessionToken(ctx)).To(Succeed())
			gateway.corruptSignature = true
			Expect(s.RequestLiveSessionToken(ctx)).To(MatchError(protocol.ErrLiveSessionTokenInvalid))
			Expect(s.Valid()).To(BeFalse())
		})

		It("rejects incomplete responses", func() {
			httpmock.RegisterResponder(http.MethodPost, testLSTURL, httpmock.NewStringResponder(http.StatusOK, `{"diffie_hellman_response": "2"}`))
			s := newSession(session.WithClock(clock))
			Expect(s.RequestLiveSessionToken(ctx)).To(MatchError(protocol.ErrBadResponse))

			httpmock.RegisterResponder(http.MethodPost, testLSTURL, httpmock.NewStringResponder(http.StatusOK, `not json`))
			Expect(s.RequestLiveSessionToken(ctx)).To(MatchError(protocol.ErrBadResponse))
		})

		It("reports HTTP errors", func() {
			httpmock.RegisterResponder(http.MethodPost, testLSTURL, httpmock.NewStringResponder(http.StatusUnauthorized, "invalid consumer\n"))
			s := newSession(session.WithClock(clock))
			err := s.RequestLiveSessionToken(ctx)
			var httpErr *protocol.HttpError
			Expect(errors.As(err, &httpErr)).To(BeTrue())
			Expect(httpErr.Code).To(Equal(http.StatusUnauthorized))
			Expect(httpErr.Message).To(Equal("invalid consumer"))
			Expect(protocol.Temporary(err)).To(BeFalse())
		})

		It("reports a bad access token secret", func() {
			creds.AccessTokenSecret = "AAAA"
			s := newSession(session.WithClock(clock))
			err := s.RequestLiveSessionToken(ctx)
			Expect(err).To(MatchError(protocol.ErrDecryption))
			Expect(protocol.IsCredentialError(err)).To(BeTrue())
			Expect(gateway.handshakeCount()).To(Equal(0))
		})

		It("resumes from a cached token", func() {
			gateway.setLiveSessionToken("J0Bd9N3zbyZ5QWlcZ1qAU2BJ4qE=")
			s := newSession(session.WithClock(clock), session.WithLiveSessionToken("J0Bd9N3zbyZ5QWlcZ1qAU2BJ4qE=", now.Add(time.Minute)))
			Expect(s.Valid()).To(BeTrue())
			_, err := s.Tickle(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(gateway.handshakeCount()).To(Equal(0))
		})

		It("uses fixed values in test mode", func() {
			s := newSession(session.WithTestMode())
			_, err := s.Tickle(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(gateway.lastHandshake).To(HaveKeyWithValue(authentication.ParamNonce, "abcdefghijklmnopqrstuvwxyzABCDEF"))
			Expect(gateway.lastHandshake).To(HaveKeyWithValue(authentication.ParamTimestamp, "1262304000"))
			Expect(gateway.lastHandshake).To(HaveKeyWithValue(authentication.ParamDHChallenge, testChallenge))
			token, _ := s.LiveSessionToken()
			Expect(token).To(Equal(testLiveSessionToken))
		})

		It("performs one handshake for concurrent requests", func() {
			s := newSession(session.WithClock(clock))
			var wg sync.WaitGroup
			errs := make(chan error, 8)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := s.Tickle(ctx)
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				Expect(err).ToNot(HaveOccurred())
			}
			Expect(gateway.handshakeCount()).To(Equal(1))
			Expect(callCount(http.MethodPost, tickleURL)).To(Equal(8))
		})

		It("round-trips tokens through a session cache", func() {
			now = time.Now()
			gateway.expiration = now.Add(time.Hour)
			c := cache.New(0)
			s := newSession(session.WithClock(clock), session.WithSessionCache(c))
			Expect(s.Valid()).To(BeFalse())
			_, err := s.Tickle(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(s.UpdateCachedSessions(c)).To(Succeed())

			token, _ := s.LiveSessionToken()
			entry, ok := c.GetEntry(testConsumerKey)
			Expect(ok).To(BeTrue())
			Expect(entry.Token).To(Equal(token))

			resumed := newSession(session.WithClock(clock), session.WithSessionCache(c))
			Expect(resumed.Valid()).To(BeTrue())
			_, err = resumed.Tickle(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(gateway.handshakeCount()).To(Equal(1))

			resumed.Invalidate()
			Expect(resumed.Valid()).To(BeFalse())
			Expect(resumed.UpdateCachedSessions(c)).To(Succeed())
			_, ok = c.GetEntry(testConsumerKey)
			Expect(ok).To(BeFalse())
		})
	})

	Describe("requests", func() {
		var s *session.Session

		BeforeEach(func() {
			s = newSession(session.WithClock(clock), session.WithUserAgent("session-test/1.0"))
		})

		It("sends headers", func() {
			httpmock.RegisterResponder(http.MethodGet, testBaseURL+"iserver/accounts", gateway.signedResponder(http.StatusOK, []string{"U1234567"},
				func(r *http.Request, params map[string]string) {
					Expect(r.Header.Get("User-Agent")).To(HavePrefix("session-test/1.0 cpwebapi-go/"))
					Expect(params).To(HaveKeyWithValue(authentication.ParamTimestamp, "1709294400"))
					Expect(params).To(HaveKeyWithValue(authentication.ParamConsumerKey, testConsumerKey))
					Expect(params).To(HaveKeyWithValue(authentication.ParamToken, testAccessToken))
				}))
			body, err := s.BrokerageAccounts(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(body).To(MatchJSON(`["U1234567"]`))
		})

		It("signs query parameters", func() {
			httpmock.RegisterResponder(http.MethodGet, testBaseURL+"iserver/marketdata/snapshot", gateway.signedResponder(http.StatusOK, []interface{}{},
				func(r *http.Request, params map[string]string) {
					Expect(params).To(HaveKeyWithValue("conids", "265598,8314"))
					Expect(params).To(HaveKeyWithValue("fields", "31,84 86"))
				}))
			_, err := s.MarketDataSnapshot(ctx, []int64{265598, 8314}, []string{"31", "84 86"})
			Expect(err).ToNot(HaveOccurred())
		})

		It("signs JSON bodies", func() {
			httpmock.RegisterResponder(http.MethodPost, testBaseURL+"iserver/secdef/search", gateway.signedResponder(http.StatusOK, []interface{}{},
				func(r *http.Request, params map[string]string) {
					Expect(r.Header.Get("Content-Type")).To(Equal("application/json"))
					Expect(params).To(HaveKeyWithValue("symbol", "AAPL"))
					Expect(params).To(HaveKeyWithValue("name", "false"))
					Expect(params).ToNot(HaveKey("secType"))
				}))
			_, err := s.SearchBySymbolOrName(ctx, "AAPL", false, "")
			Expect(err).ToNot(HaveOccurred())
		})

		It("signs form data", func() {
			httpmock.RegisterResponder(http.MethodPost, testBaseURL+"form", gateway.signedResponder(http.StatusOK, map[string]interface{}{},
				func(r *http.Request, params map[string]string) {
					Expect(params).To(HaveKeyWithValue("a", "b c"))
				}))
			_, err := s.Do(ctx, http.MethodPost, "/form", &session.Request{FormData: map[string]string{"a": "b c"}})
			Expect(err).ToNot(HaveOccurred())
		})

		It("rejects requests with both form data and a JSON body", func() {
			_, err := s.Do(ctx, http.MethodPost, "form", &session.Request{
				FormData: map[string]string{"a": "b"},
				Body:     map[string]interface{}{"c": "d"},
			})
			Expect(err).To(HaveOccurred())
			Expect(gateway.handshakeCount()).To(Equal(0))
		})

		It("opens a brokerage session", func() {
			httpmock.RegisterResponder(http.MethodPost, testBaseURL+"iserver/auth/ssodh/init", gateway.signedResponder(http.StatusOK, map[string]interface{}{"connected": true},
				func(r *http.Request, params map[string]string) {
					Expect(r.URL.Query().Get("compete")).To(Equal("true"))
					Expect(r.URL.Query().Get("publish")).To(Equal("false"))
				}))
			_, err := s.InitBrokerageSession(ctx, true, false)
			Expect(err).ToNot(HaveOccurred())
		})

		It("switches accounts", func() {
			httpmock.RegisterResponder(http.MethodPost, testBaseURL+"iserver/switch", gateway.signedResponder(http.StatusOK, map[string]interface{}{"set": true},
				func(r *http.Request, params map[string]string) {
					Expect(params).To(HaveKeyWithValue("acctId", "U1234567"))
				}))
			_, err := s.SwitchAccount(ctx, "U1234567")
			Expect(err).ToNot(HaveOccurred())

			_, err = s.SwitchAccount(ctx, "")
			Expect(err).To(HaveOccurred())
		})

		It("fetches account summaries", func() {
			httpmock.RegisterResponder(http.MethodGet, testBaseURL+"portfolio/U1234567/summary", gateway.signedResponder(http.StatusOK, map[string]interface{}{}, nil))
			_, err := s.AccountSummary(ctx, "U1234567")
			Expect(err).ToNot(HaveOccurred())
		})

		It("decodes the authentication status", func() {
			httpmock.RegisterResponder(http.MethodGet, testBaseURL+"iserver/auth/status", gateway.signedResponder(http.StatusOK, map[string]interface{}{
				"authenticated": true,
				"competing":     false,
				"connected":     true,
				"message":       "",
			}, nil))
			status, err := s.AuthStatus(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(*status).To(Equal(session.AuthStatus{Authenticated: true, Connected: true}))
		})

		It("classifies HTTP errors", func() {
			httpmock.RegisterResponder(http.MethodGet, testBaseURL+"trsrv/secdef", gateway.signedResponder(http.StatusServiceUnavailable, map[string]interface{}{"error": "gateway restarting"}, nil))
			_, err := s.SecdefByConid(ctx, []int64{265598})
			var httpErr *protocol.HttpError
			Expect(errors.As(err, &httpErr)).To(BeTrue())
			Expect(httpErr.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(protocol.ShouldRetry(err)).To(BeTrue())

			_, err = s.SecdefByConid(ctx, nil)
			Expect(err).To(HaveOccurred())
		})

		It("reports transport errors as temporary", func() {
			httpmock.RegisterResponder(http.MethodPost, testBaseURL+"logout", httpmock.NewErrorResponder(errors.New("connection reset")))
			_, err := s.Logout(ctx)
			Expect(err).To(HaveOccurred())
			Expect(protocol.Temporary(err)).To(BeTrue())
		})
	})
})
