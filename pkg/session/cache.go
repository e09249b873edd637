package session

import (
	"time"

	"github.com/cpwebapi/cpwebapi-go/internal/log"
	"github.com/cpwebapi/cpwebapi-go/pkg/cache"
)

// WithSessionCache resumes the Session from the token cached for its consumer key, if any.
// Expired entries are ignored.
func WithSessionCache(c *cache.SessionCache) Option {
	return func(s *Session) error {
		if c == nil {
			return nil
		}
		entry, ok := c.GetEntry(s.creds.ConsumerKey)
		if !ok {
			return nil
		}
		log.Debug("[%s] Loaded cached live session token (expires %s)", s.ID, entry.Expiration)
		s.liveSessionToken = entry.Token
		s.expiration = entry.Expiration
		return nil
	}
}

// UpdateCachedSessions writes the Session's live session token to c. Sessions without a valid
// token remove their consumer key from c instead, so that a rejected token is not reused.
func (s *Session) UpdateCachedSessions(c *cache.SessionCache) error {
	s.lstLock.Lock()
	defer s.lstLock.Unlock()

	if !s.validLocked() {
		c.Delete(s.creds.ConsumerKey)
		return nil
	}
	return c.Update(s.creds.ConsumerKey, cache.Entry{
		Token:      s.liveSessionToken,
		Expiration: s.expiration,
	})
}

// Invalidate discards the live session token. The next request performs a new handshake.
func (s *Session) Invalidate() {
	s.lstLock.Lock()
	defer s.lstLock.Unlock()
	s.liveSessionToken = ""
	s.expiration = time.Time{}
}
