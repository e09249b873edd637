package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cpwebapi/cpwebapi-go/pkg/protocol"
)

// Tickle keeps the brokerage session alive. It should be called about once a minute.
func (s *Session) Tickle(ctx context.Context) ([]byte, error) {
	return s.Do(ctx, http.MethodPost, "tickle", nil)
}

// Logout ends the brokerage session.
func (s *Session) Logout(ctx context.Context) ([]byte, error) {
	return s.Do(ctx, http.MethodPost, "logout", nil)
}

// AuthStatus is the subset of iserver/auth/status this package interprets.
type AuthStatus struct {
	Authenticated bool   `json:"authenticated"`
	Competing     bool   `json:"competing"`
	Connected     bool   `json:"connected"`
	Message       string `json:"message"`
}

// AuthStatus reports whether the brokerage session is authenticated.
func (s *Session) AuthStatus(ctx context.Context) (*AuthStatus, error) {
	body, err := s.Do(ctx, http.MethodGet, "iserver/auth/status", nil)
	if err != nil {
		return nil, err
	}
	var status AuthStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("%w: %s", protocol.ErrBadResponse, err)
	}
	return &status, nil
}

// Reauthenticate asks the server to re-establish a brokerage session that has timed out.
func (s *Session) Reauthenticate(ctx context.Context) ([]byte, error) {
	return s.Do(ctx, http.MethodPost, "iserver/reauthenticate", nil)
}

// UserDetails returns information about the authenticated user.
func (s *Session) UserDetails(ctx context.Context) ([]byte, error) {
	return s.Do(ctx, http.MethodGet, "one/user", nil)
}

// InitBrokerageSession opens the brokerage session required for market data, positions and
// trading. If compete is set, other sessions of the same user are disconnected.
func (s *Session) InitBrokerageSession(ctx context.Context, compete, publish bool) ([]byte, error) {
	return s.Do(ctx, http.MethodPost, "iserver/auth/ssodh/init", &Request{
		Params: map[string]string{
			"compete": strconv.FormatBool(compete),
			"publish": strconv.FormatBool(publish),
		},
	})
}

// BrokerageAccounts lists the accounts the user can trade.
func (s *Session) BrokerageAccounts(ctx context.Context) ([]byte, error) {
	return s.Do(ctx, http.MethodGet, "iserver/accounts", nil)
}

// PortfolioAccounts lists the accounts whose positions the user can view.
func (s *Session) PortfolioAccounts(ctx context.Context) ([]byte, error) {
	return s.Do(ctx, http.MethodGet, "portfolio/accounts", nil)
}

// AccountSummary returns margin, cash balance and other summary information for an account.
func (s *Session) AccountSummary(ctx context.Context, accountID string) ([]byte, error) {
	if accountID == "" {
		return nil, fmt.Errorf("missing account ID")
	}
	return s.Do(ctx, http.MethodGet, fmt.Sprintf("portfolio/%s/summary", url.PathEscape(accountID)), nil)
}

// SwitchAccount selects the account that subsequent iserver requests apply to.
func (s *Session) SwitchAccount(ctx context.Context, accountID string) ([]byte, error) {
	if accountID == "" {
		return nil, fmt.Errorf("missing account ID")
	}
	return s.Do(ctx, http.MethodPost, "iserver/switch", &Request{
		Body: map[string]interface{}{"acctId": accountID},
	})
}

// SecdefByConid returns security definitions for contract IDs. It does not require a brokerage
// session.
func (s *Session) SecdefByConid(ctx context.Context, conids []int64) ([]byte, error) {
	if len(conids) == 0 {
		return nil, fmt.Errorf("no contract IDs provided")
	}
	return s.Do(ctx, http.MethodGet, "trsrv/secdef", &Request{
		Params: map[string]string{"conids": joinInts(conids)},
	})
}

// SearchBySymbolOrName searches for contracts. If isName is set, term is matched against company
// names instead of symbols. An empty assetClass (e.g., "STK") searches all classes.
func (s *Session) SearchBySymbolOrName(ctx context.Context, term string, isName bool, assetClass string) ([]byte, error) {
	body := map[string]interface{}{
		"symbol": term,
		"name":   isName,
	}
	if assetClass != "" {
		body["secType"] = assetClass
	}
	return s.Do(ctx, http.MethodPost, "iserver/secdef/search", &Request{Body: body})
}

// MarketDataSnapshot returns the requested fields for each contract. The first call for a
// contract starts a subscription and usually returns no data; call again to read values.
func (s *Session) MarketDataSnapshot(ctx context.Context, conids []int64, fields []string) ([]byte, error) {
	if len(conids) == 0 {
		return nil, fmt.Errorf("no contract IDs provided")
	}
	return s.Do(ctx, http.MethodGet, "iserver/marketdata/snapshot", &Request{
		Params: map[string]string{
			"conids": joinInts(conids),
			"fields": strings.Join(fields, ","),
		},
	})
}

func joinInts(values []int64) string {
	s := make([]string, len(values))
	for i, v := range values {
		s[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(s, ",")
}
