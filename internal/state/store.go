package state

import (
	"sort"
)

// PositionKey identifies one account's standing in one market.
type PositionKey struct {
	Account  string
	MarketID string
}

// Store holds the authoritative in-memory ledger: markets, positions, and
// per-account membership sets. Getters return deep copies and mutations only
// land through Put*, so an operation that fails part-way leaves no trace —
// the caller mutates its copies and writes them back only after every check
// and transfer has succeeded.
//
// The store itself is not synchronized; the engine serializes all access.
type Store struct {
	markets     map[string]*Market
	positions   map[PositionKey]*Position
	memberships map[string]map[string]struct{} // account → set of market IDs
}

func NewStore() *Store {
	return &Store{
		markets:     make(map[string]*Market),
		positions:   make(map[PositionKey]*Position),
		memberships: make(map[string]map[string]struct{}),
	}
}

// GetMarket returns a deep copy of the market, or nil if unknown.
func (s *Store) GetMarket(marketID string) *Market {
	m, ok := s.markets[marketID]
	if !ok {
		return nil
	}
	return m.Clone()
}

// PutMarket installs the market, bumping its version.
func (s *Store) PutMarket(m *Market) {
	m.Version++
	s.markets[m.MarketID] = m
}

// MarketIDs returns all known market IDs in sorted order.
func (s *Store) MarketIDs() []string {
	ids := make([]string, 0, len(s.markets))
	for id := range s.markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetPosition returns a deep copy of the position, or a fresh empty one.
func (s *Store) GetPosition(account, marketID string) *Position {
	p, ok := s.positions[PositionKey{Account: account, MarketID: marketID}]
	if !ok {
		return NewPosition(account, marketID)
	}
	return p.Clone()
}

// HasPosition reports whether the account has any recorded standing.
func (s *Store) HasPosition(account, marketID string) bool {
	_, ok := s.positions[PositionKey{Account: account, MarketID: marketID}]
	return ok
}

// PutPosition installs the position, bumping its version. Empty positions
// are kept; membership, not balance, decides whether a market counts for
// collateral.
func (s *Store) PutPosition(p *Position) {
	p.Version++
	s.positions[PositionKey{Account: p.Account, MarketID: p.MarketID}] = p
}

// PositionKeys returns all position keys sorted by account then market.
func (s *Store) PositionKeys() []PositionKey {
	keys := make([]PositionKey, 0, len(s.positions))
	for k := range s.positions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Account != keys[j].Account {
			return keys[i].Account < keys[j].Account
		}
		return keys[i].MarketID < keys[j].MarketID
	})
	return keys
}

// MarketPositions returns copies of every position in a market, sorted by
// account for deterministic iteration.
func (s *Store) MarketPositions(marketID string) []*Position {
	out := make([]*Position, 0)
	for k, p := range s.positions {
		if k.MarketID == marketID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

// IsMember reports whether the account has entered the market.
func (s *Store) IsMember(account, marketID string) bool {
	set, ok := s.memberships[account]
	if !ok {
		return false
	}
	_, ok = set[marketID]
	return ok
}

// Memberships returns the account's entered markets in sorted order.
func (s *Store) Memberships(account string) []string {
	set, ok := s.memberships[account]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// MembershipCount returns how many markets the account has entered.
func (s *Store) MembershipCount(account string) int {
	return len(s.memberships[account])
}

// AddMembership records the account as entered into the market. Idempotent.
func (s *Store) AddMembership(account, marketID string) {
	set, ok := s.memberships[account]
	if !ok {
		set = make(map[string]struct{})
		s.memberships[account] = set
	}
	set[marketID] = struct{}{}
}

// RemoveMembership drops the account from the market. Idempotent.
func (s *Store) RemoveMembership(account, marketID string) {
	set, ok := s.memberships[account]
	if !ok {
		return
	}
	delete(set, marketID)
	if len(set) == 0 {
		delete(s.memberships, account)
	}
}

// MemberAccounts returns all accounts with at least one membership, sorted.
func (s *Store) MemberAccounts() []string {
	out := make([]string, 0, len(s.memberships))
	for account := range s.memberships {
		out = append(out, account)
	}
	sort.Strings(out)
	return out
}

// CanonicalBytes folds the entire store into one deterministic byte stream:
// markets, then positions, then memberships, each in sorted key order.
func (s *Store) CanonicalBytes() []byte {
	buf := make([]byte, 0, 1024)
	for _, id := range s.MarketIDs() {
		buf = append(buf, s.markets[id].CanonicalBytes()...)
	}
	for _, key := range s.PositionKeys() {
		buf = append(buf, s.positions[key].CanonicalBytes()...)
	}
	for _, account := range s.MemberAccounts() {
		buf = appendString(buf, account)
		for _, id := range s.Memberships(account) {
			buf = appendString(buf, id)
		}
	}
	return buf
}
