package state_test

import (
	"math/big"
	"testing"

	fpmath "LendLedger/internal/math"
	"LendLedger/internal/state"
)

func TestExchangeRate_EmptyMarket(t *testing.T) {
	m := state.NewMarket("USDC", "USDC")
	if m.ExchangeRate().Cmp(fpmath.WAD) != 0 {
		t.Fatalf("empty market exchange rate should be 1.0, got %s", m.ExchangeRate())
	}
}

func TestExchangeRate_WithBorrowsAndReserves(t *testing.T) {
	m := state.NewMarket("USDC", "USDC")
	m.Cash = big.NewInt(900)
	m.TotalBorrows = big.NewInt(200)
	m.TotalReserves = big.NewInt(100)
	m.TotalShares = big.NewInt(1000)

	// (900 + 200 - 100) / 1000 = 1.0
	if m.ExchangeRate().Cmp(fpmath.WAD) != 0 {
		t.Fatalf("exchange rate: got %s want %s", m.ExchangeRate(), fpmath.WAD)
	}

	m.Cash = big.NewInt(1100)
	// (1100 + 200 - 100) / 1000 = 1.2
	want := fpmath.WadFromFraction(12, 10)
	if m.ExchangeRate().Cmp(want) != 0 {
		t.Fatalf("exchange rate: got %s want %s", m.ExchangeRate(), want)
	}
}

func TestCurrentDebt_ScalesWithIndex(t *testing.T) {
	p := state.NewPosition("alice", "USDC")
	p.BorrowPrincipal = big.NewInt(1000)
	p.InterestIndex = fpmath.Clone(fpmath.WAD)

	// Index grew 10% since the snapshot.
	index := fpmath.WadFromFraction(11, 10)
	debt := p.CurrentDebt(index)
	if debt.Cmp(big.NewInt(1100)) != 0 {
		t.Fatalf("debt: got %s want 1100", debt)
	}
}

func TestCurrentDebt_ZeroPrincipal(t *testing.T) {
	p := state.NewPosition("alice", "USDC")
	if p.CurrentDebt(fpmath.Wad(5)).Sign() != 0 {
		t.Fatal("zero principal must yield zero debt regardless of index")
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := state.NewStore()
	m := state.NewMarket("USDC", "USDC")
	m.Cash = big.NewInt(1000)
	s.PutMarket(m)

	got := s.GetMarket("USDC")
	got.Cash.SetInt64(0)

	if s.GetMarket("USDC").Cash.Cmp(big.NewInt(1000)) != 0 {
		t.Fatal("mutating a Get result must not leak into the store")
	}
}

func TestStore_UnknownMarketIsNil(t *testing.T) {
	s := state.NewStore()
	if s.GetMarket("nope") != nil {
		t.Fatal("unknown market should be nil")
	}
}

func TestStore_PositionDefaultsEmpty(t *testing.T) {
	s := state.NewStore()
	p := s.GetPosition("alice", "USDC")
	if !p.IsEmpty() {
		t.Fatal("fresh position should be empty")
	}
	if p.InterestIndex.Cmp(fpmath.WAD) != 0 {
		t.Fatalf("fresh position snapshot index should be 1.0, got %s", p.InterestIndex)
	}
	if s.HasPosition("alice", "USDC") {
		t.Fatal("GetPosition must not create store entries")
	}
}

func TestStore_Memberships(t *testing.T) {
	s := state.NewStore()
	s.AddMembership("alice", "USDC")
	s.AddMembership("alice", "WETH")
	s.AddMembership("alice", "USDC") // idempotent

	if s.MembershipCount("alice") != 2 {
		t.Fatalf("membership count: got %d want 2", s.MembershipCount("alice"))
	}
	got := s.Memberships("alice")
	if len(got) != 2 || got[0] != "USDC" || got[1] != "WETH" {
		t.Fatalf("memberships not sorted/deduped: %v", got)
	}

	s.RemoveMembership("alice", "USDC")
	if s.IsMember("alice", "USDC") {
		t.Fatal("removed membership still present")
	}
	s.RemoveMembership("alice", "WETH")
	if len(s.MemberAccounts()) != 0 {
		t.Fatal("account with no memberships should drop out entirely")
	}
}

func TestStore_CanonicalBytesDeterministic(t *testing.T) {
	build := func(order []string) []byte {
		s := state.NewStore()
		for _, id := range order {
			m := state.NewMarket(id, id)
			m.Listed = true
			s.PutMarket(m)
			p := state.NewPosition("bob", id)
			p.Shares = big.NewInt(42)
			s.PutPosition(p)
			s.AddMembership("bob", id)
		}
		return s.CanonicalBytes()
	}

	a := build([]string{"USDC", "WETH", "WBTC"})
	b := build([]string{"WBTC", "USDC", "WETH"})
	if string(a) != string(b) {
		t.Fatal("canonical bytes must be independent of insertion order")
	}
}
