package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"ticketsale/crypto"
	"ticketsale/native/tickets"
)

// Spec describes the initial ledger: the ticket pool and the balances funded
// at height zero. Addresses are bech32 (tkt1...) or 0x-prefixed hex.
type Spec struct {
	Owner       string            `json:"owner"`
	TicketPrice string            `json:"ticketPrice"`
	TicketCount uint64            `json:"ticketCount"`
	Alloc       map[string]string `json:"alloc"`

	owner [20]byte
	price *big.Int
	alloc []Allocation
}

// Allocation is a parsed genesis balance.
type Allocation struct {
	Address [20]byte
	Amount  *big.Int
}

// LoadSpec reads and validates a JSON genesis file.
func LoadSpec(path string) (*Spec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec Spec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

// Validate parses every field and caches the decoded values.
func (s *Spec) Validate() error {
	if s == nil {
		return fmt.Errorf("genesis spec must not be nil")
	}
	if strings.TrimSpace(s.Owner) != "" {
		owner, err := crypto.ParseAccount(s.Owner)
		if err != nil {
			return fmt.Errorf("owner: %w", err)
		}
		s.owner = owner
	}
	price, err := parseAmount(s.TicketPrice)
	if err != nil {
		return fmt.Errorf("ticketPrice: %w", err)
	}
	s.price = price
	pool := tickets.Pool{Price: price, Count: s.TicketCount, Owner: s.owner}
	if err := pool.Validate(); err != nil {
		return err
	}

	addresses := make([]string, 0, len(s.Alloc))
	for addr := range s.Alloc {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)
	seen := make(map[[20]byte]struct{}, len(addresses))
	allocations := make([]Allocation, 0, len(addresses))
	for _, addr := range addresses {
		parsed, err := crypto.ParseAccount(addr)
		if err != nil {
			return fmt.Errorf("alloc[%q]: %w", addr, err)
		}
		if _, dup := seen[parsed]; dup {
			return fmt.Errorf("alloc[%q]: duplicate account", addr)
		}
		seen[parsed] = struct{}{}
		amount, err := parseAmount(s.Alloc[addr])
		if err != nil {
			return fmt.Errorf("alloc[%q]: %w", addr, err)
		}
		allocations = append(allocations, Allocation{Address: parsed, Amount: amount})
	}
	sort.Slice(allocations, func(i, j int) bool {
		return bytes.Compare(allocations[i].Address[:], allocations[j].Address[:]) < 0
	})
	s.alloc = allocations
	return nil
}

// OwnerAddress returns the parsed pool owner.
func (s *Spec) OwnerAddress() [20]byte { return s.owner }

// Price returns the parsed ticket price.
func (s *Spec) Price() *big.Int {
	if s.price == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(s.price)
}

// Allocations returns the parsed balances ordered by address.
func (s *Spec) Allocations() []Allocation {
	out := make([]Allocation, len(s.alloc))
	for i, a := range s.alloc {
		out[i] = Allocation{Address: a.Address, Amount: new(big.Int).Set(a.Amount)}
	}
	return out
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount must be provided")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
