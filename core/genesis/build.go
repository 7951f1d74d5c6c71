package genesis

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"ticketsale/core/state"
	"ticketsale/native/tickets"
	"ticketsale/storage"
	"ticketsale/storage/trie"
)

// Build executes the genesis spec against an empty trie in db and commits it
// at height zero. The committed state root is returned.
func Build(spec *Spec, db storage.Database) (common.Hash, error) {
	if spec == nil {
		return common.Hash{}, fmt.Errorf("genesis spec must not be nil")
	}
	if db == nil {
		return common.Hash{}, fmt.Errorf("database must not be nil")
	}
	if spec.price == nil {
		if err := spec.Validate(); err != nil {
			return common.Hash{}, err
		}
	}

	stateTrie, err := trie.NewTrie(db, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("init state trie: %w", err)
	}
	manager := state.NewManager(stateTrie)

	engine := tickets.NewEngine()
	engine.SetState(manager)
	if err := engine.Initialise(spec.OwnerAddress(), spec.Price(), spec.TicketCount); err != nil {
		return common.Hash{}, fmt.Errorf("initialise ticket pool: %w", err)
	}

	for _, alloc := range spec.Allocations() {
		if err := manager.Credit(alloc.Address, alloc.Amount); err != nil {
			return common.Hash{}, fmt.Errorf("alloc %x: %w", alloc.Address, err)
		}
	}

	root, err := stateTrie.Commit(0)
	if err != nil {
		return common.Hash{}, fmt.Errorf("commit state: %w", err)
	}
	return root, nil
}
