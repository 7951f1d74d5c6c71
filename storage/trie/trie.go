package trie

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/trie/trienode"
	"github.com/ethereum/go-ethereum/triedb"

	"ticketsale/storage"
)

// Trie holds the ledger state between commits. Writes stay in memory until
// Commit flushes them as the state of one ledger height; Rollback drops them
// and returns to the last committed root. Keys must already be keccak hashes.
//
// Trie is not safe for concurrent use; the node serialises access.
type Trie struct {
	db        *triedb.Database
	working   *gethtrie.Trie
	committed common.Hash
}

// NewTrie opens the state at root in store. A nil or empty root opens the
// empty state.
func NewTrie(store storage.Database, root []byte) (*Trie, error) {
	committed := gethtypes.EmptyRootHash
	if len(root) > 0 {
		committed = common.BytesToHash(root)
	}
	t := &Trie{db: store.TrieDB()}
	if err := t.open(committed); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Trie) open(root common.Hash) error {
	working, err := gethtrie.New(gethtrie.TrieID(root), t.db)
	if err != nil {
		return fmt.Errorf("open state %s: %w", root.Hex(), err)
	}
	t.working = working
	t.committed = root
	return nil
}

// Get returns the value under key, or nil when the key is absent.
func (t *Trie) Get(key []byte) ([]byte, error) {
	return t.working.Get(key)
}

// Update writes value under key in the working state.
func (t *Trie) Update(key, value []byte) error {
	return t.working.Update(key, value)
}

// Hash is the root of the working state, uncommitted writes included.
func (t *Trie) Hash() common.Hash {
	return t.working.Hash()
}

// Root is the last committed root.
func (t *Trie) Root() common.Hash {
	return t.committed
}

// Rollback discards every write since the last commit.
func (t *Trie) Rollback() error {
	return t.open(t.committed)
}

// Commit flushes the working state to disk as ledger height and returns the
// new root. A commit with no writes returns the current root unchanged.
func (t *Trie) Commit(height uint64) (common.Hash, error) {
	root, nodes := t.working.Commit(false)
	if nodes != nil {
		changes := trienode.NewMergedNodeSet()
		if err := changes.Merge(nodes); err != nil {
			return common.Hash{}, err
		}
		if err := t.db.Update(root, t.committed, height, changes, nil); err != nil {
			return common.Hash{}, fmt.Errorf("stage height %d: %w", height, err)
		}
		if err := t.db.Commit(root, false); err != nil {
			return common.Hash{}, fmt.Errorf("flush height %d: %w", height, err)
		}
	}
	if err := t.open(root); err != nil {
		return common.Hash{}, err
	}
	return root, nil
}
