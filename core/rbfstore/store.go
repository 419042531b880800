// Package rbfstore persists the last not-yet-confirmed AccountOp per payer,
// so a replacement transaction can be priced above it even across process
// restarts.
package rbfstore

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/wallet-core/core/accountop"
)

// Record describes the pending operation a replacement must outbid.
type Record struct {
	// GasPrice is the effective gas price the pending op was signed with,
	// in wei, decimal-encoded.
	GasPrice string `json:"gasPrice"`
	// LastSignedGasPrice tracks the most recently signed price even when
	// the broadcast failed, used for "replacement fee too low" bumps.
	LastSignedGasPrice string `json:"lastSignedGasPrice,omitempty"`
	// FailedReplacementTooLow is set when the pending op's broadcast was
	// rejected with "replacement fee too low"; the next bump then starts
	// from LastSignedGasPrice instead.
	FailedReplacementTooLow bool                `json:"failedTooLow,omitempty"`
	Speed                   accountop.SpeedKind `json:"speed"`
	UpdatedAt               int64               `json:"updatedAt"`
}

// GasPriceBig parses the stored gas price; nil when malformed or empty.
func (r *Record) GasPriceBig() *big.Int {
	v, ok := new(big.Int).SetString(r.GasPrice, 10)
	if !ok {
		return nil
	}
	return v
}

// LastSignedBig parses the last signed gas price; nil when absent.
func (r *Record) LastSignedBig() *big.Int {
	if r.LastSignedGasPrice == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(r.LastSignedGasPrice, 10)
	if !ok {
		return nil
	}
	return v
}

// Store is a badger-backed record store keyed by network and payer.
type Store struct {
	db *badger.DB
}

// Open creates or opens the store at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cannot open rbf store at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral store, used by tests and by callers that
// do not want persistence.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cannot open in-memory rbf store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func key(chainID *big.Int, payer common.Address) []byte {
	return []byte(fmt.Sprintf("rbf:%s:%s", chainID.String(), payer.Hex()))
}

// Put stores the record for the payer, stamping UpdatedAt.
func (s *Store) Put(chainID *big.Int, payer common.Address, rec Record) error {
	rec.UpdatedAt = time.Now().UnixMilli()
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(chainID, payer), raw)
	})
}

// Get returns the record for the payer, or found=false.
func (s *Store) Get(chainID *big.Int, payer common.Address) (*Record, bool, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(chainID, payer))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

// Delete removes the record once the pending op is confirmed or abandoned.
func (s *Store) Delete(chainID *big.Int, payer common.Address) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(chainID, payer))
	})
}
