package slots

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"
)

const memoSize = 512

const schema = `
CREATE TABLE IF NOT EXISTS balance_slots (
	token     TEXT PRIMARY KEY,
	layout    INTEGER NOT NULL,
	base_slot TEXT NOT NULL,
	block     INTEGER NOT NULL
);`

// Cache is the persistent slot store for one chain. Writes are single-row
// upserts, so a record is either fully visible or absent; WAL keeps readers
// in other processes working while a discovery commits.
type Cache struct {
	db   *sql.DB
	memo *lru.Cache[common.Address, Record]
}

// Open opens (or creates) the store for chainID under dir.
func Open(dir string, chainID uint64) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("slots-%d.db", chainID))
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache db: %w", err)
	}

	// WAL so concurrent readers don't block a discovery write
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise schema: %w", err)
	}

	memo, err := lru.New[common.Address, Record](memoSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Cache{db: db, memo: memo}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the record for token. A miss is not an error; a corrupt row
// reads as a miss so the next discovery overwrites it.
func (c *Cache) Get(token common.Address) (Record, bool) {
	if rec, ok := c.memo.Get(token); ok {
		return rec, true
	}

	var layout int
	var baseHex string
	var block uint64
	err := c.db.QueryRow(
		"SELECT layout, base_slot, block FROM balance_slots WHERE token = ?",
		token.Hex(),
	).Scan(&layout, &baseHex, &block)
	if err != nil {
		return Record{}, false
	}

	rec := Record{
		Token:    token,
		Layout:   Layout(layout),
		BaseSlot: common.HexToHash(baseHex),
		Block:    block,
	}
	if !rec.Layout.valid() || len(baseHex) != 66 {
		return Record{}, false
	}

	c.memo.Add(token, rec)
	return rec, true
}

// Put stores a verified record. Last writer wins; any verified record is
// correct, so no cross-process write serialisation is needed.
func (c *Cache) Put(rec Record) error {
	_, err := c.db.Exec(
		"INSERT OR REPLACE INTO balance_slots (token, layout, base_slot, block) VALUES (?, ?, ?, ?)",
		rec.Token.Hex(), int(rec.Layout), rec.BaseSlot.Hex(), rec.Block,
	)
	if err != nil {
		return fmt.Errorf("failed to store slot record: %w", err)
	}
	c.memo.Add(rec.Token, rec)
	return nil
}

// Delete drops a record. Manual invalidation only; nothing in the simulator
// calls this.
func (c *Cache) Delete(token common.Address) error {
	_, err := c.db.Exec("DELETE FROM balance_slots WHERE token = ?", token.Hex())
	c.memo.Remove(token)
	return err
}

// Stats reports the number of cached records, for monitoring.
func (c *Cache) Stats() (int64, error) {
	var count int64
	if err := c.db.QueryRow("SELECT COUNT(*) FROM balance_slots").Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
