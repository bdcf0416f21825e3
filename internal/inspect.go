package internal

import (
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

type InspectRow struct {
	Key      string `json:"key"`
	Type     string `json:"type"`
	EntityID string `json:"entity_id"`
	Detail   string `json:"detail"`
}

type RowMapper func(key string, val []byte) InspectRow

// Inspect lists every entry under prefix. Read only.
func Inspect(db *badger.DB, prefix string, mapper RowMapper) ([]InspectRow, error) {
	if mapper == nil {
		mapper = DefaultMapper
	}
	var rows []InspectRow
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				rows = append(rows, mapper(string(item.Key()), val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return rows, err
}

// DefaultMapper understands "<type>:<id>" keys and msgpack maps.
func DefaultMapper(key string, val []byte) InspectRow {
	row := InspectRow{
		Key:      key,
		Type:     "RAW",
		EntityID: "--------",
		Detail:   "Size: " + strconv.Itoa(len(val)) + " bytes",
	}

	if kind, id, ok := strings.Cut(key, ":"); ok {
		row.Type = strings.ToUpper(kind)
		row.EntityID = id
		if len(row.EntityID) > 8 {
			row.EntityID = row.EntityID[:8]
		}
	}

	var decoded map[string]any
	if err := msgpack.Unmarshal(val, &decoded); err == nil {
		if members, ok := decoded["members"].([]any); ok {
			row.Detail = "Members: " + strconv.Itoa(len(members))
		} else if identity, ok := decoded["identity"].(string); ok {
			row.Detail = "Identity: " + identity
		}
	}
	return row
}
