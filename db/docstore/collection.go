package docstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Collection is a named set of JSON documents. Handles are shared and
// safe for concurrent use; every operation is synchronous and blocks
// the caller until the backend responds.
type Collection struct {
	store   *Store
	name    string
	logger  *slog.Logger
	limiter *rate.Limiter
}

func (c *Collection) key(id string) []byte {
	return []byte(c.name + ":" + id)
}

func (c *Collection) cacheKey(id string) string {
	return c.name + ":" + id
}

// guard applies the caller's context, the store-lifetime context, and
// the collection's operation limiter before touching the backend.
func (c *Collection) guard(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &ErrInternal{Err: err}
	}
	if app := c.store.appCtx; app != nil {
		if err := app.Err(); err != nil {
			return &ErrInternal{Err: errors.Wrap(err, "store shutting down")}
		}
	}
	if c.limiter != nil && !c.limiter.Allow() {
		c.logger.Warn("operation rate limit exceeded")
		return &ErrRateLimited{Collection: c.name}
	}
	return nil
}

func decodeDoc(raw []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "decoding document")
	}
	return doc, nil
}

// InsertOne stores doc under id. The document's stored form gains an
// "_id" field holding id. Inserting an existing id fails with
// ErrDuplicate.
func (c *Collection) InsertOne(ctx context.Context, id string, doc any) error {
	if err := c.guard(ctx); err != nil {
		return err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return &ErrInternal{Err: errors.Wrap(err, "encoding document")}
	}
	decoded, err := decodeDoc(raw)
	if err != nil {
		return &ErrInternal{Err: err}
	}
	decoded["_id"] = id

	stored, err := json.Marshal(decoded)
	if err != nil {
		return &ErrInternal{Err: errors.Wrap(err, "encoding document")}
	}

	err = c.store.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(c.key(id)); err == nil {
			return &ErrDuplicate{Collection: c.name, Key: id}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return &ErrInternal{Err: err}
		}
		if err := txn.Set(c.key(id), stored); err != nil {
			return &ErrInternal{Err: err}
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.store.cache.Delete(c.cacheKey(id))
	c.logger.Debug("document inserted", "id", id)
	return nil
}

// FindOneByID loads the document stored under id into out, serving
// repeated lookups from the ttl cache.
func (c *Collection) FindOneByID(ctx context.Context, id string, out any) error {
	if err := c.guard(ctx); err != nil {
		return err
	}

	if item := c.store.cache.Get(c.cacheKey(id)); item != nil && !item.IsExpired() {
		if err := json.Unmarshal([]byte(item.Value()), out); err == nil {
			return nil
		}
		c.store.cache.Delete(c.cacheKey(id))
	}

	var raw []byte
	err := c.store.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.key(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &ErrNotFound{Collection: c.name, Key: id}
			}
			return &ErrInternal{Err: err}
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return &ErrInternal{Err: err}
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.store.cache.Set(c.cacheKey(id), string(raw), c.store.cacheTTL)
	if err := json.Unmarshal(raw, out); err != nil {
		return &ErrInternal{Err: errors.Wrap(err, "decoding document")}
	}
	return nil
}

// FindOne loads the first document matching filter (key order) into
// out.
func (c *Collection) FindOne(ctx context.Context, filter Filter, out any) error {
	if err := c.guard(ctx); err != nil {
		return err
	}

	var raw []byte
	err := c.store.db.View(func(txn *badger.Txn) error {
		match, _, err := c.scanFirstLocked(txn, filter)
		if err != nil {
			return err
		}
		raw, err = json.Marshal(match)
		if err != nil {
			return &ErrInternal{Err: err}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &ErrInternal{Err: errors.Wrap(err, "decoding document")}
	}
	return nil
}

// Find loads every document matching filter into out (a pointer to a
// slice), applying sorting, offset, and limit.
func (c *Collection) Find(ctx context.Context, filter Filter, opts FindOptions, out any) error {
	if err := c.guard(ctx); err != nil {
		return err
	}

	var matched []map[string]any
	err := c.store.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(c.name + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return &ErrInternal{Err: err}
			}
			doc, err := decodeDoc(raw)
			if err != nil {
				return &ErrInternal{Err: err}
			}
			ok, err := filter.matches(doc)
			if err != nil {
				return &ErrInternal{Err: err}
			}
			if ok {
				matched = append(matched, doc)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if opts.SortBy != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			cmp := compareValues(matched[i][opts.SortBy], matched[j][opts.SortBy])
			if opts.Descending {
				return cmp > 0
			}
			return cmp < 0
		})
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[opts.Offset:]
		}
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	raw, err := json.Marshal(matched)
	if err != nil {
		return &ErrInternal{Err: err}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ErrInternal{Err: errors.Wrap(err, "decoding result set")}
	}
	return nil
}

// UpdateOne applies update to the first document matching filter and
// reports whether the document was modified. The read-modify-write
// runs inside a single backend transaction, so concurrent updates to
// the same document serialize rather than interleave.
func (c *Collection) UpdateOne(ctx context.Context, filter Filter, update Update) (bool, error) {
	if err := c.guard(ctx); err != nil {
		return false, err
	}

	var (
		modified   bool
		updatedKey string
	)
	err := c.store.db.Update(func(txn *badger.Txn) error {
		doc, key, err := c.scanFirstLocked(txn, filter)
		if err != nil {
			return err
		}

		changed, err := update.apply(doc)
		if err != nil {
			return &ErrInternal{Err: err}
		}
		if !changed {
			return nil
		}

		raw, err := json.Marshal(doc)
		if err != nil {
			return &ErrInternal{Err: err}
		}
		if err := txn.Set([]byte(key), raw); err != nil {
			return &ErrInternal{Err: err}
		}
		modified = true
		updatedKey = key
		return nil
	})
	if err != nil {
		return false, err
	}

	if modified {
		c.store.cache.Delete(updatedKey)
	}
	return modified, nil
}

// DeleteOne removes the first document matching filter.
func (c *Collection) DeleteOne(ctx context.Context, filter Filter) error {
	if err := c.guard(ctx); err != nil {
		return err
	}

	var deletedKey string
	err := c.store.db.Update(func(txn *badger.Txn) error {
		_, key, err := c.scanFirstLocked(txn, filter)
		if err != nil {
			return err
		}
		if err := txn.Delete([]byte(key)); err != nil {
			return &ErrInternal{Err: err}
		}
		deletedKey = key
		return nil
	})
	if err != nil {
		return err
	}

	c.store.cache.Delete(deletedKey)
	return nil
}

// Count reports how many documents match filter.
func (c *Collection) Count(ctx context.Context, filter Filter) (int, error) {
	if err := c.guard(ctx); err != nil {
		return 0, err
	}

	count := 0
	err := c.store.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(c.name + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return &ErrInternal{Err: err}
			}
			doc, err := decodeDoc(raw)
			if err != nil {
				return &ErrInternal{Err: err}
			}
			ok, err := filter.matches(doc)
			if err != nil {
				return &ErrInternal{Err: err}
			}
			if ok {
				count++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// scanFirstLocked finds the first matching document inside an open
// transaction, returning the decoded document and its storage key.
func (c *Collection) scanFirstLocked(txn *badger.Txn, filter Filter) (map[string]any, string, error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	prefix := []byte(c.name + ":")
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := string(it.Item().Key())
		raw, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, "", &ErrInternal{Err: err}
		}
		doc, err := decodeDoc(raw)
		if err != nil {
			return nil, "", &ErrInternal{Err: err}
		}
		ok, err := filter.matches(doc)
		if err != nil {
			return nil, "", &ErrInternal{Err: err}
		}
		if ok {
			return doc, key, nil
		}
	}
	return nil, "", &ErrNotFound{Collection: c.name}
}
