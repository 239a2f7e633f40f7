// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package docstore implements a filtered JSON document store on top of
// BadgerDB. Documents live in named collections, carry a string "_id", and
// are queried with Filter maps. All mutating operations take the store's
// write lock and run inside a single Badger transaction, so a
// filter-then-mutate sequence like "delete the member if it still exists"
// observes and changes the store atomically: of N concurrent deletes for
// the same document, exactly one succeeds.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	storagebadger "github.com/AleutianAI/aleutian-stage/services/stage/storage/badger"
)

// ErrNoDocuments indicates that a query matched nothing.
var ErrNoDocuments = errors.New("docstore: no documents in result")

// ErrMissingID indicates an inserted document without an "_id" field.
var ErrMissingID = errors.New("docstore: document has no _id")

const keyPrefix = "c:"

// Store is a collection-oriented document store backed by BadgerDB.
type Store struct {
	db *storagebadger.DB
	mu sync.Mutex
}

// New creates a Store on top of an open BadgerDB instance. The caller
// retains ownership of the database handle.
func New(db *storagebadger.DB) *Store {
	return &Store{db: db}
}

func docKey(collection, id string) []byte {
	return []byte(keyPrefix + collection + ":" + id)
}

func collectionPrefix(collection string) []byte {
	return []byte(keyPrefix + collection + ":")
}

// NewID returns a fresh document id.
func NewID() string {
	return uuid.NewString()
}

// Insert stores a document in the collection. The document must marshal to
// a JSON object containing a non-empty "_id" string.
func (s *Store) Insert(ctx context.Context, collection string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("document is not an object: %w", err)
	}
	id, _ := obj["_id"].(string)
	if id == "" {
		return ErrMissingID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(docKey(collection, id), raw)
	})
}

// iterate decodes every document in the collection and calls fn until fn
// returns false or iteration ends.
func iterate(txn *badger.Txn, collection string, fn func(id string, doc map[string]any, raw []byte) (bool, error)) error {
	prefix := collectionPrefix(collection)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		id := strings.TrimPrefix(string(item.Key()), string(prefix))
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("read document %s: %w", id, err)
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("decode document %s: %w", id, err)
		}
		cont, err := fn(id, doc, raw)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// findRaw returns the first matching document within the transaction.
// Filters on "_id" short-circuit to a point lookup.
func findRaw(txn *badger.Txn, collection string, filter Filter) (map[string]any, []byte, error) {
	if id, ok := filter["_id"].(string); ok {
		item, err := txn.Get(docKey(collection, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil, ErrNoDocuments
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read document %s: %w", id, err)
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return nil, nil, fmt.Errorf("read document %s: %w", id, err)
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, nil, fmt.Errorf("decode document %s: %w", id, err)
		}
		if !filter.Matches(doc) {
			return nil, nil, ErrNoDocuments
		}
		return doc, raw, nil
	}

	var (
		foundDoc map[string]any
		foundRaw []byte
	)
	err := iterate(txn, collection, func(id string, doc map[string]any, raw []byte) (bool, error) {
		if filter.Matches(doc) {
			foundDoc = doc
			foundRaw = raw
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return nil, nil, err
	}
	if foundDoc == nil {
		return nil, nil, ErrNoDocuments
	}
	return foundDoc, foundRaw, nil
}

// FindOne returns the first document in the collection matching the filter,
// or ErrNoDocuments.
func FindOne[T any](ctx context.Context, s *Store, collection string, filter Filter) (*T, error) {
	var result *T
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		_, raw, err := findRaw(txn, collection, filter)
		if err != nil {
			return err
		}
		var out T
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("decode document: %w", err)
		}
		result = &out
		return nil
	})
	return result, err
}

// FindMany returns every document in the collection matching the filter.
// No matches yields an empty slice, not an error.
func FindMany[T any](ctx context.Context, s *Store, collection string, filter Filter) ([]T, error) {
	results := []T{}
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return iterate(txn, collection, func(id string, doc map[string]any, raw []byte) (bool, error) {
			if !filter.Matches(doc) {
				return true, nil
			}
			var out T
			if err := json.Unmarshal(raw, &out); err != nil {
				return false, fmt.Errorf("decode document %s: %w", id, err)
			}
			results = append(results, out)
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Count returns the number of documents matching the filter.
func (s *Store) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	count := 0
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return iterate(txn, collection, func(id string, doc map[string]any, raw []byte) (bool, error) {
			if filter.Matches(doc) {
				count++
			}
			return true, nil
		})
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// setPath writes a value at a dotted path, creating intermediate objects.
func setPath(doc map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = normalize(value)
}

func applyPatch(doc map[string]any, patch map[string]any) {
	for path, value := range patch {
		setPath(doc, path, value)
	}
}

// FindOneAndUpdate applies the patch to the first document matching the
// filter and returns the updated document. Patch keys are dotted paths.
//
// With upsert true, a missing document is created instead: the new document
// is seeded from the filter's literal (non-Matcher) fields, the patch is
// applied on top, and a fresh "_id" is generated unless the filter or patch
// supplied one. The returned bool reports whether the document was created.
//
// The find-and-mutate pair runs under the store's write lock in one
// transaction, so concurrent upserts against the same filter produce
// exactly one creation.
func FindOneAndUpdate[T any](ctx context.Context, s *Store, collection string, filter Filter, patch map[string]any, upsert bool) (*T, bool, error) {
	var (
		result  *T
		created bool
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		doc, _, err := findRaw(txn, collection, filter)
		switch {
		case err == nil:
			applyPatch(doc, patch)
		case errors.Is(err, ErrNoDocuments) && upsert:
			doc = map[string]any{}
			for path, value := range filter {
				if _, isMatcher := value.(Matcher); isMatcher {
					continue
				}
				setPath(doc, path, value)
			}
			applyPatch(doc, patch)
			if id, _ := doc["_id"].(string); id == "" {
				doc["_id"] = NewID()
			}
			created = true
		default:
			return err
		}

		id, _ := doc["_id"].(string)
		if id == "" {
			return ErrMissingID
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal document: %w", err)
		}
		if err := txn.Set(docKey(collection, id), raw); err != nil {
			return err
		}
		var out T
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("decode document: %w", err)
		}
		result = &out
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

// UpdateMany applies the patch to every matching document and returns the
// updated documents.
func UpdateMany[T any](ctx context.Context, s *Store, collection string, filter Filter, patch map[string]any) ([]T, error) {
	results := []T{}

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		type pending struct {
			key []byte
			raw []byte
		}
		var writes []pending
		err := iterate(txn, collection, func(id string, doc map[string]any, raw []byte) (bool, error) {
			if !filter.Matches(doc) {
				return true, nil
			}
			applyPatch(doc, patch)
			updated, err := json.Marshal(doc)
			if err != nil {
				return false, fmt.Errorf("marshal document %s: %w", id, err)
			}
			var out T
			if err := json.Unmarshal(updated, &out); err != nil {
				return false, fmt.Errorf("decode document %s: %w", id, err)
			}
			writes = append(writes, pending{key: docKey(collection, id), raw: updated})
			results = append(results, out)
			return true, nil
		})
		if err != nil {
			return err
		}
		// Writes are deferred past the iterator; Badger disallows Set while
		// an iterator is open on the same transaction.
		for _, w := range writes {
			if err := txn.Set(w.key, w.raw); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// FindOneAndDelete removes the first document matching the filter and
// returns it, or ErrNoDocuments if nothing matched. Concurrent deletes of
// the same document see exactly one winner.
func FindOneAndDelete[T any](ctx context.Context, s *Store, collection string, filter Filter) (*T, error) {
	var result *T

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		doc, raw, err := findRaw(txn, collection, filter)
		if err != nil {
			return err
		}
		id, _ := doc["_id"].(string)
		if err := txn.Delete(docKey(collection, id)); err != nil {
			return err
		}
		var out T
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("decode document: %w", err)
		}
		result = &out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteMany removes every matching document and returns the removed
// documents so callers can emit follow-up events for each.
func DeleteMany[T any](ctx context.Context, s *Store, collection string, filter Filter) ([]T, error) {
	results := []T{}

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		var keys [][]byte
		err := iterate(txn, collection, func(id string, doc map[string]any, raw []byte) (bool, error) {
			if !filter.Matches(doc) {
				return true, nil
			}
			var out T
			if err := json.Unmarshal(raw, &out); err != nil {
				return false, fmt.Errorf("decode document %s: %w", id, err)
			}
			keys = append(keys, docKey(collection, id))
			results = append(results, out)
			return true, nil
		})
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
