// Package boltstore implements a durable engine.ProposalStore on a bbolt
// file. One bucket holds all proposal records, JSON encoded and keyed by
// their id. Compare and swap runs entirely inside a single bbolt update
// transaction, which makes the version check and the write atomic.
package boltstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/accord-one/accord/engine"
	"github.com/accord-one/accord/errors"
)

var bucketProposals = []byte("proposals")

// Store is a bbolt backed proposal store.
type Store struct {
	db *bolt.DB
}

var _ engine.ProposalStore = (*Store)(nil)

// Open creates or opens the database file at the given path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		if err == bolt.ErrTimeout {
			return nil, errors.Wrap(errors.ErrTransient, "database file locked")
		}
		return nil, errors.Wrapf(errors.ErrTransient, "open database: %v", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketProposals)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrapf(errors.ErrTransient, "create bucket: %v", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(_ context.Context, id engine.ProposalID) (*engine.Proposal, error) {
	var p *engine.Proposal
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketProposals).Get([]byte(id))
		if raw == nil {
			return errors.Wrapf(errors.ErrNotFound, "proposal %q", id)
		}
		var err error
		p, err = decode(raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) Create(_ context.Context, p *engine.Proposal) (engine.ProposalID, error) {
	rec := p.Copy()
	rec.ID = engine.ProposalID(uuid.NewString())
	rec.Version = 0
	if err := rec.Validate(); err != nil {
		return "", errors.Wrap(err, "invalid proposal")
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProposals)
		if b.Get([]byte(rec.ID)) != nil {
			return errors.Wrapf(errors.ErrDuplicate, "proposal %q", rec.ID)
		}
		raw, err := encode(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.ID), raw)
	})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (s *Store) CompareAndSwap(_ context.Context, id engine.ProposalID, expectedVersion int64, mutate func(p *engine.Proposal) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProposals)
		raw := b.Get([]byte(id))
		if raw == nil {
			return errors.Wrapf(errors.ErrNotFound, "proposal %q", id)
		}
		cur, err := decode(raw)
		if err != nil {
			return err
		}
		if cur.Version != expectedVersion {
			return errors.Wrapf(errors.ErrConflict, "version is %d, expected %d", cur.Version, expectedVersion)
		}

		if err := mutate(cur); err != nil {
			return err
		}
		cur.ID = id
		cur.Version = expectedVersion + 1
		if err := cur.Validate(); err != nil {
			return errors.Wrap(err, "invalid mutation")
		}
		out, err := encode(cur)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
}

func (s *Store) Query(_ context.Context, f engine.Filter) ([]*engine.Proposal, error) {
	var out []*engine.Proposal
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProposals).ForEach(func(_, raw []byte) error {
			p, err := decode(raw)
			if err != nil {
				return err
			}
			if f.Match(p) {
				out = append(out, p)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func encode(p *engine.Proposal) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrState, "cannot encode proposal: %v", err)
	}
	return raw, nil
}

func decode(raw []byte) (*engine.Proposal, error) {
	var p engine.Proposal
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrapf(errors.ErrState, "cannot decode proposal: %v", err)
	}
	return &p, nil
}
