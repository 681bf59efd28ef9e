package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/contractor/core"
)

const documentsBucket = "documents"

// DocumentStore keeps document records in a Backend.
type DocumentStore struct {
	backend Backend
}

// NewDocumentStore creates a document record store over backend.
func NewDocumentStore(backend Backend) (*DocumentStore, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", core.ErrConfiguration)
	}
	return &DocumentStore{backend: backend}, nil
}

// GetDocument returns a record or ErrNotFound.
func (s *DocumentStore) GetDocument(ctx context.Context, id core.DocumentID) (*core.DocumentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec *core.DocumentRecord
	err := s.backend.WithTx(func(tx Tx) error {
		data, err := tx.Get(documentsBucket, []byte(id))
		if err != nil {
			return err
		}
		rec, err = UnmarshalDocumentRecord(data)
		return err
	}, false)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, unavailable("get document", err)
	}
	return rec, nil
}

// PutDocument creates or replaces a record.
func (s *DocumentStore) PutDocument(ctx context.Context, rec *core.DocumentRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := MarshalDocumentRecord(rec)
	if err != nil {
		return err
	}
	err = s.backend.WithTx(func(tx Tx) error {
		return tx.Put(documentsBucket, []byte(rec.ID), data)
	}, true)
	if err != nil {
		return unavailable("put document", err)
	}
	return nil
}

// DeleteDocument removes a record. Missing records are not an error.
func (s *DocumentStore) DeleteDocument(ctx context.Context, id core.DocumentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.backend.WithTx(func(tx Tx) error {
		return tx.Delete(documentsBucket, []byte(id))
	}, true)
	if err != nil {
		return unavailable("delete document", err)
	}
	return nil
}

// ListDocuments returns every record ordered by id.
func (s *DocumentStore) ListDocuments(ctx context.Context) ([]*core.DocumentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*core.DocumentRecord
	err := s.backend.WithTx(func(tx Tx) error {
		return tx.ForEach(documentsBucket, func(_, value []byte) error {
			rec, err := UnmarshalDocumentRecord(value)
			if err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	}, false)
	if err != nil {
		return nil, unavailable("list documents", err)
	}
	return out, nil
}

// ResetDocuments removes every record.
func (s *DocumentStore) ResetDocuments(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.backend.WithTx(func(tx Tx) error {
		return tx.DeleteBucket(documentsBucket)
	}, true)
	if err != nil {
		return unavailable("reset documents", err)
	}
	return nil
}

var _ DocumentRepository = (*DocumentStore)(nil)
