// Package memory implements the store interfaces on an in-memory
// transactional database. It backs single-process deployments and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"analysisweb/internal/store"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
)

const (
	measurementsTable = "measurements"
	analysesTable     = "analyses"
	jobsTable         = "jobs"

	idIndex          = "id"
	analysisIndex    = "analysis"    // jobs by analysis
	measurementIndex = "measurement" // jobs by measurement
)

var errForeignTx = errors.New("transaction was not started by the memory store")

var _ store.Store = (*Store)(nil)

type measurementRecord struct {
	ID          string
	Measurement store.Measurement
}

type analysisRecord struct {
	ID       string
	Analysis store.Analysis
}

type jobRecord struct {
	ID            string
	AnalysisID    string
	MeasurementID string
	Job           store.Job
}

// Store keeps every entity in a memdb database. Records are copied on the
// way in and out, so callers never share memory with the database.
type Store struct {
	db *memdb.MemDB
}

// Tx wraps a memdb write transaction. Only one write transaction may be open
// at any given time, which serializes all mutations.
type Tx struct {
	txn *memdb.Txn
}

func (t *Tx) Commit() error {
	t.txn.Commit()
	return nil
}

// Rollback aborts the transaction. It is a no-op after Commit.
func (t *Tx) Rollback() error {
	t.txn.Abort()
	return nil
}

func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("failed to create memory store: %w", err)
	}
	return &Store{db: db}, nil
}

// BeginTx starts a write transaction. It blocks while another one is open.
func (s *Store) BeginTx(ctx context.Context) (store.Tx, error) {
	return &Tx{txn: s.db.Txn(true)}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// read returns the transaction to read from: tx itself, or a fresh
// read-only snapshot when tx is nil.
func (s *Store) read(tx store.Tx) (*memdb.Txn, error) {
	if tx == nil {
		return s.db.Txn(false), nil
	}
	t, ok := tx.(*Tx)
	if !ok {
		return nil, errForeignTx
	}
	return t.txn, nil
}

// write runs fn inside tx, or inside its own committed transaction when tx is nil.
func (s *Store) write(tx store.Tx, fn func(txn *memdb.Txn) error) error {
	if tx != nil {
		t, ok := tx.(*Tx)
		if !ok {
			return errForeignTx
		}
		return fn(t.txn)
	}

	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := fn(txn); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func first(txn *memdb.Txn, table string, id uuid.UUID) (interface{}, error) {
	obj, err := txn.First(table, idIndex, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	if obj == nil {
		return nil, store.ErrNotFound
	}
	return obj, nil
}

// jobIDs returns the ids of jobs found through index, oldest first.
func jobIDs(txn *memdb.Txn, index string, id uuid.UUID) ([]uuid.UUID, error) {
	it, err := txn.Get(jobsTable, index, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs: %w", err)
	}
	var jobs []store.Job
	for obj := it.Next(); obj != nil; obj = it.Next() {
		jobs = append(jobs, obj.(*jobRecord).Job)
	}
	sortJobs(jobs)

	ids := make([]uuid.UUID, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	return ids, nil
}

func sortJobs(jobs []store.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}

func schema() *memdb.DBSchema {
	byID := func() *memdb.IndexSchema {
		return &memdb.IndexSchema{
			Name:    idIndex,
			Unique:  true,
			Indexer: &memdb.StringFieldIndex{Field: "ID"},
		}
	}

	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			measurementsTable: {
				Name:    measurementsTable,
				Indexes: map[string]*memdb.IndexSchema{idIndex: byID()},
			},
			analysesTable: {
				Name:    analysesTable,
				Indexes: map[string]*memdb.IndexSchema{idIndex: byID()},
			},
			jobsTable: {
				Name: jobsTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: byID(),
					analysisIndex: {
						Name:    analysisIndex,
						Indexer: &memdb.StringFieldIndex{Field: "AnalysisID"},
					},
					measurementIndex: {
						Name:         measurementIndex,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "MeasurementID"},
					},
				},
			},
		},
	}
}
