// Package storetest holds the behaviour every store.Backend must share.
package storetest

import (
	"context"

	"github.com/stretchr/testify/suite"

	"stockroom/backend/internal/store"
)

// BackendSuite runs against a fresh backend per test.
type BackendSuite struct {
	suite.Suite
	NewBackend func() store.Backend
	// Atomic is set for backends whose Commit applies all or nothing.
	Atomic bool

	ctx     context.Context
	backend store.Backend
}

func (s *BackendSuite) SetupTest() {
	s.ctx = context.Background()
	s.backend = s.NewBackend()
}

func (s *BackendSuite) TearDownTest() {
	if s.backend != nil {
		s.Require().NoError(s.backend.Close())
	}
}

func (s *BackendSuite) TestMissingCollectionIsEmpty() {
	doc, err := s.backend.Read(s.ctx, store.Notifications)
	s.Require().NoError(err)
	s.Empty(doc.Body)
	s.Equal(int64(0), doc.Revision)
}

func (s *BackendSuite) TestWriteBumpsRevision() {
	rev, err := s.backend.Write(s.ctx, store.Stock, []byte(`[{"name":"Rice"}]`), store.AnyRevision)
	s.Require().NoError(err)
	s.Equal(int64(1), rev)

	rev, err = s.backend.Write(s.ctx, store.Stock, []byte(`[]`), 1)
	s.Require().NoError(err)
	s.Equal(int64(2), rev)

	doc, err := s.backend.Read(s.ctx, store.Stock)
	s.Require().NoError(err)
	s.JSONEq(`[]`, string(doc.Body))
	s.Equal(int64(2), doc.Revision)
}

func (s *BackendSuite) TestStaleRevisionIsRejected() {
	_, err := s.backend.Write(s.ctx, store.Sales, []byte(`[]`), store.AnyRevision)
	s.Require().NoError(err)

	_, err = s.backend.Write(s.ctx, store.Sales, []byte(`[{"productName":"Rice"}]`), 0)
	s.Require().ErrorIs(err, store.ErrRevisionConflict)

	doc, err := s.backend.Read(s.ctx, store.Sales)
	s.Require().NoError(err)
	s.JSONEq(`[]`, string(doc.Body))
}

func (s *BackendSuite) TestCommitWritesInOrder() {
	err := s.backend.Commit(s.ctx,
		store.Write{Collection: store.Sales, Body: []byte(`[{"productName":"Rice"}]`), Expected: 0},
		store.Write{Collection: store.Stock, Body: []byte(`[{"name":"Rice","quantity":4}]`), Expected: 0},
	)
	s.Require().NoError(err)

	sales, err := s.backend.Read(s.ctx, store.Sales)
	s.Require().NoError(err)
	s.JSONEq(`[{"productName":"Rice"}]`, string(sales.Body))

	stock, err := s.backend.Read(s.ctx, store.Stock)
	s.Require().NoError(err)
	s.JSONEq(`[{"name":"Rice","quantity":4}]`, string(stock.Body))
	s.Equal(int64(1), stock.Revision)
}

func (s *BackendSuite) TestCommitConflictLeavesEarlierState() {
	_, err := s.backend.Write(s.ctx, store.Stock, []byte(`[{"name":"Rice","quantity":5}]`), store.AnyRevision)
	s.Require().NoError(err)

	err = s.backend.Commit(s.ctx,
		store.Write{Collection: store.Sales, Body: []byte(`[{"productName":"Rice"}]`), Expected: 0},
		store.Write{Collection: store.Stock, Body: []byte(`[]`), Expected: 0},
	)
	s.Require().ErrorIs(err, store.ErrRevisionConflict)

	if !s.Atomic {
		return
	}
	sales, err := s.backend.Read(s.ctx, store.Sales)
	s.Require().NoError(err)
	s.Empty(sales.Body)
}
