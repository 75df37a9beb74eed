package db

import "github.com/jmoiron/sqlx"

// Pool splits query traffic into a write handle and a read handle. The
// split exists for SQLite: WAL mode supports many readers next to one
// writer, so the writer handle is pinned to a single connection while the
// reader handle fans out. Postgres pools internally, so both sides share
// one handle there.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewPool builds a pool from distinct writer and reader handles.
func NewPool(writer, reader *sqlx.DB) *Pool {
	return &Pool{writer: writer, reader: reader}
}

// NewSharedPool builds a pool where reads and writes go through the same
// handle. Close closes it once.
func NewSharedPool(shared *sqlx.DB) *Pool {
	return &Pool{writer: shared, reader: shared}
}

// Writer is the handle for INSERT, UPDATE, DELETE, and transactions.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader is the handle for SELECT queries.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Close closes both handles, once each.
func (p *Pool) Close() error {
	err := p.writer.Close()
	if p.reader == p.writer {
		return err
	}
	if rErr := p.reader.Close(); err == nil {
		err = rErr
	}
	return err
}
