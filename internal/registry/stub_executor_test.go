package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"recipes/internal/domain"
	"recipes/internal/sqlinline"
)

// tableExecutor emulates the ws_connections table for the queries the
// Postgres registry issues.
type tableExecutor struct {
	mu   sync.Mutex
	rows map[string]domain.Metadata
}

func newTableExecutor() *tableExecutor {
	return &tableExecutor{rows: make(map[string]domain.Metadata)}
}

func (s *tableExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch query {
	case sqlinline.QUpsertConnection:
		s.rows[args[0].(string)] = domain.Metadata{
			GatewayID:   args[1].(string),
			RemoteAddr:  args[2].(string),
			Country:     args[3].(string),
			Locale:      args[4].(string),
			ConnectedAt: args[5].(time.Time),
		}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case sqlinline.QDeleteConnection:
		id := args[0].(string)
		if _, ok := s.rows[id]; !ok {
			return pgconn.NewCommandTag("DELETE 0"), nil
		}
		delete(s.rows, id)
		return pgconn.NewCommandTag("DELETE 1"), nil
	case sqlinline.QDeleteGatewayConnections:
		n := 0
		for id, meta := range s.rows {
			if meta.GatewayID == args[0].(string) {
				delete(s.rows, id)
				n++
			}
		}
		return pgconn.NewCommandTag(fmt.Sprintf("DELETE %d", n)), nil
	}
	return pgconn.CommandTag{}, errors.New("unexpected exec query")
}

func (s *tableExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	if query != sqlinline.QSelectConnection {
		return stubRow{err: errors.New("unexpected query")}
	}
	meta, ok := s.rows[args[0].(string)]
	if !ok {
		return stubRow{err: pgx.ErrNoRows}
	}
	return stubRow{meta: meta}
}

func (s *tableExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	meta domain.Metadata
	err  error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != 5 {
		return errors.New("unexpected dest count")
	}
	*dest[0].(*string) = r.meta.GatewayID
	*dest[1].(*string) = r.meta.RemoteAddr
	*dest[2].(*string) = r.meta.Country
	*dest[3].(*string) = r.meta.Locale
	*dest[4].(*time.Time) = r.meta.ConnectedAt
	return nil
}
