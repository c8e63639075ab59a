package registry

import (
	"context"
	"fmt"

	"recipes/internal/domain"
	"recipes/internal/infra"
	"recipes/internal/sqlinline"
)

// Postgres persists connections in the ws_connections table.
type Postgres struct {
	sql infra.SQLExecutor
}

func NewPostgres(sql infra.SQLExecutor) *Postgres {
	return &Postgres{sql: sql}
}

func (p *Postgres) Register(ctx context.Context, id string, meta domain.Metadata) error {
	if id == "" {
		return ErrInvalidID
	}
	_, err := p.sql.Exec(ctx, sqlinline.QUpsertConnection,
		id, meta.GatewayID, meta.RemoteAddr, meta.Country, meta.Locale, meta.ConnectedAt)
	if err != nil {
		return fmt.Errorf("registry: upsert connection: %w", err)
	}
	return nil
}

func (p *Postgres) Unregister(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if _, err := p.sql.Exec(ctx, sqlinline.QDeleteConnection, id); err != nil {
		return fmt.Errorf("registry: delete connection: %w", err)
	}
	return nil
}

func (p *Postgres) Lookup(ctx context.Context, id string) (domain.Metadata, bool, error) {
	if id == "" {
		return domain.Metadata{}, false, nil
	}
	var meta domain.Metadata
	row := p.sql.QueryRow(ctx, sqlinline.QSelectConnection, id)
	if err := row.Scan(&meta.GatewayID, &meta.RemoteAddr, &meta.Country, &meta.Locale, &meta.ConnectedAt); err != nil {
		if infra.IsNoRows(err) {
			return domain.Metadata{}, false, nil
		}
		return domain.Metadata{}, false, fmt.Errorf("registry: select connection: %w", err)
	}
	return meta, true, nil
}

// PurgeGateway drops every connection owned by gatewayID, used when a
// gateway restarts and its previous sockets are known to be dead.
func (p *Postgres) PurgeGateway(ctx context.Context, gatewayID string) (int64, error) {
	tag, err := p.sql.Exec(ctx, sqlinline.QDeleteGatewayConnections, gatewayID)
	if err != nil {
		return 0, fmt.Errorf("registry: purge gateway: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ Registry = (*Postgres)(nil)
