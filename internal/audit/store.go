package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// nullableUUID returns nil for the zero UUID so the column is written as
// SQL NULL instead of an all-zero value.
func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

// pgxBatch accumulates audit log inserts and sends them as a single
// pipelined pgx.Batch, rather than one round trip per row.
type pgxBatch struct {
	batch pgx.Batch
}

func (b *pgxBatch) queue(e Entry) {
	var ipText *string
	if e.IPAddress != nil {
		s := e.IPAddress.String()
		ipText = &s
	}

	b.batch.Queue(`
		INSERT INTO audit_log_entries
			(organization_id, action, resource, resource_id, detail, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, e.OrganizationID, e.Action, e.Resource, nullableUUID(e.ResourceID), e.Detail, ipText, e.UserAgent)
}

func (b *pgxBatch) send(ctx context.Context, pool *pgxpool.Pool) error {
	if b.batch.Len() == 0 {
		return nil
	}
	br := pool.SendBatch(ctx, &b.batch)
	defer br.Close()

	for i := 0; i < b.batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
