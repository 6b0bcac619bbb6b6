/*
Copyright 2025 Settld Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"

	"github.com/settldhq/settld/internal/apierror"
	"github.com/settldhq/settld/model"
)

// GetOrCreateAgentTrust returns the agent's trust record, creating a zeroed
// row on first access.
func (d Datasource) GetOrCreateAgentTrust(ctx context.Context, agentID string) (*model.AgentTrust, error) {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO settld.agent_trust (agent_id) VALUES ($1)
		ON CONFLICT (agent_id) DO NOTHING
	`, agentID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create agent trust record", err)
	}
	return d.getAgentTrust(ctx, agentID)
}

func (d Datasource) getAgentTrust(ctx context.Context, agentID string) (*model.AgentTrust, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT agent_id, paid_count, overdue_count, avg_pay_time_seconds, is_suspended_for_overdue, suspended_until, last_overdue_at, updated_at
		FROM settld.agent_trust
		WHERE agent_id = $1
	`, agentID)

	t := &model.AgentTrust{}
	var suspendedUntil, lastOverdueAt sql.NullTime
	err := row.Scan(&t.AgentID, &t.PaidCount, &t.OverdueCount, &t.AvgPayTimeSeconds,
		&t.IsSuspendedForOverdue, &suspendedUntil, &lastOverdueAt, &t.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Agent trust record not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve agent trust record", err)
	}
	if suspendedUntil.Valid {
		t.SuspendedUntil = &suspendedUntil.Time
	}
	if lastOverdueAt.Valid {
		t.LastOverdueAt = &lastOverdueAt.Time
	}
	return t, nil
}

// UpdateAgentTrust persists the full trust record.
func (d Datasource) UpdateAgentTrust(ctx context.Context, t *model.AgentTrust) error {
	var suspendedUntil, lastOverdueAt interface{}
	if t.SuspendedUntil != nil {
		suspendedUntil = *t.SuspendedUntil
	}
	if t.LastOverdueAt != nil {
		lastOverdueAt = *t.LastOverdueAt
	}
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE settld.agent_trust
		SET paid_count = $2, overdue_count = $3, avg_pay_time_seconds = $4,
			is_suspended_for_overdue = $5, suspended_until = $6, last_overdue_at = $7, updated_at = NOW()
		WHERE agent_id = $1
	`, t.AgentID, t.PaidCount, t.OverdueCount, t.AvgPayTimeSeconds,
		t.IsSuspendedForOverdue, suspendedUntil, lastOverdueAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update agent trust record", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Agent trust record not found", nil)
	}
	return nil
}
