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
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/settldhq/settld/internal/apierror"
	"github.com/settldhq/settld/model"
)

// CreateDeal registers a deal the settlement core will hold escrow for.
func (d Datasource) CreateDeal(ctx context.Context, deal *model.Deal) (*model.Deal, error) {
	if deal.DealID == "" {
		deal.DealID = model.GenerateUUIDWithSuffix("deal")
	}
	if deal.Status == "" {
		deal.Status = model.DealStatusFunded
	}
	deal.CreatedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO settld.deals (deal_id, agent_id, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, deal.DealID, deal.AgentID, deal.Status, nullTime(deal.ExpiresAt), deal.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return d.GetDeal(ctx, deal.DealID)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create deal", err)
	}
	return deal, nil
}

// GetDeal retrieves a deal by its external identifier.
func (d Datasource) GetDeal(ctx context.Context, dealID string) (*model.Deal, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT deal_id, agent_id, status, expires_at, created_at
		FROM settld.deals
		WHERE deal_id = $1
	`, dealID)

	deal := &model.Deal{}
	var expiresAt sql.NullTime
	err := row.Scan(&deal.DealID, &deal.AgentID, &deal.Status, &expiresAt, &deal.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Deal '%s' not found", dealID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve deal", err)
	}
	if expiresAt.Valid {
		deal.ExpiresAt = expiresAt.Time
	}
	return deal, nil
}

// CreateMission registers a mission under an existing deal.
func (d Datasource) CreateMission(ctx context.Context, m *model.Mission) (*model.Mission, error) {
	if m.MissionID == "" {
		m.MissionID = model.GenerateUUIDWithSuffix("msn")
	}
	if m.Status == "" {
		m.Status = model.MissionStatusActive
	}
	m.CreatedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO settld.missions (mission_id, deal_id, agent_id, operator_id, status, payout_deadline_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.MissionID, m.DealID, m.AgentID, m.OperatorID, m.Status, nullTime(m.PayoutDeadlineAt), m.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return d.GetMission(ctx, m.MissionID)
			case "foreign_key_violation":
				return nil, apierror.NewAPIError(apierror.ErrNotFound,
					fmt.Sprintf("Deal '%s' not found for mission", m.DealID), err)
			}
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create mission", err)
	}
	return m, nil
}

// GetMission retrieves a mission by its external identifier.
func (d Datasource) GetMission(ctx context.Context, missionID string) (*model.Mission, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT mission_id, deal_id, agent_id, operator_id, status, payout_deadline_at, created_at
		FROM settld.missions
		WHERE mission_id = $1
	`, missionID)
	return scanMissionRow(row, missionID)
}

func scanMissionRow(row *sql.Row, missionID string) (*model.Mission, error) {
	m := &model.Mission{}
	var deadlineAt sql.NullTime
	err := row.Scan(&m.MissionID, &m.DealID, &m.AgentID, &m.OperatorID, &m.Status, &deadlineAt, &m.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Mission '%s' not found", missionID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve mission", err)
	}
	if deadlineAt.Valid {
		m.PayoutDeadlineAt = deadlineAt.Time
	}
	return m, nil
}

// UpdateMissionStatus sets a mission's settlement state.
func (d Datasource) UpdateMissionStatus(ctx context.Context, missionID, status string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE settld.missions SET status = $2 WHERE mission_id = $1
	`, missionID, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update mission status", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Mission '%s' not found", missionID), nil)
	}
	return nil
}

// ListOverdueMissions returns active missions whose payout deadline has
// passed, bounded per reconciliation run.
func (d Datasource) ListOverdueMissions(ctx context.Context, asOf time.Time, limit int) ([]model.Mission, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT mission_id, deal_id, agent_id, operator_id, status, payout_deadline_at, created_at
		FROM settld.missions
		WHERE status = 'active' AND payout_deadline_at IS NOT NULL AND payout_deadline_at < $1
		ORDER BY payout_deadline_at ASC
		LIMIT $2
	`, asOf, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve overdue missions", err)
	}
	defer rows.Close()

	var missions []model.Mission
	for rows.Next() {
		m := model.Mission{}
		var deadlineAt sql.NullTime
		err = rows.Scan(&m.MissionID, &m.DealID, &m.AgentID, &m.OperatorID, &m.Status, &deadlineAt, &m.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan mission", err)
		}
		if deadlineAt.Valid {
			m.PayoutDeadlineAt = deadlineAt.Time
		}
		missions = append(missions, m)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over missions", err)
	}
	return missions, nil
}
