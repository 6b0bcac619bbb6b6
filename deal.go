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

package settld

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/settldhq/settld/internal/apierror"
	"github.com/settldhq/settld/model"
)

// RegisterDealRequest registers a deal the settlement core will hold escrow
// for. The wider marketplace lifecycle lives with external collaborators.
type RegisterDealRequest struct {
	DealID    string    `json:"deal_id"`
	AgentID   string    `json:"agent_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r *RegisterDealRequest) validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.DealID, validation.Required),
		validation.Field(&r.AgentID, validation.Required),
	)
}

// RegisterDeal makes a deal known to settlement. Idempotent on deal id.
func (s *Settld) RegisterDeal(ctx context.Context, req *RegisterDealRequest) (*model.Deal, error) {
	if err := req.validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	return s.store.CreateDeal(ctx, &model.Deal{
		DealID:    req.DealID,
		AgentID:   req.AgentID,
		Status:    model.DealStatusFunded,
		ExpiresAt: req.ExpiresAt,
	})
}

// RegisterMissionRequest registers an operator's assignment under a deal.
type RegisterMissionRequest struct {
	MissionID        string    `json:"mission_id"`
	DealID           string    `json:"deal_id"`
	AgentID          string    `json:"agent_id"`
	OperatorID       string    `json:"operator_id"`
	PayoutDeadlineAt time.Time `json:"payout_deadline_at"`
}

func (r *RegisterMissionRequest) validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.MissionID, validation.Required),
		validation.Field(&r.DealID, validation.Required),
		validation.Field(&r.AgentID, validation.Required),
		validation.Field(&r.OperatorID, validation.Required),
	)
}

// RegisterMission makes a mission known to settlement. Idempotent on mission id.
func (s *Settld) RegisterMission(ctx context.Context, req *RegisterMissionRequest) (*model.Mission, error) {
	if err := req.validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	return s.store.CreateMission(ctx, &model.Mission{
		MissionID:        req.MissionID,
		DealID:           req.DealID,
		AgentID:          req.AgentID,
		OperatorID:       req.OperatorID,
		Status:           model.MissionStatusActive,
		PayoutDeadlineAt: req.PayoutDeadlineAt,
	})
}
