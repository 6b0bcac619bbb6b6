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
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/settldhq/settld/internal/notification"
	"github.com/settldhq/settld/model"
)

// ReconcileExpiredEscrows refunds held escrows whose deal expired. Each run
// is bounded to the configured batch size and is safe to run concurrently
// with itself: the refund key is derived from the deal id, so a second run
// over the same deal is an idempotent no-op.
func (s *Settld) ReconcileExpiredEscrows(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Reconciling expired escrows")
	defer span.End()

	holds, err := s.store.ListExpiredHeldEscrows(ctx, time.Now(), s.conf.Reconciliation.BatchSize)
	if err != nil {
		return logAndRecordError(span, err)
	}

	var failed int
	for _, hold := range holds {
		req := &RefundEscrowRequest{
			DealID:         hold.DealID,
			IdempotencyKey: fmt.Sprintf("escrow_expiry_%s", hold.DealID),
		}
		if _, err := s.RefundEscrow(ctx, req); err != nil {
			failed++
			logrus.WithFields(logrus.Fields{"deal_id": hold.DealID}).
				Errorf("failed to refund expired escrow: %v", err)
			notification.NotifyError(fmt.Errorf("expired escrow refund failed for deal %s: %v", hold.DealID, err))
		}
	}

	logrus.WithFields(logrus.Fields{"scanned": len(holds), "failed": failed}).Info("expired escrow reconciliation run complete")
	return nil
}

// ReconcileOverduePayments is the sole driver of overdue detection: it scans
// active missions past their payout deadline, marks each overdue and applies
// the agent's trust escalation. Marking the mission first keeps a rerun from
// double-counting the same miss.
func (s *Settld) ReconcileOverduePayments(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Reconciling overdue payments")
	defer span.End()

	now := time.Now()
	missions, err := s.store.ListOverdueMissions(ctx, now, s.conf.Reconciliation.BatchSize)
	if err != nil {
		return logAndRecordError(span, err)
	}

	var failed int
	for _, mission := range missions {
		if err := s.store.UpdateMissionStatus(ctx, mission.MissionID, model.MissionStatusOverdue); err != nil {
			failed++
			logrus.WithFields(logrus.Fields{"mission_id": mission.MissionID}).
				Errorf("failed to mark mission overdue: %v", err)
			continue
		}
		if err := s.MarkAgentOverdue(ctx, mission.AgentID, now); err != nil {
			failed++
			logrus.WithFields(logrus.Fields{"mission_id": mission.MissionID, "agent_id": mission.AgentID}).
				Errorf("failed to record agent overdue: %v", err)
		}
	}

	logrus.WithFields(logrus.Fields{"scanned": len(missions), "failed": failed}).Info("overdue payment reconciliation run complete")
	return nil
}
