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

	"github.com/sirupsen/logrus"

	"github.com/settldhq/settld/model"
)

// temporarySuspension is how long the second overdue strike blocks new
// escrow holds.
const temporarySuspension = 72 * time.Hour

// UpdateAgentTrustScore folds an on-time payment sample into the agent's
// running pay-time average.
func (s *Settld) UpdateAgentTrustScore(ctx context.Context, agentID string, payTimeSeconds float64) error {
	trust, err := s.store.GetOrCreateAgentTrust(ctx, agentID)
	if err != nil {
		return err
	}
	trust.ObservePayTime(payTimeSeconds)
	return s.store.UpdateAgentTrust(ctx, trust)
}

// MarkAgentOverdue records a missed payout deadline and applies the
// escalation policy: first strike is a warning, second a temporary
// suspension, third and beyond permanent. Suspension only blocks new escrow
// holds; funds already held stay where they are.
func (s *Settld) MarkAgentOverdue(ctx context.Context, agentID string, at time.Time) error {
	trust, err := s.store.GetOrCreateAgentTrust(ctx, agentID)
	if err != nil {
		return err
	}

	trust.OverdueCount++
	trust.LastOverdueAt = &at

	switch {
	case trust.OverdueCount == 1:
		logrus.WithField("agent_id", agentID).Warn("agent missed a payout deadline, warning issued")
		s.queue.EnqueueWebhook(ctx, NewWebhook{Event: EventAgentOverdue, Payload: trust})
	case trust.OverdueCount == 2:
		until := at.Add(temporarySuspension)
		trust.SuspendedUntil = &until
		logrus.WithField("agent_id", agentID).Warn("agent temporarily suspended after second overdue")
		s.queue.EnqueueWebhook(ctx, NewWebhook{Event: EventAgentSuspended, Payload: trust})
	default:
		trust.IsSuspendedForOverdue = true
		logrus.WithField("agent_id", agentID).Error("agent permanently suspended after repeated overdues")
		s.queue.EnqueueWebhook(ctx, NewWebhook{Event: EventAgentSuspended, Payload: trust})
	}

	return s.store.UpdateAgentTrust(ctx, trust)
}

// GetAgentTrust returns the agent's current trust statistics.
func (s *Settld) GetAgentTrust(ctx context.Context, agentID string) (*model.AgentTrust, error) {
	return s.store.GetOrCreateAgentTrust(ctx, agentID)
}
