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

package main

import (
	"context"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/settldhq/settld"
	"github.com/settldhq/settld/config"
	redis_db "github.com/settldhq/settld/internal/redis-db"
)

func redisClientOpt(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return asynq.RedisClientOpt{}, fmt.Errorf("error parsing Redis URL: %v", err)
	}
	return asynq.RedisClientOpt{
		Addr:     redisOption.Addr,
		Password: redisOption.Password,
		DB:       redisOption.DB,
	}, nil
}

// processReconcileEscrows refunds held escrows whose deal expired.
func (app *settldInstance) processReconcileEscrows(ctx context.Context, _ *asynq.Task) error {
	return app.settld.ReconcileExpiredEscrows(ctx)
}

// processReconcileOverdue marks missed payout deadlines and applies trust
// escalation.
func (app *settldInstance) processReconcileOverdue(ctx context.Context, _ *asynq.Task) error {
	return app.settld.ReconcileOverduePayments(ctx)
}

// startScheduler registers the periodic reconciliation tasks on their
// configured cron schedules.
func startScheduler(conf *config.Configuration, opt asynq.RedisClientOpt) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(opt, nil)

	escrowTask := asynq.NewTask(settld.TaskReconcileEscrows, nil, asynq.Queue(conf.Queue.ReconciliationQueue))
	if _, err := scheduler.Register(conf.Reconciliation.EscrowExpirySchedule, escrowTask); err != nil {
		return nil, fmt.Errorf("registering escrow expiry schedule: %v", err)
	}
	overdueTask := asynq.NewTask(settld.TaskReconcileOverdue, nil, asynq.Queue(conf.Queue.ReconciliationQueue))
	if _, err := scheduler.Register(conf.Reconciliation.OverdueSchedule, overdueTask); err != nil {
		return nil, fmt.Errorf("registering overdue schedule: %v", err)
	}

	if err := scheduler.Start(); err != nil {
		return nil, fmt.Errorf("starting scheduler: %v", err)
	}
	return scheduler, nil
}

// workerCommands starts the asynq worker process: webhook delivery plus the
// scheduled reconciliation passes.
func workerCommands(app *settldInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start settld workers",
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			opt, err := redisClientOpt(conf)
			if err != nil {
				log.Fatal(err)
			}

			queues := map[string]int{
				conf.Queue.WebhookQueue:        3,
				conf.Queue.ReconciliationQueue: 1,
			}
			srv := asynq.NewServer(opt, asynq.Config{
				Concurrency: 1,
				Queues:      queues,
			})

			mux := asynq.NewServeMux()
			mux.HandleFunc(settld.TaskWebhook, settld.ProcessWebhook)
			mux.HandleFunc(settld.TaskReconcileEscrows, app.processReconcileEscrows)
			mux.HandleFunc(settld.TaskReconcileOverdue, app.processReconcileOverdue)

			scheduler, err := startScheduler(conf, opt)
			if err != nil {
				log.Fatal(err)
			}
			defer scheduler.Shutdown()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run worker server: %v", err)
			}
		},
	}

	return cmd
}
