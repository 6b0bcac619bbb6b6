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
	"encoding/json"
	"log"

	"github.com/hibiken/asynq"

	"github.com/settldhq/settld/config"
	redis_db "github.com/settldhq/settld/internal/redis-db"
)

// Task type names shared between enqueuers and the worker process.
const (
	TaskWebhook          = "webhook"
	TaskReconcileEscrows = "reconcile:escrows"
	TaskReconcileOverdue = "reconcile:overdue"
)

// Queue wraps the asynq client used for webhook delivery and reconciliation
// scheduling.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a new Queue instance from the Redis configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB}
	return &Queue{
		Client:    asynq.NewClient(queueOptions),
		Inspector: asynq.NewInspector(queueOptions),
	}
}

// EnqueueWebhook queues a settlement event for asynchronous delivery. Failures
// here are logged and swallowed: a notification problem must never affect
// ledger correctness.
func (q *Queue) EnqueueWebhook(_ context.Context, event NewWebhook) {
	conf, err := config.Fetch()
	if err != nil {
		log.Println("Error fetching config:", err)
		return
	}
	if conf.Notification.Webhook.Url == "" {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Println("Error marshaling webhook payload:", err)
		return
	}
	task := asynq.NewTask(TaskWebhook, payload, asynq.Queue(conf.Queue.WebhookQueue))
	if _, err := q.Client.Enqueue(task); err != nil {
		log.Println("Error enqueuing webhook:", err)
	}
}
