// Package jobqueue provides a persistent job queue with per-queue mutual
// exclusion: jobs that share a queue name run one at a time in the order
// they were added, while jobs of different queues run in the same pass.
//
// The package is organised around four components:
//
//   - Job: one unit of work, a queue name and an action (kind + target)
//   - State: the persisted document holding the running and queued jobs
//   - Store: loads and atomically updates the State (memory, file, Redis, PostgreSQL, MongoDB)
//   - Manager: enqueues jobs, promotes them to running and executes them
//
// Executing a job is delegated to an Executor. Registry is the default
// executor: procedures and runnable types are registered by name at startup
// and scripts are launched as child processes.
//
// # Lifecycle
//
//  1. Enqueue validates the job, assigns the next free id and appends it to
//     the queued jobs, which stay sorted by AddedAt.
//  2. RunAll (or Run for one queue name) moves each queued job to running when
//     no other job of its queue is running, then executes every running job
//     in AddedAt order.
//  3. Before execution the attempt is recorded (StartedAt, Attempts). A
//     successful job is removed; a failed one stays in running and is
//     executed again by the next pass.
//
// Every step is a separate Store.Update, so jobs execute outside any store
// lock and other processes can enqueue in the meantime.
//
// # Usage
//
//	reg := jobqueue.NewRegistry()
//	_ = reg.RegisterProcedure("send_digest", func(ctx context.Context) error {
//	    return mailer.SendDigest(ctx)
//	})
//
//	mgr, err := jobqueue.NewManager(filestore.New("queues.json"), reg)
//	if err != nil {
//	    return err
//	}
//
//	job, _ := jobqueue.NewJob(jobqueue.ActionProcedure, "send_digest", "mail")
//	if _, err := mgr.Enqueue(ctx, job); err != nil {
//	    return err
//	}
//
//	report, err := mgr.RunAll(ctx)
//
// # Persistence format
//
// All stores share one JSON document:
//
//	{
//	    "running": [],
//	    "queued": [
//	        {
//	            "qid": 1,
//	            "queue_name": "mail",
//	            "action": "send_digest",
//	            "action_type": 1,
//	            "added_at": "2024-01-01 10:00:00",
//	            "started_at": null,
//	            "attempts": 0
//	        }
//	    ]
//	}
//
// Timestamps are UTC with second resolution. A document that cannot be
// decoded is re-read up to DefaultReadAttempts times before the store gives
// up with ErrStoreCorrupt.
package jobqueue
