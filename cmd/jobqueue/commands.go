package main

import (
	"fmt"

	"github.com/dmitrymomot/jobqueue/pkg/jobqueue"
	"github.com/dmitrymomot/jobqueue/pkg/logger"
)

// EnqueueCommand adds one job.
type EnqueueCommand struct {
	Queue  string `arg:"" name:"queue" help:"Queue name."`
	Action string `arg:"" name:"action" help:"Procedure name, type name or script path."`
	Type   string `name:"type" short:"t" enum:"procedure,instance,script" default:"script" help:"Action type: procedure, instance or script."`
	Unique bool   `name:"unique" help:"Skip when a job with the same action is queued or running."`
	ID     int64  `name:"id" help:"Explicit job id. Fails when the id is taken."`
}

// RunCommand executes one pass.
type RunCommand struct {
	Queue string `arg:"" optional:"" name:"queue" help:"Restrict the pass to this queue."`
}

// StatusCommand prints the state document.
type StatusCommand struct{}

// FreeCommand reports whether a queue is free.
type FreeCommand struct {
	Queue string `arg:"" name:"queue" help:"Queue name."`
}

func (cmd *EnqueueCommand) Run(g *Globals) error {
	kind, err := jobqueue.ParseActionKind(cmd.Type)
	if err != nil {
		return err
	}
	job, err := jobqueue.NewJob(kind, cmd.Action, cmd.Queue)
	if err != nil {
		return err
	}
	if cmd.ID != 0 {
		job.WithID(cmd.ID)
	}

	s, err := g.open()
	if err != nil {
		return err
	}
	defer s.close()

	ctx := g.baseContext()
	if !cmd.Unique {
		stored, err := s.manager.Enqueue(ctx, job)
		if err != nil {
			return err
		}
		return g.printJSON(stored)
	}

	stored, added, err := s.manager.EnqueueUnique(ctx, job)
	if err != nil {
		return err
	}
	if !added {
		s.log.InfoContext(ctx, "job skipped, same action already pending",
			logger.QueueName(job.QueueName),
			logger.Action(job.Kind, job.Target))
		return nil
	}
	return g.printJSON(stored)
}

func (cmd *RunCommand) Run(g *Globals) error {
	s, err := g.open()
	if err != nil {
		return err
	}
	defer s.close()

	var report jobqueue.RunReport
	if cmd.Queue == "" {
		report, err = s.manager.RunAll(g.baseContext())
	} else {
		report, err = s.manager.Run(g.baseContext(), cmd.Queue)
	}
	if err != nil {
		return err
	}
	return g.printJSON(report)
}

func (cmd *StatusCommand) Run(g *Globals) error {
	s, err := g.open()
	if err != nil {
		return err
	}
	defer s.close()

	st, err := s.manager.Snapshot(g.baseContext())
	if err != nil {
		return err
	}
	return g.printJSON(st)
}

func (cmd *FreeCommand) Run(g *Globals) error {
	s, err := g.open()
	if err != nil {
		return err
	}
	defer s.close()

	free, err := s.manager.IsQueueFree(g.baseContext(), cmd.Queue)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(g.stdout(), "%s: free=%t\n", cmd.Queue, free)
	return err
}
