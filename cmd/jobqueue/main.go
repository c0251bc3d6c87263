// Command jobqueue manages a persistent job queue from the command line.
//
// Jobs are appended with "enqueue" and executed by "run", usually from a
// cron entry, or continuously by "serve" which runs every queue on a
// schedule and can expose the HTTP interface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
)

// CLI is the root command tree.
type CLI struct {
	Globals

	Enqueue EnqueueCommand `cmd:"" name:"enqueue" help:"Add a job to a queue." group:"QUEUE"`
	Run     RunCommand     `cmd:"" name:"run" help:"Run queued jobs once, for one queue or all of them." group:"QUEUE"`
	Status  StatusCommand  `cmd:"" name:"status" help:"Print the queue state document." group:"QUEUE"`
	Free    FreeCommand    `cmd:"" name:"free" help:"Report whether a queue has no running job." group:"QUEUE"`
	Serve   ServeCommand   `cmd:"" name:"serve" help:"Run queues on a schedule and serve the HTTP interface." group:"SERVER"`
}

func main() {
	cli := new(CLI)
	kctx := kong.Parse(cli,
		kong.Name("jobqueue"),
		kong.Description("Persistent named job queues with one running job per queue."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	cli.Globals.ctx = ctx

	if err := kctx.Run(&cli.Globals); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
