// Command auditctl inspects and drives the selection audit queue.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/infinity-erp/infinity/cmd/auditctl/cli"
)

var (
	redisAddr     string
	pruneRetain   time.Duration
	scheduledSize int
)

var rootCmd = &cobra.Command{
	Use:           "auditctl",
	Short:         "Inspect and drive the company selection audit queue.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Enqueue an immediate selection:prune run.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withJobs(func(ctx context.Context, jobs *cli.JobsCLI) error {
			info, err := jobs.Prune(ctx, pruneRetain)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s (%s) on %s\n", info.Type, info.ID, info.Queue)
			return nil
		})
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Print the default queue counters.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withJobs(func(ctx context.Context, jobs *cli.JobsCLI) error {
			stats, err := jobs.InspectQueue(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queue=%s pending=%d active=%d scheduled=%d retry=%d failed=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Failed)
			return nil
		})
	},
}

var scheduledCmd = &cobra.Command{
	Use:   "scheduled",
	Short: "List scheduled tasks.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withJobs(func(ctx context.Context, jobs *cli.JobsCLI) error {
			tasks, err := jobs.ListScheduled(ctx, scheduledSize)
			if err != nil {
				return err
			}
			for _, task := range tasks {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", task.ID, task.Type, task.NextProcessAt.Format(time.RFC3339))
			}
			return nil
		})
	},
}

func withJobs(fn func(context.Context, *cli.JobsCLI) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	jobs := cli.NewJobsCLI(redisAddr)
	defer jobs.Close()
	return fn(ctx, jobs)
}

func init() {
	defaultAddr := os.Getenv("REDIS_ADDR")
	if defaultAddr == "" {
		defaultAddr = "127.0.0.1:6379"
	}
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", defaultAddr, "Redis address of the job queue")
	pruneCmd.Flags().DurationVar(&pruneRetain, "retention", 90*24*time.Hour, "Delete audit rows older than this")
	scheduledCmd.Flags().IntVar(&scheduledSize, "size", 10, "Maximum tasks to list")
	rootCmd.AddCommand(pruneCmd, queueCmd, scheduledCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
