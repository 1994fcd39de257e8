package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/middleware"
	"github.com/xraph/conveyor/observability"
	"github.com/xraph/conveyor/queue"
	"github.com/xraph/conveyor/step"
	"github.com/xraph/conveyor/store"
	"github.com/xraph/conveyor/worker"
)

var (
	workOwner   string
	workTimeout time.Duration
)

// maxReason bounds the stderr tail stored as an item's failure reason.
const maxReason = 512

var workCmd = &cobra.Command{
	Use:   "work <step> -- <command> [args...]",
	Short: "Process items at a step by running a command per item",
	Long: `Process items at a step by running a command for each leased item.

The payload is written to the command's stdin. CONVEYOR_ITEM_ID,
CONVEYOR_STEP_ID and CONVEYOR_ATTEMPT are set in its environment. A zero
exit status advances the item; anything else fails it with the tail of
stderr as the reason. Polling, batching and reclaiming follow --config and
CONVEYOR_* variables.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runWork,
}

func init() {
	workCmd.Flags().StringVar(&workOwner, "owner", "", "Lease owner (default: generated worker ID)")
	workCmd.Flags().DurationVar(&workTimeout, "timeout", 0, "Per-item command timeout (0 disables)")
}

func runWork(cmd *cobra.Command, args []string) error {
	cfg, err := conveyor.LoadConfig(configPath)
	if err != nil {
		return err
	}
	conveyor.ConfigFromEnv(&cfg)

	logger := slog.Default()
	return withStore(cmd.Context(), func(ctx context.Context, s store.Store) error {
		catalog, err := step.Load(ctx, s)
		if err != nil {
			return fmt.Errorf("load steps: %w", err)
		}
		st, err := resolveStep(catalog, args[0])
		if err != nil {
			return err
		}

		q := queue.New(observability.Wrap(s), catalog, queue.JSONCodec[json.RawMessage]{},
			queue.WithLogger(logger))

		opts := []worker.Option{
			worker.FromConfig(cfg),
			worker.WithLogger(logger),
			worker.WithMiddleware(
				middleware.Logging(logger),
				middleware.Tracing(),
				middleware.Metrics(),
				middleware.Recover(logger),
				middleware.Timeout(workTimeout),
			),
		}
		if workOwner != "" {
			opts = append(opts, worker.WithOwner(workOwner))
		}

		p, err := worker.NewProcessor(q, st.ID, commandHandler(args[1], args[2:]), opts...)
		if err != nil {
			return err
		}
		if err := p.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()
		logger.Info("shutting down", slog.Duration("timeout", cfg.ShutdownTimeout))
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return p.Stop(stopCtx)
	})
}

// commandHandler runs name with args once per item.
func commandHandler(name string, args []string) worker.Handler[json.RawMessage] {
	return func(ctx context.Context, it *item.Item, payload json.RawMessage) error {
		c := exec.CommandContext(ctx, name, args...)
		c.Stdin = bytes.NewReader(payload)
		c.Stdout = os.Stdout
		var stderr bytes.Buffer
		c.Stderr = &stderr
		c.Env = append(os.Environ(),
			"CONVEYOR_ITEM_ID="+it.ID.String(),
			"CONVEYOR_STEP_ID="+strconv.Itoa(int(it.StepID)),
			"CONVEYOR_ATTEMPT="+strconv.Itoa(it.Attempt),
		)

		if err := c.Run(); err != nil {
			if tail := tailOf(stderr.String(), maxReason); tail != "" {
				return fmt.Errorf("%w: %s", err, tail)
			}
			return err
		}
		return nil
	}
}

func tailOf(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
