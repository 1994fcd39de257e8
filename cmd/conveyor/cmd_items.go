package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/queue"
	"github.com/xraph/conveyor/step"
	"github.com/xraph/conveyor/store"
)

var (
	enqStep  string
	enqDraft bool

	leaseOwner  string
	leaseLimit  int
	staleAfter  time.Duration
	maxAttempts int
	failReason  string

	listStep   string
	listStatus string
	listLimit  int
	listOffset int
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <json-payload>",
	Short: "Enqueue an item at the first step (or --step)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withQueue(cmd.Context(), func(ctx context.Context, q *queue.Queue[json.RawMessage]) error {
			var opts []queue.EnqueueOption
			if enqStep != "" {
				st, err := resolveStep(q.Catalog(), enqStep)
				if err != nil {
					return err
				}
				opts = append(opts, queue.AtStep(st.ID))
			}
			if enqDraft {
				opts = append(opts, queue.AsDraft())
			}

			itemID, err := q.Enqueue(ctx, json.RawMessage(args[0]), opts...)
			if err != nil {
				return err
			}
			if outputJSON {
				printJSON(map[string]string{"id": itemID.String()})
			} else {
				fmt.Printf("Item enqueued: %s\n", itemID)
			}
			return nil
		})
	},
}

var claimCmd = &cobra.Command{
	Use:   "claim <step>",
	Short: "Lease Ready items at a step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withQueue(cmd.Context(), func(ctx context.Context, q *queue.Queue[json.RawMessage]) error {
			st, err := resolveStep(q.Catalog(), args[0])
			if err != nil {
				return err
			}
			leased, err := q.Claim(ctx, leaseOwner, st.ID, leaseLimit)
			if err != nil {
				return err
			}
			printItems(itemsOf(leased))
			return nil
		})
	},
}

var reclaimCmd = &cobra.Command{
	Use:   "reclaim <step>",
	Short: "Lease failed items and items with stale leases at a step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withQueue(cmd.Context(), func(ctx context.Context, q *queue.Queue[json.RawMessage]) error {
			st, err := resolveStep(q.Catalog(), args[0])
			if err != nil {
				return err
			}
			leased, err := q.Reclaim(ctx, leaseOwner, st.ID, leaseLimit, time.Now().Add(-staleAfter), maxAttempts)
			if err != nil {
				return err
			}
			printItems(itemsOf(leased))
			return nil
		})
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete <step> <item-id>...",
	Short: "Complete leased items, advancing them to the next step",
	Long:  "Complete leased items. With --fail the items move to Error with the given reason.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		completions := make([]item.Completion, 0, len(args)-1)
		for _, raw := range args[1:] {
			itemID, err := id.ParseItemID(raw)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("fail") {
				completions = append(completions, item.Fail(itemID, failReason))
			} else {
				completions = append(completions, item.Succeed(itemID))
			}
		}

		return withQueue(cmd.Context(), func(ctx context.Context, q *queue.Queue[json.RawMessage]) error {
			st, err := resolveStep(q.Catalog(), args[0])
			if err != nil {
				return err
			}
			n, err := q.Complete(ctx, leaseOwner, st.ID, completions)
			if err != nil {
				return err
			}
			if outputJSON {
				printJSON(map[string]int{"applied": n, "skipped": len(completions) - n})
			} else {
				fmt.Printf("Completed %d of %d items.\n", n, len(completions))
			}
			return nil
		})
	},
}

var poisonCmd = &cobra.Command{
	Use:   "poison <step>",
	Short: "List failed items that exhausted their attempts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDLQ(cmd.Context(), args[0], func(ctx context.Context, svc *dlq.Service, st step.Step) error {
			items, err := svc.List(ctx, st.ID, leaseLimit)
			if err != nil {
				return err
			}
			printItems(items)
			return nil
		})
	},
}

var poisonReplayCmd = &cobra.Command{
	Use:   "replay <step>",
	Short: "Move every poison item at a step back to Ready",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDLQ(cmd.Context(), args[0], func(ctx context.Context, svc *dlq.Service, st step.Step) error {
			n, err := svc.ReplayAll(ctx, st.ID)
			if err != nil {
				return err
			}
			fmt.Printf("Replayed %d items at step %q.\n", n, st.Name)
			return nil
		})
	},
}

var poisonPurgeCmd = &cobra.Command{
	Use:   "purge <step>",
	Short: "Delete every poison item at a step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDLQ(cmd.Context(), args[0], func(ctx context.Context, svc *dlq.Service, st step.Step) error {
			n, err := svc.Purge(ctx, st.ID)
			if err != nil {
				return err
			}
			fmt.Printf("Purged %d items at step %q.\n", n, st.Name)
			return nil
		})
	},
}

func withDLQ(ctx context.Context, stepArg string, fn func(context.Context, *dlq.Service, step.Step) error) error {
	return withQueue(ctx, func(ctx context.Context, q *queue.Queue[json.RawMessage]) error {
		st, err := resolveStep(q.Catalog(), stepArg)
		if err != nil {
			return err
		}
		return fn(ctx, dlq.NewService(q.Store(), maxAttempts), st)
	})
}

var requeueCmd = &cobra.Command{
	Use:   "requeue <item-id>...",
	Short: "Move Error or Draft items back to Ready",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, s store.Store) error {
			var errs []error
			for _, raw := range args {
				itemID, err := id.ParseItemID(raw)
				if err == nil {
					err = s.RequeueItem(ctx, itemID)
				}
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", raw, err))
					continue
				}
				fmt.Printf("Requeued %s\n", itemID)
			}
			return errors.Join(errs...)
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List items, optionally filtered by step and status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withQueue(cmd.Context(), func(ctx context.Context, q *queue.Queue[json.RawMessage]) error {
			opts := item.ListOpts{Limit: listLimit, Offset: listOffset}
			if listStep != "" {
				st, err := resolveStep(q.Catalog(), listStep)
				if err != nil {
					return err
				}
				opts.Step = st.ID.Ptr()
			}
			if listStatus != "" {
				status, err := item.ParseStatus(listStatus)
				if err != nil {
					return err
				}
				opts.Status = status
			}
			items, err := q.Store().ListItems(ctx, opts)
			if err != nil {
				return err
			}
			printItems(items)
			return nil
		})
	},
}

func itemsOf(leased []queue.Leased[json.RawMessage]) []*item.Item {
	items := make([]*item.Item, 0, len(leased))
	for _, l := range leased {
		items = append(items, l.Item)
	}
	return items
}

func init() {
	defaults := conveyor.DefaultConfig()

	enqueueCmd.Flags().StringVar(&enqStep, "step", "", "Step ID or name (default: first step)")
	enqueueCmd.Flags().BoolVar(&enqDraft, "draft", false, "Store as Draft; release later with requeue")

	for _, c := range []*cobra.Command{claimCmd, reclaimCmd, completeCmd} {
		c.Flags().StringVar(&leaseOwner, "owner", "", "Lease owner")
		c.MarkFlagRequired("owner") //nolint:errcheck // flag exists
	}
	for _, c := range []*cobra.Command{claimCmd, reclaimCmd, poisonCmd} {
		c.Flags().IntVar(&leaseLimit, "limit", defaults.BatchSize, "Maximum number of items")
	}
	for _, c := range []*cobra.Command{reclaimCmd, poisonCmd} {
		c.PersistentFlags().IntVar(&maxAttempts, "max-attempts", defaults.MaxAttempts, "Attempt budget per item")
	}
	reclaimCmd.Flags().DurationVar(&staleAfter, "stale-after", defaults.StaleAfter,
		"Age after which a Processing lease counts as abandoned")
	poisonCmd.AddCommand(poisonReplayCmd, poisonPurgeCmd)
	completeCmd.Flags().StringVar(&failReason, "fail", "", "Fail the items with this reason")

	listCmd.Flags().StringVar(&listStep, "step", "", "Filter by step ID or name")
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (draft, ready, processing, completed, error)")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum number of items")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Number of items to skip")
}
