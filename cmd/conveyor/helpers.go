package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/queue"
	"github.com/xraph/conveyor/step"
	"github.com/xraph/conveyor/store"
)

// withStore opens the configured backend, runs fn and closes the store.
func withStore(ctx context.Context, fn func(ctx context.Context, s store.Store) error) error {
	s, closeFn, err := openStore(ctx, backend, dsn, database, slog.Default())
	if err != nil {
		return err
	}
	defer closeFn() //nolint:errcheck // best-effort cleanup
	return fn(ctx, s)
}

// withQueue is withStore plus a JSON queue over the pipeline stored in the
// backend.
func withQueue(ctx context.Context, fn func(ctx context.Context, q *queue.Queue[json.RawMessage]) error) error {
	return withStore(ctx, func(ctx context.Context, s store.Store) error {
		catalog, err := step.Load(ctx, s)
		if err != nil {
			return fmt.Errorf("load steps: %w", err)
		}
		return fn(ctx, queue.New(s, catalog, queue.JSONCodec[json.RawMessage]{}, queue.WithLogger(slog.Default())))
	})
}

// resolveStep accepts a step ID or a step name.
func resolveStep(catalog *step.Catalog, arg string) (step.Step, error) {
	if n, err := strconv.Atoi(arg); err == nil {
		return catalog.Lookup(step.ID(n))
	}
	return catalog.ByName(arg)
}

// itemView is the printable form of an item; JSON payloads are inlined.
type itemView struct {
	ID         string          `json:"id"`
	Status     item.Status     `json:"status"`
	StepID     step.ID         `json:"step_id"`
	Attempt    int             `json:"attempt"`
	LeaseOwner string          `json:"lease_owner,omitempty"`
	Error      string          `json:"error,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	UpdatedAt  string          `json:"updated_at"`
}

func viewOf(it *item.Item) itemView {
	v := itemView{
		ID:         it.ID.String(),
		Status:     it.Status,
		StepID:     it.StepID,
		Attempt:    it.Attempt,
		LeaseOwner: it.LeaseOwner,
		Error:      it.Error,
		UpdatedAt:  it.UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if json.Valid(it.Payload) {
		v.Payload = it.Payload
	} else if len(it.Payload) > 0 {
		quoted, _ := json.Marshal(it.Payload)
		v.Payload = quoted
	}
	return v
}

func printItems(items []*item.Item) {
	if outputJSON {
		views := make([]itemView, 0, len(items))
		for _, it := range items {
			views = append(views, viewOf(it))
		}
		printJSON(views)
		return
	}
	if len(items) == 0 {
		fmt.Println("No items.")
		return
	}
	for _, it := range items {
		line := fmt.Sprintf("%s  %-10s step=%d attempt=%d", it.ID, it.Status, it.StepID, it.Attempt)
		if it.LeaseOwner != "" {
			line += " owner=" + it.LeaseOwner
		}
		if it.Error != "" {
			line += fmt.Sprintf(" error=%q", it.Error)
		}
		fmt.Println(line)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v) //nolint:errcheck // stdout
}
