package main

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"time"

	businessflow "github.com/amirphl/Kura/business_flow"
	"github.com/spf13/cobra"
)

var counterTimeout time.Duration

var counterCmd = &cobra.Command{
	Use:   "counter",
	Short: "Inspect and adjust collection counters",
}

var counterGetCmd = &cobra.Command{
	Use:   "get <collection>",
	Short: "Show the value the next allocation will return",
	Args:  cobra.ExactArgs(1),
	RunE:  runCounterGet,
}

var counterSetCmd = &cobra.Command{
	Use:   "set <collection> <next>",
	Short: "Overwrite the next counter value",
	Long:  "Overwrite the next counter value. Setting it below an already issued value lets identifiers repeat.",
	Args:  cobra.ExactArgs(2),
	RunE:  runCounterSet,
}

var counterNextCmd = &cobra.Command{
	Use:   "next <collection>",
	Short: "Allocate and print one identifier",
	Args:  cobra.ExactArgs(1),
	RunE:  runCounterNext,
}

func init() {
	counterCmd.PersistentFlags().DurationVar(&counterTimeout, "timeout", 10*time.Second, "store operation timeout")

	counterCmd.AddCommand(counterGetCmd)
	counterCmd.AddCommand(counterSetCmd)
	counterCmd.AddCommand(counterNextCmd)
}

func withCounterAdmin(cmd *cobra.Command, fn func(ctx context.Context, flow businessflow.CounterAdminFlow) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), counterTimeout)
	defer cancel()

	flow, closeFn, err := openCounterAdmin(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open stores: %w", err)
	}
	defer func() { _ = closeFn() }()

	return fn(ctx, flow)
}

func runCounterGet(cmd *cobra.Command, args []string) error {
	return withCounterAdmin(cmd, func(ctx context.Context, flow businessflow.CounterAdminFlow) error {
		state, err := flow.GetNextCounter(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "collection: %s\nnext:       %d\npattern:    %s\ncustom_id:  %t\n",
			state.Collection, state.Next, state.Pattern, state.CustomID)
		return nil
	})
}

func runCounterSet(cmd *cobra.Command, args []string) error {
	next, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("next must be an integer: %w", err)
	}

	return withCounterAdmin(cmd, func(ctx context.Context, flow businessflow.CounterAdminFlow) error {
		metadata := businessflow.NewClientMetadata("", "kuractl")
		metadata.SetActor(operatorName())
		state, err := flow.SetNextCounter(ctx, args[0], next, metadata)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "counter %s set, next allocation returns %d\n", state.Collection, state.Next)
		return nil
	})
}

func runCounterNext(cmd *cobra.Command, args []string) error {
	return withCounterAdmin(cmd, func(ctx context.Context, flow businessflow.CounterAdminFlow) error {
		id, err := flow.GetNextID(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	})
}

func operatorName() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "kuractl"
}
