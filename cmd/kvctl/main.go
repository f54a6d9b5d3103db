// cmd/kvctl is the CLI client, built with Cobra.
//
// Usage:
//
//	kvctl put mykey "hello world"  --worker http://localhost:9001
//	kvctl get mykey                --worker http://localhost:9001
//	kvctl delete mykey             --worker http://localhost:9001
//	kvctl workers                  --controller http://localhost:8000
//	kvctl map mykey                --controller http://localhost:8000
//	kvctl health http://localhost:9001
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"kvshard/internal/kvclient"
)

var (
	workerAddr     string
	controllerAddr string
	timeout        time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "kvctl",
		Short: "CLI client for the sharded KV store",
	}

	root.PersistentFlags().StringVar(&workerAddr, "worker", "http://localhost:9001", "worker base URL")
	root.PersistentFlags().StringVar(&controllerAddr, "controller", "http://localhost:8000", "controller base URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "HTTP request timeout")

	root.AddCommand(putCmd(), getCmd(), deleteCmd(), workersCmd(), mapCmd(), healthCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── put ──────────────────────────────────────────────────────────────────────

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Store a key-value pair on a worker",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := kvclient.New(timeout)
			resp, err := c.Put(context.Background(), workerAddr, args[0], args[1])
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── get ──────────────────────────────────────────────────────────────────────

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve a value from a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := kvclient.New(timeout)
			resp, err := c.Get(context.Background(), workerAddr, args[0])
			if err == kvclient.ErrNotFound {
				fmt.Printf("key %q not found\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── delete ───────────────────────────────────────────────────────────────────

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a key from a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := kvclient.New(timeout)
			if err := c.Delete(context.Background(), workerAddr, args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %q\n", args[0])
			return nil
		},
	}
}

// ─── workers ──────────────────────────────────────────────────────────────────

func workersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workers",
		Short: "List the controller's registered workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := kvclient.New(timeout)
			resp, err := c.Workers(context.Background(), controllerAddr)
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── map ──────────────────────────────────────────────────────────────────────

func mapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "map <key>",
		Short: "Show the replica set a key maps to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := kvclient.New(timeout)
			resp, err := c.Map(context.Background(), controllerAddr, args[0])
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── health ───────────────────────────────────────────────────────────────────

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health <base-url>",
		Short: "Probe /health on a worker or the controller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := kvclient.New(timeout)
			resp, err := c.Health(context.Background(), args[0])
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
