// Command relayq-flood is a peripheral CLI flood-test harness: concurrent
// producer/consumer load against a journaled queue, reporting throughput.
package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relayq/relayq/queue/jq"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("RELAYQ_FLOOD")
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "relayq-flood",
		Short: "Load-test a journaled queue.",
	}
	root.PersistentFlags().String("dir", "./flood-data", "directory for the queue's journal files")
	root.PersistentFlags().String("queue", "flood", "queue name")
	root.PersistentFlags().Int("payload-bytes", 64, "size of each put's payload")
	_ = v.BindPFlags(root.PersistentFlags())

	root.AddCommand(newPutCmd(v), newDrainCmd(v), newFloodCmd(v))
	return root
}

func openQueue(v *viper.Viper) (*jq.Queue, error) {
	dir := v.GetString("dir")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("relayq-flood: create %s: %w", dir, err)
	}
	return jq.Open(jq.Options{
		Dir:  dir,
		Name: v.GetString("queue"),
		Fs:   afero.NewOsFs(),
		Log:  zap.NewNop(),
	})
}

func newPutCmd(v *viper.Viper) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Put N items into the queue and wait for each to become durable.",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue(v)
			if err != nil {
				return err
			}
			defer q.Close()

			payload := make([]byte, v.GetInt("payload-bytes"))
			for i := 0; i < count; i++ {
				_, w, err := q.Put(payload, 0)
				if err != nil {
					return fmt.Errorf("put %d: %w", i, err)
				}
				if err := w.Wait(); err != nil {
					return fmt.Errorf("durability wait %d: %w", i, err)
				}
			}
			fmt.Printf("put %d items\n", count)
			return q.Checkpoint()
		},
	}
	cmd.Flags().IntVar(&count, "count", 1000, "number of items to put")
	return cmd
}

func newDrainCmd(v *viper.Viper) *cobra.Command {
	var reader string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Get and commit every currently available item for a reader.",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue(v)
			if err != nil {
				return err
			}
			defer q.Close()

			r, err := q.Reader(reader)
			if err != nil {
				return err
			}

			n := 0
			for {
				ctx, cancel := context.WithTimeout(context.Background(), timeout)
				it, ok := r.Get(ctx)
				cancel()
				if !ok {
					break
				}
				if err := r.Commit(it.ID); err != nil {
					return fmt.Errorf("commit %d: %w", it.ID, err)
				}
				n++
			}
			fmt.Printf("drained %d items for reader %q\n", n, reader)
			return q.Checkpoint()
		},
	}
	cmd.Flags().StringVar(&reader, "reader", "", "reader name (empty = default reader)")
	cmd.Flags().DurationVar(&timeout, "idle-timeout", 200*time.Millisecond, "how long to wait for the next item before stopping")
	return cmd
}

func newFloodCmd(v *viper.Viper) *cobra.Command {
	var producers, consumers int
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "flood",
		Short: "Run concurrent producers and consumers for a fixed duration and report throughput.",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue(v)
			if err != nil {
				return err
			}
			defer q.Close()

			r, err := q.Reader("flood")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), duration)
			defer cancel()

			var puts, gets int64
			var wg sync.WaitGroup
			payload := make([]byte, v.GetInt("payload-bytes"))

			for i := 0; i < producers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for ctx.Err() == nil {
						if _, _, err := q.Put(payload, 0); err == nil {
							atomic.AddInt64(&puts, 1)
						}
					}
				}()
			}
			for i := 0; i < consumers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for ctx.Err() == nil {
						it, ok := r.Get(ctx)
						if !ok {
							continue
						}
						if err := r.Commit(it.ID); err == nil {
							atomic.AddInt64(&gets, 1)
						}
					}
				}()
			}

			wg.Wait()
			elapsed := duration.Seconds()
			fmt.Printf("puts=%d (%.0f/s) gets=%d (%.0f/s) over %s\n",
				puts, float64(puts)/elapsed, gets, float64(gets)/elapsed, duration)
			return q.Checkpoint()
		},
	}
	cmd.Flags().IntVar(&producers, "producers", 4, "number of concurrent producer goroutines")
	cmd.Flags().IntVar(&consumers, "consumers", 4, "number of concurrent consumer goroutines")
	cmd.Flags().DurationVar(&duration, "duration", 5*time.Second, "how long to run the flood")
	return cmd
}
