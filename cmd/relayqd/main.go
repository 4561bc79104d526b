// Command relayqd is the peripheral daemon that serves internal/adminapi's
// HTTP surface over one or more journaled queues.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/relayq/relayq/internal/adminapi"
	"github.com/relayq/relayq/internal/metrics"
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
	v.SetEnvPrefix("RELAYQD")
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "relayqd",
		Short: "Serve relayq's admin HTTP surface over one or more journaled queues.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}

	flags := cmd.Flags()
	flags.String("dir", "./data", "directory holding journaled queue data")
	flags.StringSlice("queue", nil, "queue name to serve (repeatable); defaults to every queue with files directly in --dir")
	flags.String("addr", ":8080", "address for the admin HTTP server")
	flags.Duration("sync-every", 0, "background durability sync cadence (0 = sync every write)")
	flags.Duration("checkpoint-every", 5*time.Second, "cadence for background checkpoint+reclaim")
	_ = v.BindPFlags(flags)

	return cmd
}

func run(v *viper.Viper) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("relayqd: build logger: %w", err)
	}
	defer log.Sync()

	dir := v.GetString("dir")
	names := v.GetStringSlice("queue")
	if len(names) == 0 {
		names, err = discoverQueueNames(dir)
		if err != nil {
			return fmt.Errorf("relayqd: discover queues: %w", err)
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("relayqd: no queues found under %s and none named with --queue", dir)
	}

	admin := adminapi.New(log)
	queues := make(map[string]*jq.Queue, len(names))
	for _, name := range names {
		q, err := jq.Open(jq.Options{
			Dir:       dir,
			Name:      name,
			Fs:        afero.NewOsFs(),
			SyncEvery: v.GetDuration("sync-every"),
			Log:       log,
			Metrics:   metrics.NewSet(name),
		})
		if err != nil {
			return fmt.Errorf("relayqd: open queue %q: %w", name, err)
		}
		queues[name] = q
		admin.Register(name, q)
		log.Info("serving queue", zap.String("queue", name))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checkpointEvery := v.GetDuration("checkpoint-every")
	go checkpointLoop(ctx, log, queues, checkpointEvery)

	srv := &http.Server{Addr: v.GetString("addr"), Handler: admin}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()
	log.Info("relayqd listening", zap.String("addr", srv.Addr), zap.Int("queues", len(queues)))

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("relayqd: serve: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	// Graceful shutdown: checkpoint every queue (persisting committed reader
	// progress) before closing the underlying writer files, so committed
	// items do not replay on the next startup. Open reads that were never
	// committed or aborted are not recorded as done, so they become
	// Available again on the next startup.
	for name, q := range queues {
		if err := q.Checkpoint(); err != nil {
			log.Warn("checkpoint on shutdown failed", zap.String("queue", name), zap.Error(err))
		}
		if err := q.Close(); err != nil {
			log.Warn("close on shutdown failed", zap.String("queue", name), zap.Error(err))
		}
	}
	return nil
}

func checkpointLoop(ctx context.Context, log *zap.Logger, queues map[string]*jq.Queue, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for name, q := range queues {
				if err := q.Checkpoint(); err != nil {
					log.Warn("periodic checkpoint failed", zap.String("queue", name), zap.Error(err))
				}
			}
		}
	}
}

func discoverQueueNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := queueNameFromFile(e.Name())
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}

// queueNameFromFile extracts the queue name prefix from a writer or reader
// checkpoint file name ("<name>.<ms>", "<name>.read.<reader>"): the portion
// before the first dot. Anything with no dot at all is ignored.
func queueNameFromFile(base string) string {
	idx := strings.IndexByte(base, '.')
	if idx <= 0 {
		return ""
	}
	return base[:idx]
}
