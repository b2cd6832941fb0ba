package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pvworks/floorsync/pkg/appcontext"
	"github.com/pvworks/floorsync/pkg/broadcaster"
	"github.com/pvworks/floorsync/pkg/config"
	"github.com/pvworks/floorsync/pkg/connectivity"
	"github.com/pvworks/floorsync/pkg/console"
	"github.com/pvworks/floorsync/pkg/encription"
	"github.com/pvworks/floorsync/pkg/endpoints"
	"github.com/pvworks/floorsync/pkg/logger"
	"github.com/pvworks/floorsync/pkg/models"
	"github.com/pvworks/floorsync/pkg/remote"
	"github.com/pvworks/floorsync/pkg/services"
	"github.com/pvworks/floorsync/pkg/storage"
	"github.com/pvworks/floorsync/pkg/syncinfo"
	"github.com/pvworks/floorsync/pkg/syncqueue"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is the composition root: everything the engine needs, built once and
// injected explicitly.
type app struct {
	opt     *config.Options
	queue   *syncqueue.Queue
	svc     *services.Service
	monitor *connectivity.Monitor
}

func newApp(opt *config.Options) (*app, error) {
	var queueOpts []syncqueue.Option
	if opt.PayloadKey != "" {
		enc, err := encription.NewEnc(opt.PayloadKey)
		if err != nil {
			return nil, err
		}
		queueOpts = append(queueOpts, syncqueue.WithEncryption(enc))
	}
	queue, err := syncqueue.Open(opt.DatabasePath, queueOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open sync queue: %w", err)
	}

	store, err := storage.New(queue.DB())
	if err != nil {
		return nil, err
	}
	rc, err := remote.NewClient(opt.ServerURL)
	if err != nil {
		return nil, err
	}
	syncMgr, err := syncinfo.NewSyncManager(opt.SyncInfoPath)
	if err != nil {
		return nil, err
	}
	if _, err := syncMgr.LoadAndUpdateLastSyncFromFile(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	log, err := logger.NewLogger(opt.LogPath)
	if err != nil {
		return nil, err
	}

	svc := services.NewService(queue, endpoints.NewRegistry(), rc, store,
		broadcaster.New(), syncMgr, log, models.RetryPolicy{MaxRetries: opt.MaxRetries})

	monitor := connectivity.NewMonitor()
	ctx := appCtx(opt)
	monitor.OnOnline(func() {
		if _, err := svc.SyncWhenOnline(ctx); err != nil && err != services.ErrSyncInProgress {
			log.Printf("sync on connectivity edge failed: %v", err)
		}
	})

	return &app{opt: opt, queue: queue, svc: svc, monitor: monitor}, nil
}

func (a *app) close() {
	a.queue.Close()
}

func appCtx(opt *config.Options) context.Context {
	ctx := context.Background()
	if opt.StationID != "" {
		ctx = appcontext.WithStationID(ctx, opt.StationID)
	}
	return ctx
}

func newRootCmd() *cobra.Command {
	opt := config.NewConfig()

	root := &cobra.Command{
		Use:   "floorsync",
		Short: "Offline-first sync client for the production floor",
	}
	root.PersistentFlags().StringVar(&opt.ServerURL, "server", opt.ServerURL, "remote service URL")
	root.PersistentFlags().StringVar(&opt.DatabasePath, "db", opt.DatabasePath, "queue database path")
	root.PersistentFlags().StringVar(&opt.StationID, "station", opt.StationID, "station id stamped on requests")
	root.PersistentFlags().IntVar(&opt.MaxRetries, "max-retries", opt.MaxRetries, "retry ceiling for retryable failures")

	root.AddCommand(newSyncCmd(opt), newRetryCmd(opt), newStatusCmd(opt), newCleanupCmd(opt), newConsoleCmd(opt))
	return root
}

func newSyncCmd(opt *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle now",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opt)
			if err != nil {
				return err
			}
			defer a.close()
			res, err := a.svc.SyncWhenOnline(appCtx(opt))
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}
}

func newRetryCmd(opt *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Retry failed items under the retry ceiling",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opt)
			if err != nil {
				return err
			}
			defer a.close()
			res, err := a.svc.RetryFailedItems(appCtx(opt))
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}
}

func newStatusCmd(opt *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue stats and sync health",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opt)
			if err != nil {
				return err
			}
			defer a.close()
			stats, err := a.svc.GetSyncStats(appCtx(opt))
			if err != nil {
				return err
			}
			last := "never"
			if !stats.LastSync.IsZero() {
				last = stats.LastSync.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("pending: %d\nfailed: %d\nlast sync: %s\nhealth: %s\n",
				stats.Pending, stats.Failed, last, stats.Health)
			return nil
		},
	}
}

func newCleanupCmd(opt *config.Options) *cobra.Command {
	var maxAgeDays int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Purge stale failed items from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opt)
			if err != nil {
				return err
			}
			defer a.close()
			n, err := a.svc.CleanupOldItems(appCtx(opt), maxAgeDays)
			if err != nil {
				return err
			}
			fmt.Printf("purged %d items\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", opt.MaxAgeDays, "purge items older than this")
	return cmd
}

func newConsoleCmd(opt *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Interactive floor-terminal console",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opt)
			if err != nil {
				return err
			}
			defer a.close()
			c, err := console.NewConsole(a.svc, a.queue, a.monitor)
			if err != nil {
				return err
			}
			defer c.Close()
			c.Run(appCtx(opt))
			return nil
		},
	}
}

func printResult(res models.SyncCycleResult) {
	fmt.Printf("processed: %d\nsuccessful: %d\nfailed: %d\nconflicts: %d\n",
		res.Processed, res.Successful, res.Failed, res.Conflicts)
	for _, o := range res.Outcomes {
		if !o.Success {
			fmt.Printf("  %s: %s\n", o.ItemID, o.Error)
		} else if o.Resolution != "" {
			fmt.Printf("  %s: conflict resolved (%s)\n", o.ItemID, o.Resolution)
		}
	}
}
