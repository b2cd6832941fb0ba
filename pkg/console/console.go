// Package console is the interactive floor-terminal mode: a small readline
// REPL for enqueueing mutations, toggling the connectivity signal and
// watching sync state. It consumes only the engine's public surface.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/pvworks/floorsync/pkg/connectivity"
	"github.com/pvworks/floorsync/pkg/models"
	"github.com/pvworks/floorsync/pkg/services"
	"github.com/pvworks/floorsync/pkg/syncqueue"
)

type Console struct {
	rl      *readline.Instance
	svc     *services.Service
	queue   *syncqueue.Queue
	monitor *connectivity.Monitor
}

func NewConsole(svc *services.Service, queue *syncqueue.Queue, monitor *connectivity.Monitor) (*Console, error) {
	rl, err := readline.New("floorsync> ")
	if err != nil {
		return nil, err
	}
	return &Console{rl: rl, svc: svc, queue: queue, monitor: monitor}, nil
}

func (c *Console) Close() {
	c.rl.Close()
}

// Run processes commands until quit or EOF.
func (c *Console) Run(ctx context.Context) {
	unsubscribe := c.svc.Broadcaster().OnStatus(func(ev models.StatusEvent) {
		if ev.Summary != nil {
			fmt.Printf("sync %s: processed=%d successful=%d failed=%d conflicts=%d\n",
				ev.State, ev.Summary.Processed, ev.Summary.Successful, ev.Summary.Failed, ev.Summary.Conflicts)
		}
	})
	defer unsubscribe()

	fmt.Println("Type 'help' for commands.")
	for {
		line, err := c.rl.Readline()
		if err != nil { // io.EOF or interrupt
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "help":
			c.printHelp()
		case "sync":
			c.report(c.svc.SyncWhenOnline(ctx))
		case "retry":
			c.report(c.svc.RetryFailedItems(ctx))
		case "enqueue":
			c.enqueue(ctx)
		case "queue":
			c.showQueue(ctx)
		case "stats":
			c.showStats(ctx)
		case "cleanup":
			n, err := c.svc.CleanupOldItems(ctx, 30)
			if err != nil {
				fmt.Println("cleanup failed:", err)
			} else {
				fmt.Printf("purged %d items\n", n)
			}
		case "online":
			c.monitor.SetOnline(true)
			fmt.Println("connectivity: online")
		case "offline":
			c.monitor.SetOnline(false)
			fmt.Println("connectivity: offline")
		case "quit", "exit":
			return
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}

func (c *Console) printHelp() {
	fmt.Println(`Commands:
  enqueue   queue a local mutation
  sync      run a sync cycle now
  retry     retry failed items
  queue     show queued items
  stats     show sync stats and health
  cleanup   purge stale failed items
  online    signal "came online" (triggers sync)
  offline   signal offline
  quit      leave the console`)
}

func (c *Console) report(res models.SyncCycleResult, err error) {
	if err != nil {
		fmt.Println("sync failed:", err)
		return
	}
	fmt.Printf("processed=%d successful=%d failed=%d conflicts=%d\n",
		res.Processed, res.Successful, res.Failed, res.Conflicts)
}

func (c *Console) enqueue(ctx context.Context) {
	entityType := c.prompt("Entity type (panels/inspections/manufacturing_orders/stations): ")
	operation := c.prompt("Operation (create/update/delete): ")
	priority := c.prompt("Priority (high/medium/low): ")
	payloadRaw := c.prompt("Payload JSON: ")

	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadRaw), &payload); err != nil {
		fmt.Println("invalid payload:", err)
		return
	}
	id, err := c.queue.Enqueue(ctx, models.SyncQueueItem{
		Operation:  models.Operation(operation),
		EntityType: entityType,
		Payload:    payload,
		Priority:   models.Priority(priority),
	})
	if err != nil {
		fmt.Println("enqueue failed:", err)
		return
	}
	fmt.Println("queued as", id)
}

func (c *Console) prompt(text string) string {
	c.rl.SetPrompt(text)
	defer c.rl.SetPrompt("floorsync> ")
	line, err := c.rl.Readline()
	if err == io.EOF {
		return ""
	}
	return strings.TrimSpace(line)
}

func (c *Console) showQueue(ctx context.Context) {
	items, err := c.queue.GetAll(ctx)
	if err != nil {
		fmt.Println("queue read failed:", err)
		return
	}
	if len(items) == 0 {
		fmt.Println("queue is empty")
		return
	}
	for _, it := range items {
		state := "pending"
		if it.Permanent {
			state = "permanent failure"
		} else if it.RetryCount > 0 {
			state = fmt.Sprintf("retried %d", it.RetryCount)
		}
		fmt.Printf("%s  %-6s %-22s %-6s %s\n", it.ID, it.Operation, it.EntityType, it.Priority, state)
		if it.LastError != "" {
			fmt.Printf("    last error: %s\n", it.LastError)
		}
	}
}

func (c *Console) showStats(ctx context.Context) {
	stats, err := c.svc.GetSyncStats(ctx)
	if err != nil {
		fmt.Println("stats failed:", err)
		return
	}
	last := "never"
	if !stats.LastSync.IsZero() {
		last = stats.LastSync.Format("2006-01-02 15:04:05")
	}
	fmt.Printf("pending=%d failed=%d lastSync=%s health=%s\n",
		stats.Pending, stats.Failed, last, stats.Health)
	if c.svc.Broadcaster().IsCurrentlySyncing() {
		fmt.Println("a sync cycle is currently running")
	}
}
