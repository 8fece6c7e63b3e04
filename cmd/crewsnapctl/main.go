package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/crewsnap/crewsnap/internal/agent"
	"github.com/crewsnap/crewsnap/internal/api"
	"github.com/crewsnap/crewsnap/internal/ctl"
)

func main() {
	agentFlag := flag.String("agent", "", "agent name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	agentName := agent.Resolve(*agentFlag)
	if err := agent.ValidateName(agentName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	socketPath := agent.SocketPath(agentName)
	c, err := ctl.New(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for agent %q: %v\n", agentName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "enqueue":
		cmdEnqueue(ctx, c, args[1:], *jsonFlag)
	case "list":
		cmdList(ctx, c, args[1:], *jsonFlag)
	case "show":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: crewsnapctl show <local-id>")
			os.Exit(1)
		}
		cmdShow(ctx, c, args[1], *jsonFlag)
	case "stats":
		cmdStats(ctx, c, *jsonFlag)
	case "quota":
		cmdQuota(ctx, c, *jsonFlag)
	case "retry":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: crewsnapctl retry <local-id>")
			os.Exit(1)
		}
		cmdRetry(ctx, c, args[1])
	case "delete":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: crewsnapctl delete <local-id>")
			os.Exit(1)
		}
		cmdDelete(ctx, c, args[1])
	case "clear-completed":
		cmdClearCompleted(ctx, c, *jsonFlag)
	case "watch":
		// Watches run until interrupted, not against the command timeout.
		cmdWatch(context.Background(), c, args[1:], *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: crewsnapctl [--agent <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  enqueue <file> --contact <id> [--project <id>] [--note <text>] [--lat <deg>] [--lon <deg>]")
	fmt.Fprintln(os.Stderr, "                   Queue a photo for upload")
	fmt.Fprintln(os.Stderr, "  list [--status <pending|syncing|failed|completed>]")
	fmt.Fprintln(os.Stderr, "                   List queued photos (default: pending)")
	fmt.Fprintln(os.Stderr, "  show <local-id>  Show one photo")
	fmt.Fprintln(os.Stderr, "  stats            Show per-state queue counts")
	fmt.Fprintln(os.Stderr, "  quota            Show local storage usage")
	fmt.Fprintln(os.Stderr, "  retry <local-id> Retry a failed photo")
	fmt.Fprintln(os.Stderr, "  delete <local-id>")
	fmt.Fprintln(os.Stderr, "                   Remove a photo from the queue")
	fmt.Fprintln(os.Stderr, "  clear-completed  Remove all completed uploads")
	fmt.Fprintln(os.Stderr, "  watch [--prefix <kind-prefix>]")
	fmt.Fprintln(os.Stderr, "                   Stream queue events until interrupted")
}

func cmdEnqueue(ctx context.Context, c *ctl.Client, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
	contact := fs.String("contact", "", "contact id (required)")
	project := fs.String("project", "", "project id")
	note := fs.String("note", "", "note to attach")
	lat := fs.Float64("lat", 0, "latitude")
	lon := fs.Float64("lon", 0, "longitude")
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: crewsnapctl enqueue <file> --contact <id>")
		os.Exit(1)
	}
	path := args[0]
	_ = fs.Parse(args[1:])

	blob, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	p, err := c.Enqueue(ctx, ctl.EnqueueParams{
		Blob:        blob,
		Filename:    filepath.Base(path),
		ContentType: contentTypeFor(path),
		ContactID:   *contact,
		ProjectID:   *project,
		Note:        *note,
		Latitude:    *lat,
		Longitude:   *lon,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(p)
		return
	}
	fmt.Printf("Queued %s (%d bytes) as %s\n", filepath.Base(path), len(blob), p.LocalID)
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func cmdList(ctx context.Context, c *ctl.Client, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	status := fs.String("status", "pending", "queue state to list")
	_ = fs.Parse(args)

	photos, err := c.List(ctx, *status)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(photos)
		return
	}
	if len(photos) == 0 {
		fmt.Printf("No %s photos.\n", *status)
		return
	}
	for _, p := range photos {
		created := time.UnixMilli(p.CreatedAt).Format("2006-01-02 15:04")
		line := fmt.Sprintf("%-36s %-10s attempts=%d contact=%s %s", p.LocalID, p.Status, p.Attempts, p.ContactID, created)
		if p.LastError != "" {
			line += " error=" + strconv.Quote(p.LastError)
		}
		fmt.Println(line)
	}
}

func cmdShow(ctx context.Context, c *ctl.Client, localID string, jsonOut bool) {
	p, err := c.Get(ctx, localID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(p)
		return
	}
	printPhoto(p)
}

func printPhoto(p *api.Photo) {
	fmt.Printf("Photo:    %s\n", p.LocalID)
	fmt.Printf("Status:   %s\n", p.Status)
	fmt.Printf("Contact:  %s\n", p.ContactID)
	if p.ProjectID != "" {
		fmt.Printf("Project:  %s\n", p.ProjectID)
	}
	if p.Note != "" {
		fmt.Printf("Note:     %s\n", p.Note)
	}
	fmt.Printf("Attempts: %d\n", p.Attempts)
	if p.LastError != "" {
		fmt.Printf("Error:    %s (%s)\n", p.LastError, p.ErrorKind)
	}
	if p.RemoteURL != "" {
		fmt.Printf("Remote:   %s\n", p.RemoteURL)
	}
	fmt.Printf("Created:  %s\n", time.UnixMilli(p.CreatedAt).Format(time.RFC3339))
	if p.CompletedAt != 0 {
		fmt.Printf("Done:     %s\n", time.UnixMilli(p.CompletedAt).Format(time.RFC3339))
	}
}

func cmdStats(ctx context.Context, c *ctl.Client, jsonOut bool) {
	s, err := c.Stats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(s)
		return
	}
	fmt.Printf("Total:     %d\n", s.Total)
	fmt.Printf("Pending:   %d\n", s.Pending)
	fmt.Printf("Syncing:   %d\n", s.Syncing)
	fmt.Printf("Failed:    %d\n", s.Failed)
	fmt.Printf("Completed: %d\n", s.Completed)
}

func cmdQuota(ctx context.Context, c *ctl.Client, jsonOut bool) {
	q, err := c.Quota(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(q)
		return
	}
	if q.TotalBytes == 0 {
		fmt.Println("Storage usage unavailable on this platform.")
		return
	}
	fmt.Printf("Used:  %.1f%% (%d of %d bytes)\n", q.UsedPercent, q.UsedBytes, q.TotalBytes)
}

func cmdRetry(ctx context.Context, c *ctl.Client, localID string) {
	if err := c.Retry(ctx, localID); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Retry requested for %s\n", localID)
}

func cmdDelete(ctx context.Context, c *ctl.Client, localID string) {
	if err := c.Delete(ctx, localID); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %s\n", localID)
}

func cmdWatch(ctx context.Context, c *ctl.Client, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	prefix := fs.String("prefix", "", "event kind prefix, e.g. photo.")
	_ = fs.Parse(args)

	err := c.Watch(ctx, *prefix, func(evt api.Event) error {
		if jsonOut {
			outputJSON(evt)
			return nil
		}
		ts := time.UnixMilli(evt.OccurredAt).Format("15:04:05")
		if evt.Payload != nil {
			fmt.Printf("%s %-18s %v\n", ts, evt.Kind, evt.Payload)
		} else {
			fmt.Printf("%s %s\n", ts, evt.Kind)
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func cmdClearCompleted(ctx context.Context, c *ctl.Client, jsonOut bool) {
	n, err := c.ClearCompleted(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(map[string]int64{"deleted": n})
		return
	}
	fmt.Printf("Removed %d completed uploads\n", n)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
