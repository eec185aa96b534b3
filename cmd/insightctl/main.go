package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lucylow/SkySimTacticalGG/internal/bootstrap"
	"github.com/lucylow/SkySimTacticalGG/internal/bus"
	"github.com/lucylow/SkySimTacticalGG/pkg/insightapi"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "submit":
		runSubmit(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "workers":
		runWorkers(os.Args[2:])
	case "events":
		runEvents(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: insightctl <submit|status|workers|events> [...]")
}

func runSubmit(args []string) {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	server := fs.String("server", serverFromEnv(), "orchestratord base URL")
	matchID := fs.String("match", "", "match id (required)")
	round := fs.Int("round", 0, "round number")
	duration := fs.Float64("duration", 6.0, "clip duration in seconds")
	snapshotFile := fs.String("snapshot", "", "path to a grid snapshot JSON file")
	review := fs.Bool("review", false, "force human review of the result")
	_ = fs.Parse(args)
	if strings.TrimSpace(*matchID) == "" {
		fatalf("--match is required")
	}

	req := insightapi.InsightRequest{
		MatchID:            *matchID,
		Round:              *round,
		DurationS:          *duration,
		RequireHumanReview: *review,
	}
	if *snapshotFile != "" {
		data, err := os.ReadFile(*snapshotFile)
		if err != nil {
			fatalf("read snapshot: %v", err)
		}
		if err := json.Unmarshal(data, &req.GridSnapshot); err != nil {
			fatalf("parse snapshot: %v", err)
		}
	}

	body, _ := json.Marshal(req)
	resp, err := http.Post(*server+"/v1/insights", "application/json", bytes.NewReader(body))
	if err != nil {
		fatalf("submit: %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		fatalf("submit rejected (%d): %s", resp.StatusCode, strings.TrimSpace(string(out)))
	}
	fmt.Println(strings.TrimSpace(string(out)))
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	server := fs.String("server", serverFromEnv(), "orchestratord base URL")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fatalf("usage: insightctl status <task-id>")
	}

	resp, err := http.Get(*server + "/v1/insights/" + fs.Arg(0))
	if err != nil {
		fatalf("status: %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fatalf("status failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(out)))
	}
	fmt.Println(strings.TrimSpace(string(out)))
}

func runWorkers(args []string) {
	fs := flag.NewFlagSet("workers", flag.ExitOnError)
	server := fs.String("server", serverFromEnv(), "orchestratord base URL")
	_ = fs.Parse(args)

	resp, err := http.Get(*server + "/v1/workers")
	if err != nil {
		fatalf("workers: %v", err)
	}
	defer resp.Body.Close()
	var out insightapi.WorkersResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("decode workers: %v", err)
	}
	for _, w := range out.Workers {
		fmt.Printf("%-22s lane=%-8s prio=%-3d load=%d/%d caps=%s\n",
			w.Name, w.Lane, w.Priority, w.Load, w.MaxConcurrency, strings.Join(w.Capabilities, ","))
	}
}

// runEvents tails the Redis progress channel. It only works against a
// deployment running with SKYSIM_BUS=redis; the in-memory bus has no
// external subscribers.
func runEvents(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	channel := fs.String("channel", bus.ProgressChannel, "pub/sub channel to tail")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := bootstrap.NewRedisClientFromEnv()
	defer func() { _ = client.Close() }()

	sub := client.Subscribe(ctx, *channel)
	defer func() { _ = sub.Close() }()

	fmt.Fprintf(os.Stderr, "tailing %s (ctrl-c to stop)\n", *channel)
	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Println(msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func serverFromEnv() string {
	if v := os.Getenv("SKYSIM_SERVER"); v != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://127.0.0.1:8080"
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
