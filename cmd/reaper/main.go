package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"github.com/cwrk-planet/deal-chat/config"
	"github.com/cwrk-planet/deal-chat/internal/notify"
	"github.com/cwrk-planet/deal-chat/internal/reaper"
	"github.com/cwrk-planet/deal-chat/internal/service"
	"github.com/cwrk-planet/deal-chat/internal/storage"
	"github.com/cwrk-planet/deal-chat/pkg/logger"
)

// Одноразовый проход reaper'а. Живых соединений здесь нет, поэтому присутствие
// не учитывается: запускать против postgres, пока сервис остановлен или рядом с ним.
func main() {
	dryRun := flag.Bool("dry-run", false, "only report rooms that would be closed")
	idle := flag.Duration("idle", 0, "override chat.idleTimeout")
	colours := flag.Bool("color", true, "colorize actions")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger.Init(logger.Config{
		Env:     logger.ParseEnv(cfg.Logging.Env),
		Service: cfg.Logging.Service + "-reaper",
		Version: cfg.Logging.Version,
		Backend: logger.Backend(cfg.Logging.Backend),
		Debug:   cfg.Logging.Debug,
		Output:  os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer closeRepo()

	rooms := service.NewRoomStore(repo, nil, notify.NewDispatcher(repo, cfg.Chat.PreviewLength), service.Options{
		MaxMessageLength: cfg.Chat.MaxMessageLength,
	})
	timeout := cfg.Chat.IdleAfter()
	if *idle > 0 {
		timeout = *idle
	}
	rp := reaper.New(rooms, nil, reaper.Config{IdleTimeout: timeout, DryRun: *dryRun})

	now := time.Now()
	res, err := rp.Sweep(ctx, now)
	if err != nil {
		log.Printf("sweep: %v", err)
		return
	}
	render(os.Stdout, res, now, *colours)
}

func render(w io.Writer, res reaper.Result, now time.Time, colours bool) {
	fmt.Fprintf(w, "cutoff %s, %d candidate(s), %d closed\n",
		res.Cutoff.Format(time.RFC3339), len(res.Candidates), res.Closed)
	if len(res.Candidates) == 0 {
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Room", "Listing", "Buyer", "Idle", "Action"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	for _, c := range res.Candidates {
		table.Append([]string{
			c.Room.ID,
			c.Room.ListingID,
			c.Room.BuyerID,
			now.Sub(c.Room.BuyerLastActivity).Truncate(time.Second).String(),
			paint(c.Action, colours),
		})
	}
	table.Render()
}

func paint(a reaper.Action, colours bool) string {
	if !colours {
		return string(a)
	}
	switch a {
	case reaper.ActionClosed:
		return color.New(color.FgGreen).Render(string(a))
	case reaper.ActionWouldClose:
		return color.New(color.FgYellow).Render(string(a))
	case reaper.ActionCloseFailed:
		return color.New(color.FgRed, color.OpBold).Render(string(a))
	default:
		return color.New(color.FgGray).Render(string(a))
	}
}
