package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/jengzang/fleet-records-go/internal/analysis/behavior"
	"github.com/jengzang/fleet-records-go/internal/config"
	"github.com/jengzang/fleet-records-go/internal/database"
	"github.com/jengzang/fleet-records-go/internal/models"
	"github.com/jengzang/fleet-records-go/internal/repository"
	"github.com/jengzang/fleet-records-go/internal/service"
)

// Rebuilds trips from stored telemetry without starting the API server
func main() {
	vehicles := flag.String("vehicles", "", "comma separated vehicle ids, empty for all")
	start := flag.String("start", "", "RFC3339 start, empty for the first sample")
	end := flag.String("end", "", "RFC3339 end, empty for the last sample")
	full := flag.Bool("full", false, "ignore stored open trips")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	db, err := database.Open(database.Config{Path: cfg.DBPath})
	if err != nil {
		log.Fatal("Failed to open database:", err)
	}
	defer db.Close()

	behavior.RegisterTripBackfill(cfg.Backfill())

	params := models.BackfillParams{}
	if *vehicles != "" {
		for _, id := range strings.Split(*vehicles, ",") {
			if id = strings.TrimSpace(id); id != "" {
				params.VehicleIDs = append(params.VehicleIDs, id)
			}
		}
	}
	if params.Start, err = parseFlagTime(*start); err != nil {
		log.Fatal("Invalid -start:", err)
	}
	if params.End, err = parseFlagTime(*end); err != nil {
		log.Fatal("Invalid -end:", err)
	}

	ctx := context.Background()
	tasks := service.NewAnalysisTaskService(repository.NewAnalysisTaskRepository(db), db)

	task, err := tasks.CreateBackfill(ctx, params, *full, "cli")
	if err != nil {
		log.Fatal("Failed to create backfill task:", err)
	}
	log.Printf("Backfill task %d started", task.ID)
	tasks.Wait()

	task, err = tasks.GetTask(ctx, task.ID)
	if err != nil || task == nil {
		log.Fatal("Failed to read task result:", err)
	}
	if task.Status != models.TaskStatusCompleted {
		log.Fatalf("Backfill task %d %s: %s", task.ID, task.Status, task.ErrorMessage)
	}
	log.Printf("Backfill task %d completed: %s", task.ID, task.ResultSummary)
}

func parseFlagTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
