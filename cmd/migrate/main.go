// Command migrate applies schema migrations and can seed a demo catalog for
// local sandbox runs.
//
//	migrate up | down | version | to N | force N | seed
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"ms-booking/internal/config"
	"ms-booking/internal/database"
	"ms-booking/internal/database/migrations"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: migrate [-dir path] up|down|version|to N|force N|seed")
	flag.PrintDefaults()
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	_ = godotenv.Load()
	cfg := config.Load()

	dir := flag.String("dir", cfg.Database.MigrationsDir, "read migrations from this directory instead of the embedded set")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	ctx := context.Background()
	bunDB, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	if flag.Arg(0) == "seed" {
		if err := seedCatalog(ctx, bunDB); err != nil {
			log.Fatal("SEED", fmt.Sprintf("Failed to seed catalog: %v", err))
		}
		log.Info("SEED", "Demo catalog seeded")
		return
	}

	runner := migrations.NewRunner(bunDB.DB, migrations.MigrateOptions{MigrationsDir: *dir}, log)
	if err := runner.Initialize(); err != nil {
		log.Fatal("MIGRATION", err.Error())
	}

	switch flag.Arg(0) {
	case "up":
		err = runner.MigrateUp()
	case "down":
		err = runner.MigrateDown()
	case "version":
		var (
			version uint
			dirty   bool
		)
		if version, dirty, err = runner.Version(); err == nil {
			fmt.Printf("%d dirty=%v\n", version, dirty)
		}
	case "to", "force":
		var n int
		if n, err = strconv.Atoi(flag.Arg(1)); err != nil {
			log.Fatal("MIGRATION", fmt.Sprintf("%s needs a numeric version", flag.Arg(0)))
		}
		if flag.Arg(0) == "to" {
			err = runner.MigrateTo(uint(n))
		} else {
			err = runner.Force(n)
		}
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal("MIGRATION", err.Error())
	}
}

// seedCatalog inserts a demo event with one paid and one free class. Rows that
// already exist are left alone.
func seedCatalog(ctx context.Context, db *bun.DB) error {
	now := time.Now().UTC()
	event := models.Event{
		ID:       "event001",
		Name:     "Summer Fest",
		Currency: "lkr",
		DiscountSchedule: models.DiscountSchedule{
			models.TierLevel1: {Type: models.PERCENTAGE, PercentBps: 1000},
			models.TierLevel2: {Type: models.PERCENTAGE, PercentBps: 2500},
			models.TierLevel3: {Type: models.FIXED, Amount: 50000},
		},
		CreatedAt: now,
	}
	occurrences := []models.Occurrence{
		{EventID: event.ID, OccursOn: now.AddDate(0, 1, 0).Format("2006-01-02")},
		{EventID: event.ID, OccursOn: now.AddDate(0, 1, 1).Format("2006-01-02")},
	}
	classes := []models.TicketClass{
		{ID: "event001-general", EventID: event.ID, ClassName: "General", Kind: models.TicketClassPaid,
			UnitPrice: 250000, TotalCapacity: 500, Status: models.TicketClassOnSale},
		{ID: "event001-community", EventID: event.ID, ClassName: "Community", Kind: models.TicketClassFree,
			TotalCapacity: 50, Status: models.TicketClassOnSale},
	}

	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&event).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		if _, err := tx.NewInsert().Model(&occurrences).On("CONFLICT (event_id, occurs_on) DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("insert occurrences: %w", err)
		}
		if _, err := tx.NewInsert().Model(&classes).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("insert ticket classes: %w", err)
		}
		return nil
	})
}
