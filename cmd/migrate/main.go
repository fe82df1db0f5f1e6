package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gatehouse.dev/internal/migrate"
	"gatehouse.dev/internal/obs"
	"gatehouse.dev/internal/store/pg"
	"gatehouse.dev/migrations"
)

func main() {
	log := obs.Configure(os.Stderr, obs.LogConfig{Level: os.Getenv("GATEHOUSE_LOG_LEVEL"), ServiceName: "gatehouse-migrate"})

	var (
		dsn = flag.String("dsn", os.Getenv("GATEHOUSE_DATABASE_URL"), "PostgreSQL DSN")
		dir = flag.String("dir", "", "Read migrations from this directory (schema/ and seeds/) instead of the embedded set")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal().Msg("missing DSN: provide via -dsn or GATEHOUSE_DATABASE_URL")
	}
	if len(flag.Args()) == 0 {
		log.Fatal().Msg("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn, pg.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer store.Close()

	var fsys fs.FS = migrations.FS
	if *dir != "" {
		fsys = os.DirFS(*dir)
	}
	mgr := migrate.NewManager(store.DB(), fsys, migrations.SchemaDir, migrations.SeedsDir, migrate.WithLogger(log))

	switch cmd := flag.Arg(0); cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		log.Info().Int("applied", len(applied)).Msg("migrations up to date")
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			fmt.Println(name)
		}
	case "seed":
		var applied []string
		applied, err = mgr.Seed(ctx)
		log.Info().Int("applied", len(applied)).Msg("seeds up to date")
	case "status":
		var status []migrate.MigrationStatus
		status, err = mgr.Status(ctx)
		for _, s := range status {
			state := "pending"
			if s.Applied {
				state = "applied"
			}
			fmt.Printf("%-8s %s\n", state, s.Name)
		}
	default:
		log.Fatal().Str("command", cmd).Msg("unknown command")
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", flag.Arg(0)).Msg("migrate failed")
	}
}
