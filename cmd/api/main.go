package main

import (
	"context"
	"log"
	"os"

	"github.com/hibiken/asynq"

	"design-eval/internal/coordinator"
	"design-eval/internal/db"
	httpSrv "design-eval/internal/http"
	"design-eval/internal/migrations"
	"design-eval/internal/storage"
)

func main() {
	// Run embedded migrations (idempotent)
	migrations.Run()

	dbase := db.MustOpen()
	s3c, err := storage.New(context.Background())
	if err != nil {
		log.Fatal(err)
	}
	asq := asynq.NewClient(asynq.RedisClientOpt{Addr: os.Getenv("REDIS_ADDR")})

	findings := &db.Findings{DB: dbase}
	// Assignments stay nil here: the panel collaborator is external, and
	// without one any non-empty active set counts as complete.
	coord := coordinator.New(
		&db.RubricStore{DB: dbase},
		&db.Ledger{DB: dbase},
		&db.EvidenceLog{DB: dbase},
		findings,
		nil,
		&db.FinalScores{DB: dbase},
	)
	// The worker recomputes over the same database, so exclusion has to live
	// in Postgres rather than in this process.
	coord.Locks = &db.AdvisoryLocker{DB: dbase}

	srv := httpSrv.NewServer(dbase, s3c, asq, coord, findings)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}
