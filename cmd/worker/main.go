package main

import (
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"design-eval/internal/coordinator"
	"design-eval/internal/db"
	"design-eval/internal/worker"
)

func main() {
	dbase := db.MustOpen()
	coord := coordinator.New(
		&db.RubricStore{DB: dbase},
		&db.Ledger{DB: dbase},
		&db.EvidenceLog{DB: dbase},
		&db.Findings{DB: dbase},
		nil,
		&db.FinalScores{DB: dbase},
	)
	coord.Locks = &db.AdvisoryLocker{DB: dbase}
	if err := worker.Run(os.Getenv("REDIS_ADDR"), coord); err != nil {
		log.Fatal(err)
	}
}
