package main

import (
	"flag"
	"log"

	common "github.com/NordCoder/Lastbeat/internal/config/common"
	"github.com/NordCoder/Lastbeat/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

func main() {
	cfgPath := flag.String("config", "", "optional config file with a db.dsn key")
	down := flag.Bool("down", false, "roll back the latest migration")
	flag.Parse()

	v := common.NewViper(*cfgPath)
	common.SetDefaults(v, "migrator")
	dsn := v.GetString("db.dsn")
	if dsn == "" {
		log.Fatal("db.dsn is empty")
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("set dialect: %v", err)
	}
	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if *down {
		if err := goose.Down(db, "."); err != nil {
			log.Fatalf("migrate down: %v", err)
		}
		log.Println("migrations: down OK")
		return
	}
	if err := goose.Up(db, "."); err != nil {
		log.Fatalf("migrate up: %v", err)
	}
	log.Println("migrations: up OK")
}
