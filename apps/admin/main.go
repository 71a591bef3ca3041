package main

import (
	"log"
	"os"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/academia/core"
	logsvc "github.com/trezcool/academia/services/logger"
	"github.com/trezcool/academia/storage/blob"
	"github.com/trezcool/academia/storage/database"
	sqlxrepos "github.com/trezcool/academia/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf := core.NewConfig()

	// set up DB
	sdb, err := database.Open(conf)
	errAndDie(err)
	defer sdb.Close()
	errAndDie(sdb.Ping())
	db := sqlx.NewDb(sdb, "postgres")

	// set up the avatar blob store
	var store core.BlobStore
	if conf.Media.Backend == "database" {
		store = blob.NewDatabaseStore(db)
	} else {
		store, err = blob.NewFileSystemStore(conf.Media.UploadDir)
		errAndDie(err)
	}

	// start CLI
	cli := commandLine{
		db:       sdb,
		usrRepo:  sqlxrepos.NewUserRepository(db),
		profRepo: sqlxrepos.NewProfileRepository(db),
		store:    store,
		conf:     conf,
		logger:   logsvc.NewStdLogger(logger),
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
