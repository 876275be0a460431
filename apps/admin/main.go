package main

import (
	"fmt"
	"log"
	"os"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/purchase"
	"github.com/trezcool/coursekit/core/user"
	emailsvc "github.com/trezcool/coursekit/services/email"
	logsvc "github.com/trezcool/coursekit/services/logger"
	"github.com/trezcool/coursekit/storage/database"
	sqlxrepos "github.com/trezcool/coursekit/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	sink, err := logsvc.NewZapLogger("admin", conf.Debug)
	errAndDie(err)
	logger := logsvc.NewRollbarLogger(sink, conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	defer func() { _ = logger.Sync() }()

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()

	// set up services
	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	user.InitValidators(validate, translator)
	purchase.InitValidators(validate, translator)
	user.LoadCommonPasswords(logger)
	errAndDie(core.ParseEmailTemplates(conf.Debug))

	var mailer core.EmailService
	if conf.Debug {
		mailer = emailsvc.NewConsoleService(conf)
	} else {
		mailer = emailsvc.NewSendgridService(conf)
	}
	purchaseSvc := purchase.NewService(sqlxrepos.NewPurchaseRepository(db), validate)

	// start CLI
	cli := commandLine{
		migrate: func(command string, args ...string) error {
			return database.Migrate(db.DB, command, args...)
		},
		users:     user.NewService(sqlxrepos.NewUserRepository(db), purchaseSvc, logger),
		purchases: purchaseSvc,
		notifier:  emailsvc.NewNotifier(mailer, logger),
		validate:  validate,
		out:       os.Stdout,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		_ = db.Close()
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
