package dig_container

import (
	"context"
	"fmt"
	"io"
	"log"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/coursekit/apps/api/echo"
	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/access"
	"github.com/trezcool/coursekit/core/chat"
	"github.com/trezcool/coursekit/core/checkout"
	"github.com/trezcool/coursekit/core/notebook"
	"github.com/trezcool/coursekit/core/progress"
	"github.com/trezcool/coursekit/core/purchase"
	"github.com/trezcool/coursekit/core/ratelimit"
	"github.com/trezcool/coursekit/core/user"
	certsvc "github.com/trezcool/coursekit/services/certificate"
	emailsvc "github.com/trezcool/coursekit/services/email"
	llmsvc "github.com/trezcool/coursekit/services/llm"
	logsvc "github.com/trezcool/coursekit/services/logger"
	queuesvc "github.com/trezcool/coursekit/services/queue"
	rediscache "github.com/trezcool/coursekit/storage/cache/redis"
	"github.com/trezcool/coursekit/storage/database"
	inmemdb "github.com/trezcool/coursekit/storage/database/inmem"
	sqlxrepos "github.com/trezcool/coursekit/storage/database/sqlx"
)

const (
	EngineInMemory = "inmem"
	backendRedis   = "redis"
)

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	// Repositories are backed by postgres, or by memory when database.engine is "inmem".
	Repositories struct {
		dig.Out
		Users     user.Repository
		Purchases purchase.Repository
		Progress  progress.Repository
		ChatUsage chat.UsageRepository
		Notebook  notebook.Repository
		Storage   io.Closer `name:"storage"`
	}

	StorageParam struct {
		dig.In
		Storage io.Closer `name:"storage"`
	}

	serverParams struct {
		dig.In
		Conf        *core.Config
		Logger      core.Logger
		Validate    *validator.Validate
		Translator  ut.Translator
		UserSvc     *user.Service
		PurchaseSvc *purchase.Service
		Resolver    *access.Resolver
		Gate        *access.Gate
		ProgressSvc *progress.Service
		ChatSvc     *chat.Service
		NotebookSvc *notebook.Service
		CertSvc     *certsvc.Service
		Pipeline    *checkout.Pipeline
		Notifier    core.Notifier
		Limiter     *ratelimit.Limiter
	}
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newNamedLogger(conf *core.Config, name string) core.Logger {
	sink, err := logsvc.NewZapLogger(name, conf.Debug)
	if err != nil {
		log.Fatalf("creating %s logger: %v", name, err)
	}
	logger := logsvc.NewRollbarLogger(sink, conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}

func newLogger(conf *core.Config) core.Logger {
	return newNamedLogger(conf, "api")
}

func newDBLogger(conf *core.Config) core.Logger {
	return newNamedLogger(conf, "db")
}

func newRepositories(conf *core.Config, loggerParam DBLoggerParam) Repositories {
	if conf.Database.Engine == EngineInMemory {
		db := inmemdb.Open()
		loggerParam.Logger.Warn("using the in-memory database: data is lost on restart")
		return Repositories{
			Users:     inmemdb.NewUserRepository(db),
			Purchases: inmemdb.NewPurchaseRepository(db),
			Progress:  inmemdb.NewProgressRepository(db),
			ChatUsage: inmemdb.NewChatUsageRepository(db),
			Notebook:  inmemdb.NewNotebookRepository(db),
			Storage:   nopCloser{},
		}
	}

	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(context.Background(), conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db.DB, "up"); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return Repositories{
		Users:     sqlxrepos.NewUserRepository(db),
		Purchases: sqlxrepos.NewPurchaseRepository(db),
		Progress:  sqlxrepos.NewProgressRepository(db),
		ChatUsage: sqlxrepos.NewChatUsageRepository(db),
		Notebook:  sqlxrepos.NewNotebookRepository(db),
		Storage:   db,
	}
}

func newEmailService(conf *core.Config) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf)
	}
	return emailsvc.NewSendgridService(conf)
}

func newRateLimitStore(conf *core.Config, logger core.Logger) ratelimit.Store {
	if conf.RateLimit.Backend != backendRedis {
		return ratelimit.NewMemoryStore(conf.RateLimit.PruneEvery)
	}
	client, err := rediscache.NewClient(context.Background(), conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("connecting to redis: %v", err), err)
	}
	return rediscache.NewRateLimitStore(client)
}

func newAnomalyReporter(conf *core.Config, logger core.Logger) checkout.AnomalyReporter {
	reporter, err := queuesvc.NewReporter(context.Background(), conf, logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up anomaly queue: %v", err), err)
	}
	return reporter
}

func newCurriculum(conf *core.Config) (*access.Curriculum, error) {
	return access.LoadCurriculum(conf.Course.CurriculumPath)
}

func newResolver(purchases *purchase.Service) *access.Resolver {
	return access.NewResolver(purchases)
}

func newUserService(repo user.Repository, purchases *purchase.Service, logger core.Logger) *user.Service {
	return user.NewService(repo, purchases, logger)
}

func newChatService(conf *core.Config, completer chat.Completer, resolver *access.Resolver, usage chat.UsageRepository) *chat.Service {
	return chat.NewService(conf, completer, resolver, usage)
}

func newPipeline(
	conf *core.Config,
	purchases *purchase.Service,
	users *user.Service,
	notifier core.Notifier,
	anomalies checkout.AnomalyReporter,
	logger core.Logger,
) *checkout.Pipeline {
	return checkout.NewPipeline(conf, purchases, users, notifier, anomalies, logger)
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:        p.Conf,
		Logger:      p.Logger,
		Validate:    p.Validate,
		Translator:  p.Translator,
		UserSvc:     p.UserSvc,
		PurchaseSvc: p.PurchaseSvc,
		Resolver:    p.Resolver,
		Gate:        p.Gate,
		ProgressSvc: p.ProgressSvc,
		ChatSvc:     p.ChatSvc,
		NotebookSvc: p.NotebookSvc,
		CertSvc:     p.CertSvc,
		Pipeline:    p.Pipeline,
		Notifier:    p.Notifier,
		Limiter:     p.Limiter,
	})
}

// New returns a new dependency injection dig.Container. Config is read with newConfig.
func New(newConfig func() *core.Config) *dig.Container {
	c := dig.New()

	must(c.Provide(newConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(core.NewValidator))

	must(c.Provide(newRepositories))
	must(c.Provide(newEmailService))
	must(c.Provide(newRateLimitStore))
	must(c.Provide(newAnomalyReporter))
	must(c.Provide(newCurriculum))
	must(c.Provide(emailsvc.NewNotifier, dig.As(new(core.Notifier))))
	must(c.Provide(llmsvc.NewClient, dig.As(new(chat.Completer))))
	must(c.Provide(certsvc.NewService))

	must(c.Provide(purchase.NewService))
	must(c.Provide(newUserService))
	must(c.Provide(newResolver))
	must(c.Provide(access.NewGate))
	must(c.Provide(progress.NewService))
	must(c.Provide(newChatService))
	must(c.Provide(notebook.NewService))
	must(c.Provide(newPipeline))
	must(c.Provide(ratelimit.NewLimiterFromConfig))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
