// cmd/container.go
//
// Root composition root. Owns infrastructure (DB, Redis, email) and composes
// bounded-context containers. This is the only place that knows about ALL
// modules.
package main

import (
	"context"
	"fmt"

	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/coagline/coagline/pkg/account/accountapi"
	"github.com/coagline/coagline/pkg/account/accountinfra"
	"github.com/coagline/coagline/pkg/account/accountsrv"
	"github.com/coagline/coagline/pkg/billing/entitlement/entitlementapi"
	"github.com/coagline/coagline/pkg/billing/entitlement/entitlementinfra"
	"github.com/coagline/coagline/pkg/billing/entitlement/entitlementsrv"
	"github.com/coagline/coagline/pkg/config"
	"github.com/coagline/coagline/pkg/events"
	"github.com/coagline/coagline/pkg/iam/iamcontainer"
	"github.com/coagline/coagline/pkg/logx"
	"github.com/coagline/coagline/pkg/notifx"
	"github.com/coagline/coagline/pkg/notifx/notifxconsole"
	"github.com/coagline/coagline/pkg/notifx/notifxses"
	"github.com/coagline/coagline/pkg/patients/patientsapi"
	"github.com/coagline/coagline/pkg/patients/patientsinfra"
	"github.com/coagline/coagline/pkg/patients/patientssrv"
	"github.com/coagline/coagline/pkg/ratelimit"
)

// Container holds shared infrastructure and composed module containers.
type Container struct {
	Config *config.Config

	// Infrastructure (shared across all modules)
	DB       *sqlx.DB
	Redis    *redis.Client
	Bus      *events.Bus
	Notifier *notifx.Client
	Limiter  *ratelimit.Limiter

	// Bounded-context containers and services
	IAM         *iamcontainer.Container
	Accounts    *accountsrv.Service
	Entitlement *entitlementsrv.Service
	Patients    *patientssrv.Service

	// Handlers
	AccountHandlers     *accountapi.Handlers
	EntitlementHandlers *entitlementapi.Handlers
	PatientHandlers     *patientsapi.Handlers
}

func NewContainer(cfg *config.Config) *Container {
	logx.Info("initializing application container")

	c := &Container{Config: cfg}

	c.initInfrastructure()
	c.initModules()

	logx.Info("application container initialized")
	return c
}

// ---------------------------------------------------------------------------
// Infrastructure — DB, Redis, email
// ---------------------------------------------------------------------------

func (c *Container) initInfrastructure() {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Config.Database.Host,
		c.Config.Database.Port,
		c.Config.Database.User,
		c.Config.Database.Password,
		c.Config.Database.Name,
		c.Config.Database.SSLMode,
	)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		logx.Fatalf("failed to connect to database: %v", err)
	}
	db.SetMaxOpenConns(c.Config.Database.MaxOpenConns)
	db.SetMaxIdleConns(c.Config.Database.MaxIdleConns)
	db.SetConnMaxLifetime(c.Config.Database.ConnMaxLifetime)
	c.DB = db
	logx.Info("database connected")

	c.Redis = redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Address(),
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})
	if _, err := c.Redis.Ping(context.Background()).Result(); err != nil {
		logx.Fatalf("failed to connect to Redis: %v (Redis is required)", err)
	}
	logx.Info("redis connected")

	c.Bus = events.NewBus()
	c.Limiter = ratelimit.New(c.Config.Auth.AdminRateLimit, c.Config.Auth.AdminRateWindow)
	c.initNotifier()
}

func (c *Container) initNotifier() {
	switch c.Config.Notifx.Provider {
	case "ses":
		awsCfg, err := awsConfig.LoadDefaultConfig(context.Background(),
			awsConfig.WithRegion(c.Config.Notifx.AWSRegion))
		if err != nil {
			logx.Fatalf("unable to load AWS SDK config: %v", err)
		}
		sender := notifxses.NewSESProvider(ses.NewFromConfig(awsCfg), c.Config.Notifx.FromAddress)
		c.Notifier = notifx.NewClient(sender)
		logx.Infof("SES email provider configured (region: %s)", c.Config.Notifx.AWSRegion)

	case "console":
		c.Notifier = notifx.NewClient(notifxconsole.NewConsoleProvider())
		logx.Warn("console email provider configured, emails will only be logged")

	default:
		logx.Fatalf("unknown NOTIFX_PROVIDER: %s (use 'ses' or 'console')", c.Config.Notifx.Provider)
	}
}

// ---------------------------------------------------------------------------
// Modules
// ---------------------------------------------------------------------------

func (c *Container) initModules() {
	accountRepo := accountinfra.NewPostgresRepository(c.DB)

	c.IAM = iamcontainer.New(iamcontainer.Deps{
		DB:       c.DB,
		Cfg:      c.Config,
		Bus:      c.Bus,
		Notifier: c.Notifier,
		Accounts: accountRepo,
	})

	tokenStore := accountinfra.NewRedisTokenStore(c.Redis)
	c.Accounts = accountsrv.NewService(
		accountRepo, tokenStore, c.IAM.Provider, c.IAM.Provider, c.Notifier, c.Config.Server.BaseURL)

	entitlementRepo := entitlementinfra.NewPostgresRepository(c.DB)
	c.Entitlement = entitlementsrv.NewService(entitlementRepo, c.Bus)

	patientRepo := patientsinfra.NewPostgresRepository(c.DB)
	c.Patients = patientssrv.NewService(patientRepo, c.Entitlement)

	c.AccountHandlers = accountapi.NewHandlers(c.Accounts)
	c.EntitlementHandlers = entitlementapi.NewHandlers(c.Entitlement, c.Config.Billing.WebhookSecret)
	c.PatientHandlers = patientsapi.NewHandlers(c.Patients)
}

// Cleanup closes shared infrastructure.
func (c *Container) Cleanup() {
	c.Limiter.Close()
	if err := c.Redis.Close(); err != nil {
		logx.Errorf("closing redis: %v", err)
	}
	if err := c.DB.Close(); err != nil {
		logx.Errorf("closing database: %v", err)
	}
}
