package iamcontainer

import (
	"github.com/jmoiron/sqlx"

	"github.com/coagline/coagline/pkg/config"
	"github.com/coagline/coagline/pkg/events"
	"github.com/coagline/coagline/pkg/iam/auth"
	"github.com/coagline/coagline/pkg/iam/auth/authapi"
	"github.com/coagline/coagline/pkg/iam/authz"
	"github.com/coagline/coagline/pkg/iam/impersonation/impersonationapi"
	"github.com/coagline/coagline/pkg/iam/impersonation/impersonationinfra"
	"github.com/coagline/coagline/pkg/iam/impersonation/impersonationsrv"
	"github.com/coagline/coagline/pkg/iam/session/sessioninfra"
	"github.com/coagline/coagline/pkg/iam/session/sessionsrv"
	"github.com/coagline/coagline/pkg/iam/team/teamapi"
	"github.com/coagline/coagline/pkg/iam/team/teaminfra"
	"github.com/coagline/coagline/pkg/iam/team/teamsrv"
	"github.com/coagline/coagline/pkg/identity/jwtprovider"
	"github.com/coagline/coagline/pkg/logx"
	"github.com/coagline/coagline/pkg/notifx"
)

// ---------------------------------------------------------------------------
// Deps: explicit external dependencies this bounded context requires.
// ---------------------------------------------------------------------------

type Deps struct {
	DB  *sqlx.DB
	Cfg *config.Config
	Bus *events.Bus

	// Notifier sends invitation emails; injected so IAM has no knowledge
	// of the concrete email provider.
	Notifier *notifx.Client

	// Accounts answers the resolver's ownership check. It lives in the
	// account module, injected as an interface.
	Accounts authz.AccountFinder
}

// ---------------------------------------------------------------------------
// Container: the public surface of the IAM module.
// ---------------------------------------------------------------------------

type Container struct {
	// Provider doubles as the credential verifier and primary authenticator.
	Provider *jwtprovider.Provider

	// Services — available for cross-module consumption
	Sessions      *sessionsrv.Service
	Impersonation *impersonationsrv.Service
	Team          *teamsrv.Service
	Resolver      *authz.Resolver

	// Handlers — needed by cmd/ to register routes
	AuthHandlers          *authapi.Handlers
	TeamHandlers          *teamapi.Handlers
	ImpersonationHandlers *impersonationapi.Handlers

	// Middleware — needed by cmd/ to protect route groups
	Middleware *auth.Middleware
}

// New constructs the IAM dependency graph.
// Order matters: provider → repos → services → middleware → handlers.
func New(deps Deps) *Container {
	logx.Info("initializing IAM container")

	c := &Container{}

	c.Provider = jwtprovider.NewProvider(
		deps.DB,
		deps.Cfg.Auth.JWTSecret,
		deps.Cfg.Auth.CredentialTTL,
		deps.Cfg.Auth.JWTIssuer,
	)

	sessionRepo := sessioninfra.NewPostgresSessionRepository(deps.DB)
	impersonationRepo := impersonationinfra.NewPostgresRepository(deps.DB)
	teamRepo := teaminfra.NewPostgresMemberRepository(deps.DB)

	c.Sessions = sessionsrv.NewService(sessionRepo, c.Provider,
		impersonationsrv.NewAuditChecker(impersonationRepo), deps.Bus)
	c.Impersonation = impersonationsrv.NewService(impersonationRepo, c.Provider, c.Provider, c.Sessions)
	c.Resolver = authz.NewResolver(deps.Accounts, teamRepo)
	c.Team = teamsrv.NewService(teamRepo, c.Provider, deps.Notifier, deps.Bus, deps.Cfg.Server.BaseURL)

	c.Middleware = auth.NewMiddleware(c.Provider, c.Sessions, c.Resolver)

	c.AuthHandlers = authapi.NewHandlers(c.Provider, c.Sessions)
	c.TeamHandlers = teamapi.NewHandlers(c.Team)
	c.ImpersonationHandlers = impersonationapi.NewHandlers(c.Impersonation)

	logx.Info("IAM container initialized")
	return c
}
