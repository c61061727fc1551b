package impersonationsrv

import (
	"context"
	"fmt"

	"github.com/coagline/coagline/pkg/iam/session"

	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/iam/impersonation"
	"github.com/coagline/coagline/pkg/identity"
	"github.com/coagline/coagline/pkg/kernel"
	"github.com/coagline/coagline/pkg/logx"
)

// Service lets site admins act as a customer for support, leaving an audit
// trail for every episode. The admin's own credential is never revoked;
// they hold the delegated one alongside it and trade back on exit.
type Service struct {
	repo     impersonation.Repository
	provider identity.Provider
	issuer   identity.PrimaryAuthenticator
	sessions SessionRecorder
}

// SessionRecorder registers the session backing the credential minted on
// exit, so the admin's post-exit credential is subject to revocation like
// any login. Satisfied by sessionsrv.Service.
type SessionRecorder interface {
	RecordLogin(ctx context.Context, ownerID kernel.IdentityID, device session.DeviceInfo, ip string) (string, error)
}

func NewService(repo impersonation.Repository, provider identity.Provider, issuer identity.PrimaryAuthenticator, sessions SessionRecorder) *Service {
	return &Service{repo: repo, provider: provider, issuer: issuer, sessions: sessions}
}

// StartResult is what the admin console receives when impersonation begins.
type StartResult struct {
	Credential string                    `json:"credential"`
	Target     *identity.Identity        `json:"target"`
	Audit      *impersonation.AuditEntry `json:"audit"`
}

// Start mints a short-lived credential that acts as the target user. The
// credential carries the target's real claims plus the impersonation
// markers; every authorization decision downstream sees the target, not
// the admin. The audit row is best-effort: a failed write is logged but
// must not block a support intervention.
func (s *Service) Start(ctx context.Context, admin kernel.Principal, targetEmail, reason string) (*StartResult, error) {
	if !admin.SiteAdmin {
		return nil, impersonation.ErrAdminOnly()
	}
	if admin.Impersonating {
		return nil, errx.Validation("exit the current impersonation first")
	}

	target, err := s.provider.LookupByEmail(ctx, targetEmail)
	if err != nil {
		if errx.IsType(err, errx.TypeNotFound) {
			return nil, impersonation.ErrTargetNotFound()
		}
		return nil, err
	}
	if target.ID == admin.IdentityID {
		return nil, impersonation.ErrSelfTarget()
	}

	claims := target.Claims
	claims.Impersonating = true
	claims.OriginalAdmin = admin.IdentityID.String()
	claims.SessionID = ""

	entry := &impersonation.AuditEntry{
		AdminIdentity: admin.IdentityID,
		AdminEmail:    admin.Email,
		TargetID:      target.ID,
		TargetEmail:   target.Email,
		Reason:        reason,
	}
	audited := true
	if err := s.repo.Open(ctx, entry); err != nil {
		audited = false
		logx.WithError(err).WithFields(logx.Fields{
			"admin":  admin.Email,
			"target": target.Email,
		}).Error("failed to record impersonation start")
	}

	credential, err := s.provider.CreateDelegatedCredential(ctx, target.ID, claims, impersonation.CredentialTTL)
	if err != nil {
		if audited {
			if _, closeErr := s.repo.Close(ctx, admin.IdentityID, target.ID); closeErr != nil {
				logx.WithError(closeErr).Warn("failed to close audit entry after credential failure")
			}
		}
		return nil, err
	}

	logx.WithFields(logx.Fields{
		"admin":  admin.Email,
		"target": target.Email,
	}).Info("impersonation started")

	return &StartResult{Credential: credential, Target: target, Audit: entry}, nil
}

// Exit ends the caller's impersonation and returns a clean credential for
// the original admin. Only an impersonation credential may call this. The
// new credential is backed by a fresh session row, so it passes the
// liveness gate and can be revoked like any login.
func (s *Service) Exit(ctx context.Context, p kernel.Principal, device session.DeviceInfo, ip string) (string, error) {
	if !p.Impersonating || p.OriginalAdmin == "" {
		return "", impersonation.ErrNotImpersonating()
	}

	closed, err := s.repo.Close(ctx, p.OriginalAdmin, p.IdentityID)
	if err != nil {
		return "", fmt.Errorf("closing impersonation audit entries: %w", err)
	}
	if closed == 0 {
		logx.WithFields(logx.Fields{
			"admin":  p.OriginalAdmin,
			"target": p.IdentityID,
		}).Warn("exit with no open audit entry")
	}

	sessionID, err := s.sessions.RecordLogin(ctx, p.OriginalAdmin, device, ip)
	if err != nil {
		return "", fmt.Errorf("recording post-exit session: %w", err)
	}

	credential, err := s.issuer.IssueCredential(ctx, p.OriginalAdmin, sessionID)
	if err != nil {
		return "", err
	}

	logx.WithFields(logx.Fields{
		"admin":  p.OriginalAdmin,
		"target": p.IdentityID,
	}).Info("impersonation ended")

	return credential, nil
}

// History returns the target's impersonation audit log, admins only.
func (s *Service) History(ctx context.Context, admin kernel.Principal, target kernel.IdentityID, opts kernel.PaginationOptions) (*kernel.Paginated[impersonation.AuditEntry], error) {
	if !admin.SiteAdmin {
		return nil, impersonation.ErrAdminOnly()
	}
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 || opts.PageSize > 50 {
		opts.PageSize = 50
	}
	return s.repo.ListByTarget(ctx, target, opts)
}
