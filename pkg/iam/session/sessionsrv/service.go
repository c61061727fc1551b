package sessionsrv

import (
	"context"
	"time"

	"github.com/coagline/coagline/pkg/asyncx"
	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/events"
	"github.com/coagline/coagline/pkg/iam/session"
	"github.com/coagline/coagline/pkg/kernel"
	"github.com/coagline/coagline/pkg/logx"
)

// maxPageSize caps the session listing page size.
const maxPageSize = 10

// touchTimeout bounds the fire-and-forget last-active update.
const touchTimeout = 5 * time.Second

// CredentialRevoker invalidates every outstanding credential of an identity.
// Satisfied by the identity provider.
type CredentialRevoker interface {
	RevokeAllCredentials(ctx context.Context, id kernel.IdentityID) error
}

// ImpersonationChecker reports whether a site admin currently has an open
// impersonation of the identity. Used to suppress the client-facing
// revocation event so an active support session is not auto-ended by an
// unrelated logout of the target's real account.
type ImpersonationChecker interface {
	HasOpenImpersonation(ctx context.Context, target kernel.IdentityID) (bool, error)
}

// Service is the session registry.
type Service struct {
	repo    session.Repository
	revoker CredentialRevoker
	imp     ImpersonationChecker
	bus     *events.Bus
}

// NewService creates the session registry service.
func NewService(repo session.Repository, revoker CredentialRevoker, imp ImpersonationChecker, bus *events.Bus) *Service {
	return &Service{
		repo:    repo,
		revoker: revoker,
		imp:     imp,
		bus:     bus,
	}
}

// RecordLogin creates a session row for a fresh login and returns its opaque
// id. The caller embeds the id into the identity's claims before issuing the
// credential, which also invalidates any credential minted before this login.
func (s *Service) RecordLogin(ctx context.Context, ownerID kernel.IdentityID, device session.DeviceInfo, ip string) (string, error) {
	id, err := session.NewSessionID()
	if err != nil {
		return "", err
	}

	now := time.Now()
	row := session.Session{
		ID:           id,
		OwnerID:      ownerID,
		Device:       device.Device,
		Browser:      device.Browser,
		OS:           device.OS,
		IPAddress:    ip,
		LoggedInAt:   now,
		LastActiveAt: now,
	}

	if err := s.repo.Save(ctx, row); err != nil {
		return "", err
	}

	logx.WithFields(logx.Fields{
		"owner_id":   ownerID,
		"session_id": id,
		"ip":         ip,
	}).Info("session recorded")

	return id, nil
}

// CheckLive reports whether a session id still backs a live login.
//
// The failure policy is deliberately asymmetric: a missing row means the
// session was revoked and the row cleaned up, so the check fails closed; a
// store outage is an infrastructure problem, not a revocation, so the check
// fails open with a log line rather than signing everyone out.
func (s *Service) CheckLive(ctx context.Context, sessionID string) session.Liveness {
	if sessionID == "" {
		return session.Liveness{Live: false, Reason: session.ReasonUnknownSession}
	}

	row, err := s.repo.Find(ctx, sessionID)
	if err != nil {
		if errx.IsType(err, errx.TypeNotFound) {
			return session.Liveness{Live: false, Reason: session.ReasonUnknownSession}
		}

		logx.WithError(err).WithField("session_id", sessionID).
			Warn("session store unavailable, failing open on liveness check")
		return session.Liveness{Live: true, Reason: session.ReasonStoreUnavailable}
	}

	if row.Revoked {
		return session.Liveness{Live: false, Reason: session.ReasonRevoked}
	}

	return session.Liveness{Live: true}
}

// Touch updates the session's last-active timestamp. Best-effort: runs off
// the request path and failures are logged, never propagated.
func (s *Service) Touch(sessionID string) {
	asyncx.DoTimeout(touchTimeout, func(ctx context.Context) {
		if err := s.repo.Touch(ctx, sessionID); err != nil {
			logx.WithError(err).WithField("session_id", sessionID).
				Debug("session touch failed")
		}
	})
}

// Revoke revokes a single session owned by ownerID.
func (s *Service) Revoke(ctx context.Context, sessionID string, ownerID kernel.IdentityID) error {
	if err := s.repo.Revoke(ctx, sessionID, ownerID); err != nil {
		return err
	}

	s.publishRevoked(ctx, ownerID, []string{sessionID}, "logout")
	return nil
}

// RevokeAllExcept revokes every other active session of ownerID, keeping the
// current one signed in, and returns the number revoked.
func (s *Service) RevokeAllExcept(ctx context.Context, ownerID kernel.IdentityID, currentSessionID string) (int64, error) {
	count, err := s.repo.RevokeAllExcept(ctx, ownerID, currentSessionID)
	if err != nil {
		return 0, err
	}

	if count > 0 {
		s.publishRevoked(ctx, ownerID, nil, "revoke_others")
	}

	return count, nil
}

// ForceLogout revokes every session of the identity and invalidates all of
// its outstanding credentials. Used by the admin console.
func (s *Service) ForceLogout(ctx context.Context, ownerID kernel.IdentityID) error {
	if _, err := s.repo.RevokeAllExcept(ctx, ownerID, ""); err != nil {
		return err
	}

	if err := s.revoker.RevokeAllCredentials(ctx, ownerID); err != nil {
		return err
	}

	s.publishRevoked(ctx, ownerID, nil, "admin_forced")
	return nil
}

// ListActive returns a page of the owner's active sessions, newest active
// first, flagging the one backing the current credential.
func (s *Service) ListActive(ctx context.Context, ownerID kernel.IdentityID, opts kernel.PaginationOptions, currentSessionID string) (kernel.Paginated[session.View], error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 || opts.PageSize > maxPageSize {
		opts.PageSize = maxPageSize
	}

	rows, total, err := s.repo.ListActive(ctx, ownerID, opts)
	if err != nil {
		return kernel.Paginated[session.View]{}, err
	}

	views := make([]session.View, len(rows))
	for i, row := range rows {
		views[i] = session.View{
			Session:   row,
			IsCurrent: row.ID == currentSessionID,
		}
	}

	return kernel.NewPaginated(views, opts.Page, opts.PageSize, total), nil
}

// publishRevoked emits the client-facing revocation event unless the target
// is currently being impersonated by a site admin. The suppression decision
// is made here, server side, from the impersonation audit log; a client-held
// flag would be spoofable.
func (s *Service) publishRevoked(ctx context.Context, ownerID kernel.IdentityID, sessionIDs []string, reason string) {
	if s.imp != nil {
		open, err := s.imp.HasOpenImpersonation(ctx, ownerID)
		if err != nil {
			logx.WithError(err).WithField("owner_id", ownerID).
				Warn("impersonation check failed, emitting revocation event anyway")
		} else if open {
			logx.WithFields(logx.Fields{
				"owner_id": ownerID,
				"reason":   reason,
			}).Info("revocation event suppressed: open impersonation for identity")
			return
		}
	}

	s.bus.Publish(events.Event{
		Type:       events.EventSessionsRevoked,
		IdentityID: ownerID,
		SessionIDs: sessionIDs,
		Reason:     reason,
	})
}
