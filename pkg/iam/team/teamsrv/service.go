package teamsrv

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coagline/coagline/pkg/events"
	"github.com/coagline/coagline/pkg/iam/authz"
	"github.com/coagline/coagline/pkg/iam/team"
	"github.com/coagline/coagline/pkg/identity"
	"github.com/coagline/coagline/pkg/kernel"
	"github.com/coagline/coagline/pkg/logx"
	"github.com/coagline/coagline/pkg/notifx"
	"github.com/coagline/coagline/pkg/ptrx"
)

const inviteTemplate = "team_invitation"

const inviteTemplateHTML = `
<p>Hi {{.FirstName}},</p>
<p>{{.PracticeEmail}} invited you to join their practice on Coagline as {{.Role}}.</p>
<p><a href="{{.Link}}">Accept the invitation</a></p>
<p>The link is valid for 48 hours and can only be used once.</p>
`

// InviteRequest is the payload for inviting a team member.
type InviteRequest struct {
	Email     string      `json:"email"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Role      kernel.Role `json:"role"`
}

// InviteResult reports the created member and whether the invitation email
// went out. The member row is authoritative; the email is best-effort and a
// false flag lets the UI offer a copy-link fallback.
type InviteResult struct {
	Member    *team.Member `json:"member"`
	EmailSent bool         `json:"email_sent"`
}

// Service implements the invitation / magic-link flow.
type Service struct {
	repo     team.Repository
	provider identity.Provider
	notifier *notifx.Client
	bus      *events.Bus
	baseURL  string
}

// NewService creates the team service.
func NewService(repo team.Repository, provider identity.Provider, notifier *notifx.Client, bus *events.Bus, baseURL string) *Service {
	if err := notifier.RegisterTemplate(inviteTemplate, inviteTemplateHTML); err != nil {
		logx.WithError(err).Error("failed to register invitation template")
	}

	return &Service{
		repo:     repo,
		provider: provider,
		notifier: notifier,
		bus:      bus,
		baseURL:  baseURL,
	}
}

// ============================================================================
// Invite
// ============================================================================

// Invite creates a pending member with a 48h magic link and sends the
// invitation email. Owner-only.
func (s *Service) Invite(ctx context.Context, p *kernel.Principal, req InviteRequest) (*InviteResult, error) {
	if err := authz.Require(p.EffectiveRole, authz.CapManageUsers); err != nil {
		return nil, err
	}
	if !req.Role.IsValid() {
		return nil, team.ErrInvalidRole().WithDetail("role", string(req.Role))
	}

	exists, err := s.repo.ExistsForEmail(ctx, p.AccountID, req.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, team.ErrDuplicateMember().WithDetail("email", req.Email)
	}

	token, err := team.NewInviteToken()
	if err != nil {
		return nil, err
	}
	secret, err := team.NewTempSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	member := &team.Member{
		ID:             uuid.NewString(),
		AccountOwnerID: p.AccountID,
		Email:          req.Email,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Role:           req.Role,
		Status:         team.StatusPending,
		InviteToken:    &token,
		TokenExpiry:    ptrx.Time(now.Add(team.InviteTTL)),
		TempSecret:     &secret,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Create(ctx, member); err != nil {
		return nil, err
	}

	sent := s.sendInvite(ctx, p.Email, member, token)
	return &InviteResult{Member: member, EmailSent: sent}, nil
}

// sendInvite emails the magic link. Failures are logged, never propagated:
// the member row is the authoritative state.
func (s *Service) sendInvite(ctx context.Context, ownerEmail string, member *team.Member, token string) bool {
	data := map[string]string{
		"FirstName":     member.FirstName,
		"PracticeEmail": ownerEmail,
		"Role":          string(member.Role),
		"Link":          fmt.Sprintf("%s/team/redeem?token=%s", s.baseURL, token),
	}

	msg := notifx.EmailMessage{
		To:      []string{member.Email},
		Subject: "You have been invited to a Coagline practice",
	}

	if err := s.notifier.SendTemplatedEmail(ctx, inviteTemplate, data, msg); err != nil {
		logx.WithError(err).WithFields(logx.Fields{
			"member_id": member.ID,
			"email":     member.Email,
		}).Error("invitation email failed")
		return false
	}

	return true
}

// ============================================================================
// Redeem
// ============================================================================

// Redeem activates a pending member from its magic-link token and provisions
// the delegated identity. The token is single-use: it is cleared before the
// call returns, and a second redemption of the same value fails.
func (s *Service) Redeem(ctx context.Context, token string) (*team.Member, *identity.Identity, error) {
	member, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	if !member.TokenValid(now) {
		if member.Status == team.StatusPending {
			member.Status = team.StatusExpired
			member.UpdatedAt = now
			if updateErr := s.repo.Update(ctx, *member); updateErr != nil {
				logx.WithError(updateErr).WithField("member_id", member.ID).
					Warn("failed to mark invitation expired")
			}
		}
		return nil, nil, team.ErrInvalidToken()
	}

	ident, err := s.provisionIdentity(ctx, member)
	if err != nil {
		return nil, nil, err
	}

	member.Status = team.StatusActive
	member.InviteToken = nil
	member.TokenExpiry = nil
	member.TempSecret = nil
	member.IdentityID = ptrx.Ptr(ident.ID.String())
	member.UpdatedAt = now

	// Activate compares the stored token inside the write, so a concurrent
	// redemption of the same link cannot activate the member twice. Losing
	// the race after provisioning is harmless: the delegated identity id is
	// deterministic and CreateIdentity tolerates replays.
	if err := s.repo.Activate(ctx, *member, token); err != nil {
		return nil, nil, err
	}

	logx.WithFields(logx.Fields{
		"member_id":   member.ID,
		"identity_id": ident.ID,
		"account_id":  member.AccountOwnerID,
	}).Info("team member activated")

	return member, ident, nil
}

// provisionIdentity creates the delegated identity if absent. The id is
// derived deterministically from the member row and account owner, so a
// retried redemption converges on the same identity.
func (s *Service) provisionIdentity(ctx context.Context, member *team.Member) (*identity.Identity, error) {
	delegatedID := uuid.NewSHA1(uuid.NameSpaceURL,
		[]byte("coagline:team:"+member.AccountOwnerID.String()+":"+member.ID)).String()

	claims := identity.Claims{
		Role:           string(member.Role),
		AccountOwnerID: member.AccountOwnerID.String(),
		UserID:         member.UserID,
		FirstName:      member.FirstName,
		LastName:       member.LastName,
	}

	ident, err := s.provider.CreateIdentity(ctx, identity.NewIdentity{
		ID:     kernel.IdentityID(delegatedID),
		Email:  member.Email,
		Secret: ptrx.Deref(member.TempSecret),
		Claims: claims,
	})
	if err != nil {
		return nil, err
	}

	// The identity may predate this call (retried redemption, resent
	// invite); make sure the stored claims reflect the current row.
	if err := s.provider.SetClaims(ctx, ident.ID, claims); err != nil {
		return nil, err
	}
	ident.Claims = claims

	return ident, nil
}

// ============================================================================
// Resend / Update / Remove
// ============================================================================

// Resend regenerates the magic link, invalidating the previous token by
// overwriting it, and emails it again. Owner-only.
func (s *Service) Resend(ctx context.Context, p *kernel.Principal, memberID string) (*InviteResult, error) {
	if err := authz.Require(p.EffectiveRole, authz.CapManageUsers); err != nil {
		return nil, err
	}

	member, err := s.repo.FindByID(ctx, memberID, p.AccountID)
	if err != nil {
		return nil, err
	}

	token, err := team.NewInviteToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	member.Status = team.StatusPending
	member.InviteToken = &token
	member.TokenExpiry = ptrx.Time(now.Add(team.InviteTTL))
	member.UpdatedAt = now

	if member.TempSecret == nil {
		secret, err := team.NewTempSecret()
		if err != nil {
			return nil, err
		}
		member.TempSecret = &secret
	}

	if err := s.repo.Update(ctx, *member); err != nil {
		return nil, err
	}

	sent := s.sendInvite(ctx, p.Email, member, token)
	return &InviteResult{Member: member, EmailSent: sent}, nil
}

// UpdateRole changes a member's role. The stored claims are rewritten and
// outstanding credentials invalidated so the member's next request carries a
// fresh credential instead of the stale role claim. Owner-only.
func (s *Service) UpdateRole(ctx context.Context, p *kernel.Principal, memberID string, role kernel.Role) (*team.Member, error) {
	if err := authz.Require(p.EffectiveRole, authz.CapManageUsers); err != nil {
		return nil, err
	}
	if !role.IsValid() {
		return nil, team.ErrInvalidRole().WithDetail("role", string(role))
	}

	member, err := s.repo.FindByID(ctx, memberID, p.AccountID)
	if err != nil {
		return nil, err
	}

	member.Role = role
	member.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, *member); err != nil {
		return nil, err
	}

	if member.IdentityID != nil {
		identityID := kernel.IdentityID(*member.IdentityID)
		claims := identity.Claims{
			Role:           string(role),
			AccountOwnerID: member.AccountOwnerID.String(),
			UserID:         member.UserID,
			FirstName:      member.FirstName,
			LastName:       member.LastName,
		}
		if err := s.provider.SetClaims(ctx, identityID, claims); err != nil {
			return nil, err
		}

		s.bus.Publish(events.Event{
			Type:       events.EventRoleChanged,
			IdentityID: identityID,
			AccountID:  member.AccountOwnerID,
			Role:       &role,
			Reason:     "role_updated",
		})
	}

	return member, nil
}

// Remove deletes a member and its delegated identity. Owner-only.
func (s *Service) Remove(ctx context.Context, p *kernel.Principal, memberID string) error {
	if err := authz.Require(p.EffectiveRole, authz.CapManageUsers); err != nil {
		return err
	}

	member, err := s.repo.FindByID(ctx, memberID, p.AccountID)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, member.ID, p.AccountID); err != nil {
		return err
	}

	if member.IdentityID != nil {
		identityID := kernel.IdentityID(*member.IdentityID)
		if err := s.provider.DeleteIdentity(ctx, identityID); err != nil {
			logx.WithError(err).WithField("identity_id", identityID).
				Error("failed to delete delegated identity for removed member")
		}
	}

	return nil
}

// List returns all members of the caller's account. Owner-only.
func (s *Service) List(ctx context.Context, p *kernel.Principal) ([]team.Member, error) {
	if err := authz.Require(p.EffectiveRole, authz.CapManageUsers); err != nil {
		return nil, err
	}
	return s.repo.ListByAccount(ctx, p.AccountID)
}
