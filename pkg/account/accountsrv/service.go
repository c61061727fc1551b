package accountsrv

import (
	"context"
	"fmt"
	"time"

	"github.com/coagline/coagline/pkg/account"
	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/iam/authz"
	"github.com/coagline/coagline/pkg/identity"
	"github.com/coagline/coagline/pkg/kernel"
	"github.com/coagline/coagline/pkg/logx"
	"github.com/coagline/coagline/pkg/notifx"
)

const emailChangeTemplate = "email_change"

const emailChangeTemplateHTML = `
<p>Hi {{.FirstName}},</p>
<p>You asked to change your Coagline login email to this address.</p>
<p><a href="{{.Link}}">Confirm the change</a></p>
<p>The link expires in one hour. If you did not request this, ignore this email.</p>
`

// EmailUpdater is the identity-provider slice the email-change flow needs
// beyond the base provider contract.
type EmailUpdater interface {
	UpdateEmail(ctx context.Context, id kernel.IdentityID, email string) error
}

// SignupRequest is the payload for creating an owner account.
type SignupRequest struct {
	Email        string `json:"email"`
	Secret       string `json:"secret"`
	PracticeName string `json:"practice_name"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Phone        string `json:"phone,omitempty"`
}

// UpdateProfileRequest carries the mutable profile fields.
type UpdateProfileRequest struct {
	PracticeName string `json:"practice_name"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Phone        string `json:"phone,omitempty"`
}

// Service manages owner accounts and the confirmed email-change flow.
type Service struct {
	repo     account.Repository
	tokens   account.TokenStore
	provider identity.Provider
	emails   EmailUpdater
	notifier *notifx.Client
	baseURL  string
}

// NewService creates the account service.
func NewService(repo account.Repository, tokens account.TokenStore, provider identity.Provider, emails EmailUpdater, notifier *notifx.Client, baseURL string) *Service {
	if err := notifier.RegisterTemplate(emailChangeTemplate, emailChangeTemplateHTML); err != nil {
		logx.WithError(err).Error("failed to register email-change template")
	}

	return &Service{
		repo:     repo,
		tokens:   tokens,
		provider: provider,
		emails:   emails,
		notifier: notifier,
		baseURL:  baseURL,
	}
}

// ============================================================================
// Signup / Profile
// ============================================================================

// Signup provisions the owner's identity and account in that order. The
// account id is the identity id, which is what makes the resolver's
// ownership check a single row lookup.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*account.Account, error) {
	if req.Email == "" || req.Secret == "" {
		return nil, errx.Validation("email and secret are required")
	}

	inUse, err := s.repo.EmailInUse(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if inUse {
		return nil, account.ErrEmailTaken()
	}

	ident, err := s.provider.CreateIdentity(ctx, identity.NewIdentity{
		Email:  req.Email,
		Secret: req.Secret,
		Claims: identity.Claims{
			FirstName: req.FirstName,
			LastName:  req.LastName,
		},
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	acct := &account.Account{
		ID:           kernel.AccountID(ident.ID),
		Email:        req.Email,
		PracticeName: req.PracticeName,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Phone:        req.Phone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, acct); err != nil {
		if delErr := s.provider.DeleteIdentity(ctx, ident.ID); delErr != nil {
			logx.WithError(delErr).WithField("identity_id", ident.ID).
				Error("failed to roll back identity after account create failure")
		}
		return nil, err
	}

	logx.WithFields(logx.Fields{
		"account_id": acct.ID,
		"email":      acct.Email,
	}).Info("account created")

	return acct, nil
}

// Get returns the caller's account.
func (s *Service) Get(ctx context.Context, p *kernel.Principal) (*account.Account, error) {
	return s.repo.Find(ctx, p.AccountID)
}

// UpdateProfile updates the practice profile. Owner-only.
func (s *Service) UpdateProfile(ctx context.Context, p *kernel.Principal, req UpdateProfileRequest) (*account.Account, error) {
	if err := authz.Require(p.EffectiveRole, authz.CapManageOrganization); err != nil {
		return nil, err
	}

	acct, err := s.repo.Find(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}

	acct.PracticeName = req.PracticeName
	acct.FirstName = req.FirstName
	acct.LastName = req.LastName
	acct.Phone = req.Phone
	acct.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// ============================================================================
// Email Change
// ============================================================================

// RequestEmailChange stores a one-hour single-use token and mails the
// confirmation link to the new address. Requesting again replaces the
// outstanding token, so only the latest link works. Owner-only.
func (s *Service) RequestEmailChange(ctx context.Context, p *kernel.Principal, newEmail string) (bool, error) {
	if err := authz.Require(p.EffectiveRole, authz.CapManageOrganization); err != nil {
		return false, err
	}

	inUse, err := s.repo.EmailInUse(ctx, newEmail)
	if err != nil {
		return false, err
	}
	if inUse {
		return false, account.ErrEmailTaken()
	}

	acct, err := s.repo.Find(ctx, p.AccountID)
	if err != nil {
		return false, err
	}

	token := account.NewEmailChangeToken()
	change := account.PendingEmailChange{AccountID: p.AccountID, NewEmail: newEmail}
	if err := s.tokens.Put(ctx, token, change); err != nil {
		return false, err
	}

	data := map[string]string{
		"FirstName": acct.FirstName,
		"Link":      fmt.Sprintf("%s/account/email/confirm?token=%s", s.baseURL, token),
	}
	msg := notifx.EmailMessage{
		To:      []string{newEmail},
		Subject: "Confirm your new Coagline email address",
	}
	if err := s.notifier.SendTemplatedEmail(ctx, emailChangeTemplate, data, msg); err != nil {
		logx.WithError(err).WithField("account_id", p.AccountID).
			Error("email-change confirmation email failed")
		return false, nil
	}

	return true, nil
}

// ConfirmEmailChange redeems the token and applies the change to both the
// account row and the identity store. The identity-side version bump signs
// the owner out everywhere; they log back in with the new address.
func (s *Service) ConfirmEmailChange(ctx context.Context, token string) (*account.Account, error) {
	change, err := s.tokens.Take(ctx, token)
	if err != nil {
		return nil, err
	}

	// The address may have been taken between request and confirmation.
	inUse, err := s.repo.EmailInUse(ctx, change.NewEmail)
	if err != nil {
		return nil, err
	}
	if inUse {
		return nil, account.ErrEmailTaken()
	}

	if err := s.repo.UpdateEmail(ctx, change.AccountID, change.NewEmail); err != nil {
		return nil, err
	}
	if err := s.emails.UpdateEmail(ctx, kernel.IdentityID(change.AccountID), change.NewEmail); err != nil {
		return nil, err
	}

	logx.WithFields(logx.Fields{
		"account_id": change.AccountID,
		"new_email":  change.NewEmail,
	}).Info("account email changed")

	return s.repo.Find(ctx, change.AccountID)
}
