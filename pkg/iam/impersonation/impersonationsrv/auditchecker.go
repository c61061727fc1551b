package impersonationsrv

import (
	"context"

	"github.com/coagline/coagline/pkg/iam/impersonation"
	"github.com/coagline/coagline/pkg/kernel"
)

// AuditChecker answers whether any admin currently has an open episode
// against an identity, straight from the audit log. The session registry
// consults it before broadcasting revocation events, so server-initiated
// revocations during support interventions stay silent.
type AuditChecker struct {
	repo impersonation.Repository
}

func NewAuditChecker(repo impersonation.Repository) *AuditChecker {
	return &AuditChecker{repo: repo}
}

func (c *AuditChecker) HasOpenImpersonation(ctx context.Context, target kernel.IdentityID) (bool, error) {
	return c.repo.HasOpen(ctx, target)
}
