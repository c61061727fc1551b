package patients

import (
	"context"

	"github.com/coagline/coagline/pkg/kernel"
)

// Repository persists patients and their target INR ranges. All lookups are
// account-scoped; a patient id from another account behaves as not found.
type Repository interface {
	// CreateWithRange inserts the patient and its initial target range in
	// one transaction. A patient never exists without a current range.
	CreateWithRange(ctx context.Context, patient *Patient, rng *TargetRange) error

	Find(ctx context.Context, id string, accountID kernel.AccountID) (*Patient, error)
	List(ctx context.Context, accountID kernel.AccountID, opts kernel.PaginationOptions) (*kernel.Paginated[Patient], error)

	// CurrentRange returns the patient's open target range.
	CurrentRange(ctx context.Context, patientID string) (*TargetRange, error)

	// ReplaceRange closes the current range and opens the new one, again
	// transactionally.
	ReplaceRange(ctx context.Context, patientID string, rng *TargetRange) error
}
