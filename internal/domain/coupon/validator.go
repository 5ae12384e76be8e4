package coupon

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
)

// Validator checks whether a customer may apply a coupon code.
type Validator interface {
	Validate(ctx context.Context, customerID int64, code string) (*Coupon, error)
}

// RepoValidator implements Validator on top of a Repository and a Ledger.
type RepoValidator struct {
	repo   Repository
	ledger Ledger
}

// NewRepoValidator creates a RepoValidator.
func NewRepoValidator(repo Repository, ledger Ledger) *RepoValidator {
	return &RepoValidator{repo: repo, ledger: ledger}
}

// Validate resolves code and rejects it if the customer already redeemed it.
// Nothing is consumed: redemption happens only when an order is paid.
func (v *RepoValidator) Validate(ctx context.Context, customerID int64, code string) (*Coupon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrNotFound
	}

	c, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	used, err := v.ledger.IsRedeemed(ctx, customerID, c.ID)
	if err != nil {
		return nil, errors.Wrap(err, "check redemption")
	}
	if used {
		return nil, ErrAlreadyUsed
	}

	return c, nil
}
