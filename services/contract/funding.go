package contract

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"creatorlink-marketplace/pkg/errutil"
	"creatorlink-marketplace/pkg/gateway"
)

// Fund charges the brand for the contract budget through the payment gateway
// and activates the contract. The remote call happens outside the local
// transaction; local state only changes after a definitive response. On a
// timeout the contract stays pending for the reconciliation sweep.
func (s *Service) Fund(ctx context.Context, contractID string) (*Contract, error) {
	c, err := s.Get(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusPending && c.Status != StatusPaymentFailed {
		return nil, errutil.InvalidTransition("contract is not awaiting funding")
	}

	result, err := s.gateway.Charge(ctx, gateway.ChargeRequest{
		ReferenceID: c.ID,
		PayerID:     c.BrandID,
		Amount:      c.Budget,
		Currency:    "BRL",
		Description: "contract funding: " + c.Title,
	})
	if err != nil {
		if errutil.HasStatus(err, errutil.StatusTimeout) {
			zap.L().Warn("contract: funding charge timed out, leaving contract pending",
				zap.String("contract_id", c.ID),
				zap.Error(err),
			)
			return nil, err
		}
		return s.failFunding(ctx, c, err.Error())
	}

	switch result.Status {
	case gateway.ChargeSucceeded:
		return s.activate(ctx, c, result.ExternalID)
	case gateway.ChargePending:
		// Charge accepted but not settled; webhook or reconciliation
		// finishes the activation.
		if err := s.contracts.Update(ctx, c.ID, map[string]any{"gateway_charge_id": result.ExternalID}); err != nil {
			return nil, err
		}
		c.GatewayChargeID = result.ExternalID
		return c, nil
	default:
		return s.failFunding(ctx, c, result.Reason)
	}
}

func (s *Service) activate(ctx context.Context, c *Contract, chargeID string) (*Contract, error) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		if c, err = s.lock(ctx, tx, c.ID); err != nil {
			return err
		}
		if c.Status == StatusActive {
			return nil
		}
		if err := s.applyTransition(ctx, tx, c, StatusApproved, c.BrandID, "funding confirmed"); err != nil {
			return err
		}
		if err := s.applyTransition(ctx, tx, c, StatusActive, c.BrandID, "funding confirmed"); err != nil {
			return err
		}
		if err := s.setWorkflow(ctx, tx, c, WorkflowActive); err != nil {
			return err
		}
		return s.contracts.WithTrx(tx).Update(ctx, c.ID, map[string]any{"gateway_charge_id": chargeID})
	})
	if err != nil {
		return nil, err
	}
	c.GatewayChargeID = chargeID

	s.notifyParties(ctx, c, "contract.funded", map[string]any{"contract_id": c.ID})
	return c, nil
}

func (s *Service) failFunding(ctx context.Context, c *Contract, reason string) (*Contract, error) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		if c, err = s.lock(ctx, tx, c.ID); err != nil {
			return err
		}
		if c.Status == StatusPaymentFailed {
			return nil
		}
		if err := s.applyTransition(ctx, tx, c, StatusPaymentFailed, "", reason); err != nil {
			return err
		}
		c.WorkflowStatus = WorkflowPaymentFailed
		return s.contracts.WithTrx(tx).Update(ctx, c.ID, map[string]any{"workflow_status": WorkflowPaymentFailed})
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, c.BrandID, "contract.funding_failed", map[string]any{
		"contract_id": c.ID,
		"reason":      reason,
	})
	return c, errutil.GatewayError("contract funding failed: " + reason)
}

// RetryPayment retries funding for a contract in payment_failed.
func (s *Service) RetryPayment(ctx context.Context, contractID string) (*Contract, error) {
	c, err := s.Get(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusPaymentFailed {
		return nil, errutil.InvalidTransition("contract funding has not failed")
	}
	return s.Fund(ctx, contractID)
}
