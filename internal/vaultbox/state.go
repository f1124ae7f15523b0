package vaultbox

import (
	"context"

	"github.com/motorical/encimap/framework/exterrors"
	"github.com/motorical/encimap/internal/model"
)

// SetStatus implements §4.5.7's admin transitions. deleted is terminal and
// reached only through DeleteVaultbox, never through this method.
func (s *Service) SetStatus(ctx context.Context, vb *model.Vaultbox, status model.VaultboxStatus) error {
	if status != model.StatusActive && status != model.StatusDisabled {
		return exterrors.Validation("INVALID_STATUS", "status must be active or disabled")
	}
	if vb.Status == status {
		return nil
	}
	vb.Status = status
	if err := s.Store.Vaultboxes.Update(ctx, vb); err != nil {
		return exterrors.Transient("vaultbox: updating status", err)
	}
	return nil
}
