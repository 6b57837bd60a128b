package client

import (
	"context"
	"errors"

	"github.com/Secineralyr/Cotonestrum/internal/domain"
	"github.com/Secineralyr/Cotonestrum/internal/protocol"
)

// FetchAll requests every emoji, user, risk and reason. The data arrives as
// pushes; it does not wait for the responses.
func (c *Client) FetchAll(ctx context.Context) error {
	reqs := []protocol.Request{
		protocol.FetchAllEmojis(),
		protocol.FetchAllUsers(),
		protocol.FetchAllRisks(),
		protocol.FetchAllReasons(),
	}

	var errs []error
	for _, req := range reqs {
		if _, err := c.Send(ctx, req); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ChangeRiskLevel sets the level of a risk. A nil level clears it.
func (c *Client) ChangeRiskLevel(ctx context.Context, riskID string, level *domain.RiskLevel) (<-chan Result, error) {
	return c.Send(ctx, protocol.SetRiskProp(riskID, protocol.RiskProps{
		Level: protocol.Pointer(level),
	}))
}

// ChangeReason sets the reason of a risk. An empty reasonID clears it.
func (c *Client) ChangeReason(ctx context.Context, riskID, reasonID string) (<-chan Result, error) {
	reason := protocol.Null[string]()
	if reasonID != "" {
		reason = protocol.Value(reasonID)
	}
	return c.Send(ctx, protocol.SetRiskProp(riskID, protocol.RiskProps{
		ReasonID: reason,
	}))
}

// ChangeRemark sets the free-text remark of a risk.
func (c *Client) ChangeRemark(ctx context.Context, riskID, remark string) (<-chan Result, error) {
	return c.Send(ctx, protocol.SetRiskProp(riskID, protocol.RiskProps{
		Remark: &remark,
	}))
}

// ChangeStatus sets the check status of a risk.
func (c *Client) ChangeStatus(ctx context.Context, riskID string, status domain.CheckStatus) (<-chan Result, error) {
	return c.Send(ctx, protocol.SetRiskProp(riskID, protocol.RiskProps{
		Checked: &status,
	}))
}

// CreateReason adds a reason to the vocabulary.
func (c *Client) CreateReason(ctx context.Context, text string) (<-chan Result, error) {
	return c.Send(ctx, protocol.CreateReason(text))
}

// DeleteReason removes a reason from the vocabulary.
func (c *Client) DeleteReason(ctx context.Context, reasonID string) (<-chan Result, error) {
	return c.Send(ctx, protocol.DeleteReason(reasonID))
}

// ChangeReasonText renames a reason.
func (c *Client) ChangeReasonText(ctx context.Context, reasonID, text string) (<-chan Result, error) {
	return c.Send(ctx, protocol.SetReasonText(reasonID, text))
}
