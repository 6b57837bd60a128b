package domain

import "fmt"

// Risk is the mutable moderation state attached to exactly one emoji.
type Risk struct {
	ID          string      `json:"id"`
	Checked     CheckStatus `json:"checked"`
	Level       *RiskLevel  `json:"level"`
	ReasonGenre *string     `json:"reason_genre"`
	Remark      string      `json:"remark"`
	CreatedAt   Timestamp   `json:"created_at"`
	UpdatedAt   Timestamp   `json:"updated_at"`
}

// Validate checks the fields required to index the risk.
func (r Risk) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: risk id is required", ErrInvalidInput)
	}
	if !r.Checked.IsValid() {
		return fmt.Errorf("%w: risk %s has check status %d", ErrInvalidInput, r.ID, r.Checked)
	}
	if r.Level != nil && !r.Level.IsValid() {
		return fmt.Errorf("%w: risk %s has level %d", ErrInvalidInput, r.ID, *r.Level)
	}
	return nil
}

// ReasonID returns the reason genre, treating "" the same as no reason.
func (r Risk) ReasonID() (string, bool) {
	if r.ReasonGenre == nil || *r.ReasonGenre == "" {
		return "", false
	}
	return *r.ReasonGenre, true
}

// Reason is one entry of the open reason vocabulary.
type Reason struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt Timestamp `json:"created_at"`
	UpdatedAt Timestamp `json:"updated_at"`
}

// DeletedReasonText is displayed for a reason id that no longer exists.
const DeletedReasonText = "deleted reason"

// Validate checks the fields required to index the reason.
func (r Reason) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: reason id is required", ErrInvalidInput)
	}
	return nil
}
