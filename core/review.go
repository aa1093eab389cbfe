package core

import (
	"fmt"
	"strings"
	"time"
)

// ReviewState is the human verification state of an extracted entity.
type ReviewState string

const (
	ReviewPending  ReviewState = "pending_review"
	ReviewVerified ReviewState = "verified"
	ReviewRejected ReviewState = "rejected"
)

// Valid reports whether s is a known state.
func (s ReviewState) Valid() bool {
	return s == ReviewPending || s == ReviewVerified || s == ReviewRejected
}

// Review records who decided on an entity and when. VerifiedBy and VerifiedAt
// are set together only in the verified state.
type Review struct {
	State        ReviewState `json:"state"`
	VerifiedBy   string      `json:"verified_by,omitempty"`
	VerifiedAt   *time.Time  `json:"verified_at,omitempty"`
	RejectedBy   string      `json:"rejected_by,omitempty"`
	RejectedAt   *time.Time  `json:"rejected_at,omitempty"`
	RejectReason string      `json:"reject_reason,omitempty"`
}

// NewReview returns a review awaiting a decision.
func NewReview() Review {
	return Review{State: ReviewPending}
}

// IsVerified mirrors the legacy is_verified flag.
func (r Review) IsVerified() bool {
	return r.State == ReviewVerified
}

// Verify moves pending_review -> verified.
func (r *Review) Verify(by string, at time.Time) error {
	if r.State != ReviewPending {
		return transitionErr(r.State, ReviewVerified)
	}
	by = strings.TrimSpace(by)
	if by == "" {
		return fmt.Errorf("%w: verifier is required", ErrInvalidEntity)
	}
	r.State = ReviewVerified
	r.VerifiedBy = by
	r.VerifiedAt = &at
	return nil
}

// Reject moves pending_review -> rejected.
func (r *Review) Reject(by, reason string, at time.Time) error {
	if r.State != ReviewPending {
		return transitionErr(r.State, ReviewRejected)
	}
	by = strings.TrimSpace(by)
	if by == "" {
		return fmt.Errorf("%w: reviewer is required", ErrInvalidEntity)
	}
	r.State = ReviewRejected
	r.RejectedBy = by
	r.RejectedAt = &at
	r.RejectReason = reason
	return nil
}

// Reopen returns a decided entity to pending_review.
func (r *Review) Reopen() error {
	if r.State == ReviewPending {
		return transitionErr(r.State, ReviewPending)
	}
	*r = NewReview()
	return nil
}

// Validate checks the verified_by/verified_at pairing.
func (r Review) Validate() error {
	if !r.State.Valid() {
		return fmt.Errorf("%w: review state %q", ErrInvalidEntity, r.State)
	}
	hasBy := r.VerifiedBy != ""
	hasAt := r.VerifiedAt != nil
	if r.IsVerified() != hasBy || hasBy != hasAt {
		return fmt.Errorf("%w: verified_by and verified_at must be set together with the verified state", ErrInvalidEntity)
	}
	if r.State == ReviewRejected && (r.RejectedBy == "" || r.RejectedAt == nil) {
		return fmt.Errorf("%w: rejection requires reviewer and time", ErrInvalidEntity)
	}
	return nil
}
