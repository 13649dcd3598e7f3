package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"skillswap/api/internal/push"
	"skillswap/api/internal/store"
	"skillswap/api/internal/util"
)

// PendingReceivedLimit caps how many open incoming requests a member can
// hold before new ones are refused.
const PendingReceivedLimit = 5

type CreateSwapInput struct {
	ReceiverID     string `json:"receiverId"`
	RequesterSkill string `json:"requesterSkill"`
	ReceiverSkill  string `json:"receiverSkill"`
	Message        string `json:"message"`
}

// CreateSwap opens a pending swap request from the session member to a
// receiver. Preconditions about the receiver (existence, ban, privacy)
// collapse into one NOT_AVAILABLE denial so callers cannot probe them.
func (s *Service) CreateSwap(ctx context.Context, sess Session, input CreateSwapInput) (map[string]any, error) {
	input.ReceiverID = strings.TrimSpace(input.ReceiverID)
	input.RequesterSkill = strings.TrimSpace(input.RequesterSkill)
	input.ReceiverSkill = strings.TrimSpace(input.ReceiverSkill)

	details := map[string]string{}
	if input.ReceiverID == "" {
		details["receiverId"] = "required"
	}
	if input.RequesterSkill == "" {
		details["requesterSkill"] = "required"
	}
	if input.ReceiverSkill == "" {
		details["receiverSkill"] = "required"
	}
	if len(details) > 0 {
		return nil, errValidation("missing required fields", details)
	}

	actor, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("load requester: %w", err)
	}
	if actor.IsBanned {
		return nil, errForbidden("your account is suspended")
	}

	if input.ReceiverID == sess.UserID {
		return nil, errValidation("you cannot request a swap with yourself", nil)
	}

	receiver, err := s.store.GetUserByID(ctx, input.ReceiverID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotAvailable()
		}
		return nil, fmt.Errorf("load receiver: %w", err)
	}
	if receiver.IsBanned || !receiver.IsPublic {
		return nil, errNotAvailable()
	}

	pending, err := s.store.CountPendingReceived(ctx, receiver.ID)
	if err != nil {
		return nil, fmt.Errorf("count pending received: %w", err)
	}
	if pending >= PendingReceivedLimit {
		return nil, errNotAvailable()
	}

	offersOwn, err := s.store.HasOfferedSkill(ctx, sess.UserID, input.RequesterSkill)
	if err != nil {
		return nil, fmt.Errorf("check requester skill: %w", err)
	}
	if !offersOwn {
		return nil, errValidation("you do not offer this skill", map[string]string{"requesterSkill": input.RequesterSkill})
	}
	offersTheirs, err := s.store.HasOfferedSkill(ctx, receiver.ID, input.ReceiverSkill)
	if err != nil {
		return nil, fmt.Errorf("check receiver skill: %w", err)
	}
	if !offersTheirs {
		return nil, errValidation("this user does not offer that skill", map[string]string{"receiverSkill": input.ReceiverSkill})
	}

	exists, err := s.store.HasPendingSwap(ctx, sess.UserID, receiver.ID)
	if err != nil {
		return nil, fmt.Errorf("check pending swap: %w", err)
	}
	if exists {
		return nil, domainError(409, "DUPLICATE_REQUEST", "you already have a pending request with this user", nil)
	}

	swap := store.Swap{
		ID:             util.NewID("swp"),
		RequesterID:    sess.UserID,
		ReceiverID:     receiver.ID,
		RequesterSkill: input.RequesterSkill,
		ReceiverSkill:  input.ReceiverSkill,
		Status:         store.SwapPending,
		Message:        strings.TrimSpace(input.Message),
	}
	if err := s.store.InsertSwap(ctx, swap); err != nil {
		// The partial unique index catches a concurrent duplicate the
		// pending check above raced with.
		if store.IsDuplicate(err) {
			return nil, domainError(409, "DUPLICATE_REQUEST", "you already have a pending request with this user", nil)
		}
		return nil, fmt.Errorf("insert swap: %w", err)
	}

	created, err := s.store.GetSwap(ctx, swap.ID)
	if err != nil {
		return nil, fmt.Errorf("reload swap: %w", err)
	}
	s.notify.Publish(ctx, push.UserRoom(receiver.ID), "swap_requested", swapView(created))
	return swapView(created), nil
}

// AcceptSwap moves a pending swap to accepted. Receiver only.
func (s *Service) AcceptSwap(ctx context.Context, sess Session, swapID string) (map[string]any, error) {
	swap, err := s.loadParticipantSwap(ctx, sess, swapID)
	if err != nil {
		return nil, err
	}
	if swap.ReceiverID != sess.UserID {
		return nil, errForbidden("only the receiver can accept a swap request")
	}
	ok, err := s.store.TransitionSwap(ctx, swap.ID, store.SwapPending, store.SwapAccepted)
	if err != nil {
		return nil, fmt.Errorf("accept swap: %w", err)
	}
	if !ok {
		return nil, errAlreadyProcessed()
	}

	// The transition is committed; the greeting is a post-commit side
	// effect like the push below, so a failure must not unwind the accept.
	if err := s.store.InsertChatMessage(ctx, store.ChatMessage{
		ID:     util.NewID("msg"),
		SwapID: swap.ID,
		Body:   "Swap accepted! You can now chat to arrange the details.",
		Type:   "system",
	}); err != nil {
		log.Printf("insert system message for swap %s: %v", swap.ID, err)
	}

	updated, err := s.store.GetSwap(ctx, swap.ID)
	if err != nil {
		return nil, fmt.Errorf("reload swap: %w", err)
	}
	s.notify.Publish(ctx, push.UserRoom(swap.RequesterID), "swap_accepted", swapView(updated))
	return swapView(updated), nil
}

// RejectSwap moves a pending swap to rejected. Receiver only.
func (s *Service) RejectSwap(ctx context.Context, sess Session, swapID string) (map[string]any, error) {
	swap, err := s.loadParticipantSwap(ctx, sess, swapID)
	if err != nil {
		return nil, err
	}
	if swap.ReceiverID != sess.UserID {
		return nil, errForbidden("only the receiver can reject a swap request")
	}
	ok, err := s.store.TransitionSwap(ctx, swap.ID, store.SwapPending, store.SwapRejected)
	if err != nil {
		return nil, fmt.Errorf("reject swap: %w", err)
	}
	if !ok {
		return nil, errAlreadyProcessed()
	}

	updated, err := s.store.GetSwap(ctx, swap.ID)
	if err != nil {
		return nil, fmt.Errorf("reload swap: %w", err)
	}
	s.notify.Publish(ctx, push.UserRoom(swap.RequesterID), "swap_rejected", swapView(updated))
	return swapView(updated), nil
}

// CancelSwap withdraws a pending swap. Requester only, no notification.
func (s *Service) CancelSwap(ctx context.Context, sess Session, swapID string) (map[string]any, error) {
	swap, err := s.loadParticipantSwap(ctx, sess, swapID)
	if err != nil {
		return nil, err
	}
	if swap.RequesterID != sess.UserID {
		return nil, errForbidden("only the requester can cancel a swap request")
	}
	ok, err := s.store.TransitionSwap(ctx, swap.ID, store.SwapPending, store.SwapCancelled)
	if err != nil {
		return nil, fmt.Errorf("cancel swap: %w", err)
	}
	if !ok {
		return nil, errAlreadyProcessed()
	}

	updated, err := s.store.GetSwap(ctx, swap.ID)
	if err != nil {
		return nil, fmt.Errorf("reload swap: %w", err)
	}
	return swapView(updated), nil
}

// CompleteSwap marks an accepted swap completed. Either participant.
func (s *Service) CompleteSwap(ctx context.Context, sess Session, swapID string) (map[string]any, error) {
	swap, err := s.loadParticipantSwap(ctx, sess, swapID)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.TransitionSwap(ctx, swap.ID, store.SwapAccepted, store.SwapCompleted)
	if err != nil {
		return nil, fmt.Errorf("complete swap: %w", err)
	}
	if !ok {
		return nil, errAlreadyProcessed()
	}

	updated, err := s.store.GetSwap(ctx, swap.ID)
	if err != nil {
		return nil, fmt.Errorf("reload swap: %w", err)
	}
	other := otherParticipant(swap, sess.UserID)
	s.notify.Publish(ctx, push.UserRoom(other), "swap_completed", swapView(updated))
	return swapView(updated), nil
}

// GetSwapDetail returns one swap with its feedback and the caller's
// can-rate flag. Participants only.
func (s *Service) GetSwapDetail(ctx context.Context, sess Session, swapID string) (map[string]any, error) {
	swap, err := s.loadParticipantSwap(ctx, sess, swapID)
	if err != nil {
		return nil, err
	}
	feedback, err := s.store.ListSwapFeedback(ctx, swap.ID)
	if err != nil {
		return nil, fmt.Errorf("list swap feedback: %w", err)
	}
	canRate, _ := s.canRate(ctx, sess.UserID, swap)

	view := swapView(swap)
	view["feedback"] = feedbackViews(feedback)
	view["canRate"] = canRate
	return view, nil
}

// ListSwaps returns the session member's swaps filtered by view:
// pending_received, pending_sent, active, completed, or all.
func (s *Service) ListSwaps(ctx context.Context, sess Session, view string) (map[string]any, error) {
	var (
		swaps []store.Swap
		err   error
	)
	switch view {
	case "pending_received":
		swaps, err = s.store.ListPendingReceived(ctx, sess.UserID)
	case "pending_sent":
		swaps, err = s.store.ListPendingSent(ctx, sess.UserID)
	case "active":
		swaps, err = s.store.ListActiveSwaps(ctx, sess.UserID)
	case "completed":
		swaps, err = s.store.ListCompletedSwaps(ctx, sess.UserID)
	case "", "all":
		swaps, err = s.store.ListUserSwaps(ctx, sess.UserID)
	default:
		return nil, errValidation("unknown view", map[string]string{"view": view})
	}
	if err != nil {
		return nil, fmt.Errorf("list swaps: %w", err)
	}

	views := make([]map[string]any, 0, len(swaps))
	for _, swap := range swaps {
		views = append(views, swapView(swap))
	}
	return map[string]any{"swaps": views, "total": len(views)}, nil
}

// loadParticipantSwap fetches a swap and verifies the session member is a
// participant. Non-participants get the same denial as a missing swap.
func (s *Service) loadParticipantSwap(ctx context.Context, sess Session, swapID string) (store.Swap, error) {
	swap, err := s.store.GetSwap(ctx, swapID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Swap{}, errNotFound("swap request not found")
		}
		return store.Swap{}, fmt.Errorf("load swap: %w", err)
	}
	if swap.RequesterID != sess.UserID && swap.ReceiverID != sess.UserID {
		return store.Swap{}, errNotFound("swap request not found")
	}
	return swap, nil
}

func otherParticipant(swap store.Swap, userID string) string {
	if swap.RequesterID == userID {
		return swap.ReceiverID
	}
	return swap.RequesterID
}

func swapView(swap store.Swap) map[string]any {
	view := map[string]any{
		"id":             swap.ID,
		"requesterId":    swap.RequesterID,
		"receiverId":     swap.ReceiverID,
		"requesterName":  swap.RequesterName,
		"receiverName":   swap.ReceiverName,
		"requesterSkill": swap.RequesterSkill,
		"receiverSkill":  swap.ReceiverSkill,
		"status":         swap.Status,
		"message":        swap.Message,
		"createdAt":      swap.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":      swap.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if swap.CompletedAt != nil {
		view["completedAt"] = swap.CompletedAt.UTC().Format(time.RFC3339)
	}
	return view
}
