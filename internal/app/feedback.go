package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"skillswap/api/internal/store"
	"skillswap/api/internal/util"
)

type FeedbackInput struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// CanRate reports whether the session member may leave feedback on a swap.
func (s *Service) CanRate(ctx context.Context, sess Session, swapID string) (map[string]any, error) {
	swap, err := s.loadParticipantSwap(ctx, sess, swapID)
	if err != nil {
		return nil, err
	}
	ok, reason := s.canRate(ctx, sess.UserID, swap)
	return map[string]any{"canRate": ok, "reason": reason}, nil
}

// canRate checks: swap completed, caller is a participant (already
// guaranteed by the loaders), and no prior feedback by this rater.
func (s *Service) canRate(ctx context.Context, userID string, swap store.Swap) (bool, string) {
	if swap.Status != store.SwapCompleted {
		return false, "swap is not completed"
	}
	rated, err := s.store.HasFeedback(ctx, swap.ID, userID)
	if err != nil || rated {
		return false, "feedback already submitted"
	}
	return true, ""
}

// SubmitFeedback records the session member's one rating for a completed
// swap. The rated user is always the other participant.
func (s *Service) SubmitFeedback(ctx context.Context, sess Session, swapID string, input FeedbackInput) (map[string]any, error) {
	if input.Rating < 1 || input.Rating > 5 {
		return nil, errValidation("rating must be between 1 and 5", map[string]any{"rating": input.Rating})
	}

	swap, err := s.loadParticipantSwap(ctx, sess, swapID)
	if err != nil {
		return nil, err
	}
	if swap.Status != store.SwapCompleted {
		return nil, errValidation("feedback is only allowed on completed swaps", nil)
	}
	rated, err := s.store.HasFeedback(ctx, swap.ID, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("check feedback: %w", err)
	}
	if rated {
		return nil, domainError(409, "ALREADY_RATED", "you already left feedback for this swap", nil)
	}

	entry := store.Feedback{
		ID:          util.NewID("fbk"),
		SwapID:      swap.ID,
		RaterID:     sess.UserID,
		RatedUserID: otherParticipant(swap, sess.UserID),
		Rating:      input.Rating,
		Comment:     strings.TrimSpace(input.Comment),
	}
	if err := s.store.InsertFeedback(ctx, entry); err != nil {
		if store.IsDuplicate(err) {
			return nil, domainError(409, "ALREADY_RATED", "you already left feedback for this swap", nil)
		}
		return nil, fmt.Errorf("insert feedback: %w", err)
	}

	// Refresh the rated member's average in the search index.
	s.indexUser(ctx, entry.RatedUserID)

	saved, err := s.store.GetFeedback(ctx, entry.ID)
	if err != nil {
		return nil, fmt.Errorf("reload feedback: %w", err)
	}
	return feedbackView(saved), nil
}

// EditFeedback lets a rater revise their own feedback entry.
func (s *Service) EditFeedback(ctx context.Context, sess Session, feedbackID string, input FeedbackInput) (map[string]any, error) {
	if input.Rating < 1 || input.Rating > 5 {
		return nil, errValidation("rating must be between 1 and 5", map[string]any{"rating": input.Rating})
	}
	ok, err := s.store.UpdateFeedback(ctx, feedbackID, sess.UserID, input.Rating, strings.TrimSpace(input.Comment))
	if err != nil {
		return nil, fmt.Errorf("update feedback: %w", err)
	}
	if !ok {
		return nil, errNotFound("feedback not found")
	}
	saved, err := s.store.GetFeedback(ctx, feedbackID)
	if err != nil {
		return nil, fmt.Errorf("reload feedback: %w", err)
	}
	s.indexUser(ctx, saved.RatedUserID)
	return feedbackView(saved), nil
}

// RemoveFeedback lets a rater delete their own feedback entry.
func (s *Service) RemoveFeedback(ctx context.Context, sess Session, feedbackID string) error {
	entry, err := s.store.GetFeedback(ctx, feedbackID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("feedback not found")
		}
		return fmt.Errorf("load feedback: %w", err)
	}
	ok, err := s.store.DeleteFeedback(ctx, feedbackID, sess.UserID)
	if err != nil {
		return fmt.Errorf("delete feedback: %w", err)
	}
	if !ok {
		return errNotFound("feedback not found")
	}
	s.indexUser(ctx, entry.RatedUserID)
	return nil
}

// UserReviews lists feedback left about a public member, with their rating
// summary. Private and banned profiles are not reachable.
func (s *Service) UserReviews(ctx context.Context, userID string) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("user not found")
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsPublic || user.IsBanned {
		return nil, errNotFound("user not found")
	}

	reviews, err := s.store.ListUserFeedback(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user feedback: %w", err)
	}
	summary, err := s.store.UserRatingSummary(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rating summary: %w", err)
	}
	return map[string]any{
		"reviews": feedbackViews(reviews),
		"summary": ratingSummaryView(summary),
	}, nil
}

func feedbackViews(entries []store.Feedback) []map[string]any {
	views := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		views = append(views, feedbackView(entry))
	}
	return views
}

func feedbackView(entry store.Feedback) map[string]any {
	return map[string]any{
		"id":          entry.ID,
		"swapId":      entry.SwapID,
		"raterId":     entry.RaterID,
		"raterName":   entry.RaterName,
		"ratedUserId": entry.RatedUserID,
		"rating":      entry.Rating,
		"comment":     entry.Comment,
		"createdAt":   entry.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func ratingSummaryView(summary store.RatingSummary) map[string]any {
	distribution := map[string]int{}
	for star := 1; star <= 5; star++ {
		distribution[fmt.Sprintf("%d", star)] = summary.Distribution[star]
	}
	return map[string]any{
		"average":      summary.Average,
		"count":        summary.Count,
		"distribution": distribution,
	}
}
