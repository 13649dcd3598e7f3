package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"skillswap/api/internal/report"
)

// PlatformStats returns the admin dashboard counters.
func (s *Service) PlatformStats(ctx context.Context) (map[string]any, error) {
	stats, err := s.store.GetPlatformStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("platform stats: %w", err)
	}
	return map[string]any{
		"users": map[string]any{
			"total":       stats.TotalUsers,
			"banned":      stats.BannedUsers,
			"newThisWeek": stats.NewUsersWeek,
		},
		"swaps": map[string]any{
			"total":       stats.TotalSwaps,
			"pending":     stats.PendingSwaps,
			"accepted":    stats.AcceptedSwaps,
			"completed":   stats.CompletedSwaps,
			"newThisWeek": stats.NewSwapsWeek,
		},
		"skills": map[string]any{
			"total":    stats.TotalSkills,
			"approved": stats.ApprovedSkills,
			"pending":  stats.PendingSkills,
		},
		"feedback": map[string]any{
			"total":         stats.TotalFeedback,
			"averageRating": stats.AverageRating,
		},
	}, nil
}

// AdminListUsers lists accounts for moderation with search and status
// filter (active|banned).
func (s *Service) AdminListUsers(ctx context.Context, query, status string, limit, offset int) (map[string]any, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	users, err := s.store.ListUsers(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	views := make([]map[string]any, 0, len(users))
	for _, user := range users {
		views = append(views, map[string]any{
			"id":       user.ID,
			"name":     user.Name,
			"email":    user.Email,
			"location": user.Location,
			"isPublic": user.IsPublic,
			"isBanned": user.IsBanned,
			"joinedAt": user.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return map[string]any{"users": views, "total": len(views)}, nil
}

// SetUserBanned bans or unbans a member. Banning drops them from the
// search index; their sessions die at the next token resolution.
func (s *Service) SetUserBanned(ctx context.Context, userID string, banned bool) (map[string]any, error) {
	ok, err := s.store.SetUserBanned(ctx, userID, banned)
	if err != nil {
		return nil, fmt.Errorf("set user banned: %w", err)
	}
	if !ok {
		return nil, errNotFound("user not found")
	}
	if banned {
		if s.search != nil {
			s.search.DeleteMember(userID)
		}
	} else {
		s.indexUser(ctx, userID)
	}
	return map[string]any{"id": userID, "isBanned": banned}, nil
}

// AdminListSkills lists catalog entries with search and status filter
// (approved|pending).
func (s *Service) AdminListSkills(ctx context.Context, query, status string, limit, offset int) (map[string]any, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	skills, err := s.store.ListSkills(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	views := make([]map[string]any, 0, len(skills))
	for _, skill := range skills {
		views = append(views, map[string]any{
			"id":         skill.ID,
			"name":       skill.Name,
			"category":   skill.Category,
			"isApproved": skill.IsApproved,
			"createdAt":  skill.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return map[string]any{"skills": views, "total": len(views)}, nil
}

// SetSkillApproved approves or rejects a catalog skill.
func (s *Service) SetSkillApproved(ctx context.Context, skillID string, approved bool) (map[string]any, error) {
	ok, err := s.store.SetSkillApproved(ctx, skillID, approved)
	if err != nil {
		return nil, fmt.Errorf("set skill approved: %w", err)
	}
	if !ok {
		return nil, errNotFound("skill not found")
	}
	return map[string]any{"id": skillID, "isApproved": approved}, nil
}

// SwapsReport renders the swaps CSV and archives a copy.
func (s *Service) SwapsReport(ctx context.Context) (string, error) {
	swaps, err := s.store.ListAllSwaps(ctx)
	if err != nil {
		return "", fmt.Errorf("list swaps: %w", err)
	}
	rows := make([]report.SwapRow, 0, len(swaps))
	for _, swap := range swaps {
		rows = append(rows, report.SwapRow{
			ID:             swap.ID,
			RequesterName:  swap.RequesterName,
			ReceiverName:   swap.ReceiverName,
			RequesterSkill: swap.RequesterSkill,
			ReceiverSkill:  swap.ReceiverSkill,
			Status:         swap.Status,
			CreatedAt:      swap.CreatedAt,
			CompletedAt:    swap.CompletedAt,
		})
	}
	data, err := report.SwapsCSV(rows)
	if err != nil {
		return "", err
	}
	s.archiveReport(ctx, "swaps.csv", data)
	return data, nil
}

// FeedbackReport renders the feedback CSV and archives a copy.
func (s *Service) FeedbackReport(ctx context.Context) (string, error) {
	entries, err := s.store.ListAllFeedback(ctx)
	if err != nil {
		return "", fmt.Errorf("list feedback: %w", err)
	}
	names, err := s.userNames(ctx)
	if err != nil {
		return "", err
	}
	rows := make([]report.FeedbackRow, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, report.FeedbackRow{
			ID:        entry.ID,
			SwapID:    entry.SwapID,
			RaterName: entry.RaterName,
			RatedName: names[entry.RatedUserID],
			Rating:    entry.Rating,
			Comment:   entry.Comment,
			CreatedAt: entry.CreatedAt,
		})
	}
	data, err := report.FeedbackCSV(rows)
	if err != nil {
		return "", err
	}
	s.archiveReport(ctx, "feedback.csv", data)
	return data, nil
}

// ActivityReport renders the per-member activity CSV and archives a copy.
func (s *Service) ActivityReport(ctx context.Context) (string, error) {
	activity, err := s.store.ListUserActivity(ctx)
	if err != nil {
		return "", fmt.Errorf("list user activity: %w", err)
	}
	rows := make([]report.ActivityRow, 0, len(activity))
	for _, item := range activity {
		status := "active"
		if item.IsBanned {
			status = "banned"
		}
		rows = append(rows, report.ActivityRow{
			UserID:         item.UserID,
			Name:           item.Name,
			Email:          item.Email,
			SkillsOffered:  item.SkillsOffered,
			SkillsWanted:   item.SkillsWanted,
			SwapsRequested: item.SwapsRequested,
			SwapsReceived:  item.SwapsReceived,
			SwapsCompleted: item.SwapsCompleted,
			FeedbackGiven:  item.FeedbackGiven,
			AverageRating:  item.AverageRating,
			JoinedAt:       item.JoinedAt,
			Status:         status,
		})
	}
	data, err := report.ActivityCSV(rows)
	if err != nil {
		return "", err
	}
	s.archiveReport(ctx, "activity.csv", data)
	return data, nil
}

// archiveReport uploads a generated CSV to the report bucket. Best-effort:
// a failed upload never fails the download.
func (s *Service) archiveReport(ctx context.Context, name, data string) {
	if s.archive == nil {
		return
	}
	key, err := s.archive.Store(ctx, name, data)
	if err != nil {
		log.Printf("archive report %s: %v", name, err)
		return
	}
	log.Printf("archived report %s", key)
}

// userNames maps user IDs to display names for report rows where the
// store query only joins one side.
func (s *Service) userNames(ctx context.Context) (map[string]string, error) {
	activity, err := s.store.ListUserActivity(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users for names: %w", err)
	}
	names := make(map[string]string, len(activity))
	for _, item := range activity {
		names[item.UserID] = item.Name
	}
	return names, nil
}
