package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) GetPlatformStats(ctx context.Context) (PlatformStats, error) {
	var stats PlatformStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE is_banned),
			(SELECT COUNT(*) FROM users WHERE created_at > NOW() - INTERVAL '7 days'),
			(SELECT COUNT(*) FROM swaps),
			(SELECT COUNT(*) FROM swaps WHERE status='pending'),
			(SELECT COUNT(*) FROM swaps WHERE status='accepted'),
			(SELECT COUNT(*) FROM swaps WHERE status='completed'),
			(SELECT COUNT(*) FROM swaps WHERE created_at > NOW() - INTERVAL '7 days'),
			(SELECT COUNT(*) FROM skills),
			(SELECT COUNT(*) FROM skills WHERE is_approved),
			(SELECT COUNT(*) FROM skills WHERE NOT is_approved),
			(SELECT COUNT(*) FROM feedback),
			(SELECT COALESCE(ROUND(AVG(rating)::numeric, 1), 0) FROM feedback)
	`).Scan(
		&stats.TotalUsers, &stats.BannedUsers, &stats.NewUsersWeek,
		&stats.TotalSwaps, &stats.PendingSwaps, &stats.AcceptedSwaps, &stats.CompletedSwaps, &stats.NewSwapsWeek,
		&stats.TotalSkills, &stats.ApprovedSkills, &stats.PendingSkills,
		&stats.TotalFeedback, &stats.AverageRating,
	)
	if err != nil {
		return PlatformStats{}, fmt.Errorf("platform stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) ListUserActivity(ctx context.Context) ([]UserActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			u.id, u.name, u.email, u.created_at, u.is_banned,
			(SELECT COUNT(*) FROM user_skills us WHERE us.user_id=u.id AND us.skill_type='offered'),
			(SELECT COUNT(*) FROM user_skills us WHERE us.user_id=u.id AND us.skill_type='wanted'),
			(SELECT COUNT(*) FROM swaps sw WHERE sw.requester_id=u.id),
			(SELECT COUNT(*) FROM swaps sw WHERE sw.receiver_id=u.id),
			(SELECT COUNT(*) FROM swaps sw WHERE (sw.requester_id=u.id OR sw.receiver_id=u.id) AND sw.status='completed'),
			(SELECT COUNT(*) FROM feedback fb WHERE fb.rater_id=u.id),
			(SELECT COALESCE(ROUND(AVG(fb.rating)::numeric, 1), 0) FROM feedback fb WHERE fb.rated_user_id=u.id)
		FROM users u
		ORDER BY u.created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list user activity: %w", err)
	}
	defer rows.Close()

	items := make([]UserActivity, 0)
	for rows.Next() {
		var item UserActivity
		if err := rows.Scan(&item.UserID, &item.Name, &item.Email, &item.JoinedAt, &item.IsBanned,
			&item.SkillsOffered, &item.SkillsWanted, &item.SwapsRequested, &item.SwapsReceived,
			&item.SwapsCompleted, &item.FeedbackGiven, &item.AverageRating); err != nil {
			return nil, fmt.Errorf("scan user activity: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user activity: %w", err)
	}
	return items, nil
}
