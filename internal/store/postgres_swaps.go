package store

import (
	"context"
	"fmt"
)

const swapColumns = `
	sw.id, sw.requester_id, sw.receiver_id, sw.requester_skill, sw.receiver_skill,
	sw.status, sw.message, sw.created_at, sw.updated_at, sw.completed_at,
	req.name, rec.name
`

const swapJoins = `
	FROM swaps sw
	JOIN users req ON req.id = sw.requester_id
	JOIN users rec ON rec.id = sw.receiver_id
`

func scanSwap(row interface{ Scan(...any) error }) (Swap, error) {
	var item Swap
	err := row.Scan(&item.ID, &item.RequesterID, &item.ReceiverID, &item.RequesterSkill, &item.ReceiverSkill,
		&item.Status, &item.Message, &item.CreatedAt, &item.UpdatedAt, &item.CompletedAt,
		&item.RequesterName, &item.ReceiverName)
	return item, err
}

func (s *PostgresStore) InsertSwap(ctx context.Context, swap Swap) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO swaps (id, requester_id, receiver_id, requester_skill, receiver_skill, status, message)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6)
	`, swap.ID, swap.RequesterID, swap.ReceiverID, swap.RequesterSkill, swap.ReceiverSkill, swap.Message)
	if err != nil {
		return fmt.Errorf("insert swap: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSwap(ctx context.Context, swapID string) (Swap, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+swapColumns+swapJoins+` WHERE sw.id=$1`, swapID)
	return scanSwap(row)
}

// TransitionSwap moves a swap from one status to another in a single
// conditional update. A false return means the swap was not in fromStatus
// anymore, so the caller lost the race.
func (s *PostgresStore) TransitionSwap(ctx context.Context, swapID, fromStatus, toStatus string) (bool, error) {
	query := `UPDATE swaps SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2`
	if toStatus == SwapCompleted {
		query = `UPDATE swaps SET status=$3, updated_at=NOW(), completed_at=NOW() WHERE id=$1 AND status=$2`
	}
	result, err := s.db.ExecContext(ctx, query, swapID, fromStatus, toStatus)
	if err != nil {
		return false, fmt.Errorf("transition swap: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition swap rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) HasPendingSwap(ctx context.Context, requesterID, receiverID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM swaps WHERE requester_id=$1 AND receiver_id=$2 AND status='pending')
	`, requesterID, receiverID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending swap: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) CountPendingReceived(ctx context.Context, receiverID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM swaps WHERE receiver_id=$1 AND status='pending'
	`, receiverID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending received: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) listSwaps(ctx context.Context, condition string, args ...any) ([]Swap, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+swapColumns+swapJoins+` WHERE `+condition+` ORDER BY sw.created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list swaps: %w", err)
	}
	defer rows.Close()

	items := make([]Swap, 0)
	for rows.Next() {
		item, err := scanSwap(rows)
		if err != nil {
			return nil, fmt.Errorf("scan swap: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swaps: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListPendingReceived(ctx context.Context, userID string) ([]Swap, error) {
	return s.listSwaps(ctx, `sw.receiver_id=$1 AND sw.status='pending'`, userID)
}

func (s *PostgresStore) ListPendingSent(ctx context.Context, userID string) ([]Swap, error) {
	return s.listSwaps(ctx, `sw.requester_id=$1 AND sw.status='pending'`, userID)
}

func (s *PostgresStore) ListActiveSwaps(ctx context.Context, userID string) ([]Swap, error) {
	return s.listSwaps(ctx, `(sw.requester_id=$1 OR sw.receiver_id=$1) AND sw.status='accepted'`, userID)
}

func (s *PostgresStore) ListCompletedSwaps(ctx context.Context, userID string) ([]Swap, error) {
	return s.listSwaps(ctx, `(sw.requester_id=$1 OR sw.receiver_id=$1) AND sw.status='completed'`, userID)
}

func (s *PostgresStore) ListUserSwaps(ctx context.Context, userID string) ([]Swap, error) {
	return s.listSwaps(ctx, `sw.requester_id=$1 OR sw.receiver_id=$1`, userID)
}

func (s *PostgresStore) ListAllSwaps(ctx context.Context) ([]Swap, error) {
	return s.listSwaps(ctx, `TRUE`)
}

func (s *PostgresStore) InsertFeedback(ctx context.Context, entry Feedback) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (id, swap_id, rater_id, rated_user_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.SwapID, entry.RaterID, entry.RatedUserID, entry.Rating, entry.Comment)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

func (s *PostgresStore) HasFeedback(ctx context.Context, swapID, raterID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM feedback WHERE swap_id=$1 AND rater_id=$2)
	`, swapID, raterID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check feedback: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) GetFeedback(ctx context.Context, feedbackID string) (Feedback, error) {
	var item Feedback
	err := s.db.QueryRowContext(ctx, `
		SELECT fb.id, fb.swap_id, fb.rater_id, fb.rated_user_id, fb.rating, fb.comment, fb.created_at, u.name
		FROM feedback fb
		JOIN users u ON u.id = fb.rater_id
		WHERE fb.id=$1
	`, feedbackID).Scan(&item.ID, &item.SwapID, &item.RaterID, &item.RatedUserID, &item.Rating, &item.Comment, &item.CreatedAt, &item.RaterName)
	if err != nil {
		return Feedback{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpdateFeedback(ctx context.Context, feedbackID, raterID string, rating int, comment string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE feedback SET rating=$3, comment=$4 WHERE id=$1 AND rater_id=$2
	`, feedbackID, raterID, rating, comment)
	if err != nil {
		return false, fmt.Errorf("update feedback: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update feedback rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteFeedback(ctx context.Context, feedbackID, raterID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM feedback WHERE id=$1 AND rater_id=$2
	`, feedbackID, raterID)
	if err != nil {
		return false, fmt.Errorf("delete feedback: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete feedback rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) listFeedback(ctx context.Context, condition string, args ...any) ([]Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fb.id, fb.swap_id, fb.rater_id, fb.rated_user_id, fb.rating, fb.comment, fb.created_at, u.name
		FROM feedback fb
		JOIN users u ON u.id = fb.rater_id
		WHERE `+condition+`
		ORDER BY fb.created_at DESC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	items := make([]Feedback, 0)
	for rows.Next() {
		var item Feedback
		if err := rows.Scan(&item.ID, &item.SwapID, &item.RaterID, &item.RatedUserID, &item.Rating, &item.Comment, &item.CreatedAt, &item.RaterName); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListSwapFeedback(ctx context.Context, swapID string) ([]Feedback, error) {
	return s.listFeedback(ctx, `fb.swap_id=$1`, swapID)
}

func (s *PostgresStore) ListUserFeedback(ctx context.Context, ratedUserID string) ([]Feedback, error) {
	return s.listFeedback(ctx, `fb.rated_user_id=$1`, ratedUserID)
}

func (s *PostgresStore) ListAllFeedback(ctx context.Context) ([]Feedback, error) {
	return s.listFeedback(ctx, `TRUE`)
}

func (s *PostgresStore) UserRatingSummary(ctx context.Context, userID string) (RatingSummary, error) {
	summary := RatingSummary{Distribution: map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0}}
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(ROUND(AVG(rating)::numeric, 1), 0), COUNT(*)
		FROM feedback WHERE rated_user_id=$1
	`, userID).Scan(&summary.Average, &summary.Count)
	if err != nil {
		return RatingSummary{}, fmt.Errorf("rating summary: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT rating, COUNT(*) FROM feedback WHERE rated_user_id=$1 GROUP BY rating
	`, userID)
	if err != nil {
		return RatingSummary{}, fmt.Errorf("rating distribution: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rating, count int
		if err := rows.Scan(&rating, &count); err != nil {
			return RatingSummary{}, fmt.Errorf("scan rating distribution: %w", err)
		}
		summary.Distribution[rating] = count
	}
	if err := rows.Err(); err != nil {
		return RatingSummary{}, fmt.Errorf("iterate rating distribution: %w", err)
	}
	return summary, nil
}

func (s *PostgresStore) InsertChatMessage(ctx context.Context, message ChatMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, swap_id, sender_id, body, message_type)
		VALUES ($1, $2, $3, $4, $5)
	`, message.ID, message.SwapID, message.SenderID, message.Body, message.Type)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

// ListSwapMessages returns the most recent messages in chronological order.
func (s *PostgresStore) ListSwapMessages(ctx context.Context, swapID string, limit int) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, swap_id, sender_id, body, message_type, created_at, sender_name
		FROM (
			SELECT cm.id, cm.swap_id, cm.sender_id, cm.body, cm.message_type, cm.created_at,
				COALESCE(u.name, '') AS sender_name
			FROM chat_messages cm
			LEFT JOIN users u ON u.id = cm.sender_id
			WHERE cm.swap_id=$1
			ORDER BY cm.created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`, swapID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	items := make([]ChatMessage, 0)
	for rows.Next() {
		var item ChatMessage
		if err := rows.Scan(&item.ID, &item.SwapID, &item.SenderID, &item.Body, &item.Type, &item.CreatedAt, &item.SenderName); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	return items, nil
}
