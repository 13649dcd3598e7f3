// Package report builds the admin CSV exports: swaps, feedback, and
// per-member activity.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"
)

// SwapRow is one line of the swaps report.
type SwapRow struct {
	ID             string
	RequesterName  string
	ReceiverName   string
	RequesterSkill string
	ReceiverSkill  string
	Status         string
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// FeedbackRow is one line of the feedback report.
type FeedbackRow struct {
	ID        string
	SwapID    string
	RaterName string
	RatedName string
	Rating    int
	Comment   string
	CreatedAt time.Time
}

// ActivityRow is one line of the user activity report.
type ActivityRow struct {
	UserID         string
	Name           string
	Email          string
	SkillsOffered  int
	SkillsWanted   int
	SwapsRequested int
	SwapsReceived  int
	SwapsCompleted int
	FeedbackGiven  int
	AverageRating  float64
	JoinedAt       time.Time
	Status         string
}

const timeLayout = "2006-01-02 15:04:05"

func writeCSV(header []string, rows [][]string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return "", fmt.Errorf("write csv rows: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return buf.String(), nil
}

// SwapsCSV renders the swaps report.
func SwapsCSV(rows []SwapRow) (string, error) {
	header := []string{"Swap ID", "Requester", "Receiver", "Skill Offered", "Skill Requested", "Status", "Created At", "Completed At"}
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		completed := ""
		if row.CompletedAt != nil {
			completed = row.CompletedAt.Format(timeLayout)
		}
		records = append(records, []string{
			row.ID,
			row.RequesterName,
			row.ReceiverName,
			row.RequesterSkill,
			row.ReceiverSkill,
			row.Status,
			row.CreatedAt.Format(timeLayout),
			completed,
		})
	}
	return writeCSV(header, records)
}

// FeedbackCSV renders the feedback report.
func FeedbackCSV(rows []FeedbackRow) (string, error) {
	header := []string{"Feedback ID", "Swap ID", "Rater", "Rated User", "Rating", "Comment", "Created At"}
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, []string{
			row.ID,
			row.SwapID,
			row.RaterName,
			row.RatedName,
			strconv.Itoa(row.Rating),
			row.Comment,
			row.CreatedAt.Format(timeLayout),
		})
	}
	return writeCSV(header, records)
}

// ActivityCSV renders the user activity report.
func ActivityCSV(rows []ActivityRow) (string, error) {
	header := []string{"User ID", "Name", "Email", "Skills Offered", "Skills Wanted", "Swaps Requested", "Swaps Received", "Swaps Completed", "Feedback Given", "Average Rating", "Joined At", "Status"}
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, []string{
			row.UserID,
			row.Name,
			row.Email,
			strconv.Itoa(row.SkillsOffered),
			strconv.Itoa(row.SkillsWanted),
			strconv.Itoa(row.SwapsRequested),
			strconv.Itoa(row.SwapsReceived),
			strconv.Itoa(row.SwapsCompleted),
			strconv.Itoa(row.FeedbackGiven),
			strconv.FormatFloat(row.AverageRating, 'f', 1, 64),
			row.JoinedAt.Format(timeLayout),
			row.Status,
		})
	}
	return writeCSV(header, records)
}
