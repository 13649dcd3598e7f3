package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"skillswap/api/internal/search"
	"skillswap/api/internal/store"
	"skillswap/api/internal/util"
)

type UpdateProfileInput struct {
	Name         string `json:"name"`
	Location     string `json:"location"`
	Availability string `json:"availability"`
	PhotoURL     string `json:"photoUrl"`
	IsPublic     *bool  `json:"isPublic"`
}

type AddSkillInput struct {
	SkillName   string `json:"skillName"`
	SkillType   string `json:"skillType"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Proficiency string `json:"proficiency"`
}

var allowedProficiencies = map[string]struct{}{
	"beginner":     {},
	"intermediate": {},
	"expert":       {},
}

// GetProfile returns the session member's own profile with skills and
// rating summary.
func (s *Service) GetProfile(ctx context.Context, sess Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return s.profileView(ctx, user, true)
}

// UpdateProfile applies partial edits to the session member's profile.
func (s *Service) UpdateProfile(ctx context.Context, sess Session, input UpdateProfileInput) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	if name := strings.TrimSpace(input.Name); name != "" {
		user.Name = name
	}
	if input.Location != "" {
		user.Location = strings.TrimSpace(input.Location)
	}
	if input.Availability != "" {
		user.Availability = strings.TrimSpace(input.Availability)
	}
	if input.PhotoURL != "" {
		user.PhotoURL = strings.TrimSpace(input.PhotoURL)
	}
	if input.IsPublic != nil {
		user.IsPublic = *input.IsPublic
	}

	if err := s.store.UpdateUserProfile(ctx, user); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	s.indexUser(ctx, user.ID)
	return s.profileView(ctx, user, true)
}

// DeleteAccount removes the member and everything attached to them in one
// transaction, then revokes the session.
func (s *Service) DeleteAccount(ctx context.Context, sess Session, refreshToken string) error {
	if err := s.store.DeleteUserAccount(ctx, sess.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("account not found")
		}
		return fmt.Errorf("delete account: %w", err)
	}
	if s.search != nil {
		s.search.DeleteMember(sess.UserID)
	}
	return s.Logout(ctx, sess, refreshToken)
}

// AddSkill attaches a skill to the session member's profile, creating the
// catalog entry by name when it does not exist yet.
func (s *Service) AddSkill(ctx context.Context, sess Session, input AddSkillInput) (map[string]any, error) {
	name := strings.TrimSpace(input.SkillName)
	if name == "" {
		return nil, errValidation("skill name is required", nil)
	}
	skillType := strings.TrimSpace(input.SkillType)
	if skillType != store.SkillOffered && skillType != store.SkillWanted {
		return nil, errValidation("skill type must be offered or wanted", map[string]string{"skillType": skillType})
	}
	proficiency := strings.TrimSpace(input.Proficiency)
	if proficiency == "" {
		proficiency = "beginner"
	}
	if _, ok := allowedProficiencies[proficiency]; !ok {
		return nil, errValidation("unknown proficiency", map[string]string{"proficiency": proficiency})
	}

	skill, err := s.store.EnsureSkillByName(ctx, util.NewID("skl"), name, strings.TrimSpace(input.Category))
	if err != nil {
		return nil, fmt.Errorf("ensure skill: %w", err)
	}

	exists, err := s.store.HasUserSkill(ctx, sess.UserID, skill.ID, skillType)
	if err != nil {
		return nil, fmt.Errorf("check user skill: %w", err)
	}
	if exists {
		return nil, domainError(409, "DUPLICATE_SKILL", "this skill is already on your profile", nil)
	}

	entry := store.UserSkill{
		ID:          util.NewID("usk"),
		UserID:      sess.UserID,
		SkillID:     skill.ID,
		SkillType:   skillType,
		Description: strings.TrimSpace(input.Description),
		Proficiency: proficiency,
	}
	if err := s.store.AddUserSkill(ctx, entry); err != nil {
		if store.IsDuplicate(err) {
			return nil, domainError(409, "DUPLICATE_SKILL", "this skill is already on your profile", nil)
		}
		return nil, fmt.Errorf("add user skill: %w", err)
	}
	s.indexUser(ctx, sess.UserID)

	return map[string]any{
		"id":          entry.ID,
		"skillId":     skill.ID,
		"skillName":   skill.Name,
		"skillType":   entry.SkillType,
		"description": entry.Description,
		"proficiency": entry.Proficiency,
	}, nil
}

// RemoveSkill detaches a skill from the session member's profile. Existing
// swaps that referenced the skill are untouched.
func (s *Service) RemoveSkill(ctx context.Context, sess Session, userSkillID string) error {
	ok, err := s.store.RemoveUserSkill(ctx, sess.UserID, userSkillID)
	if err != nil {
		return fmt.Errorf("remove user skill: %w", err)
	}
	if !ok {
		return errNotFound("skill not found on your profile")
	}
	s.indexUser(ctx, sess.UserID)
	return nil
}

// BrowseMembers searches the public member directory.
func (s *Service) BrowseMembers(ctx context.Context, query, skill string, limit, offset int) (map[string]any, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	if s.search != nil {
		response := s.search.Search(search.Query{Text: query, Skill: skill, Limit: limit, Offset: offset})
		return map[string]any{
			"users": response.Results,
			"total": response.Total,
			"query": response.Query,
		}, nil
	}

	users, err := s.store.ListPublicUsers(ctx, query, skill, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list public users: %w", err)
	}
	views := make([]map[string]any, 0, len(users))
	for _, user := range users {
		views = append(views, memberCard(user))
	}
	return map[string]any{"users": views, "total": len(views), "query": query}, nil
}

// PublicProfile returns another member's profile. Private and banned
// profiles are indistinguishable from missing ones.
func (s *Service) PublicProfile(ctx context.Context, userID string) (map[string]any, error) {
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
	return s.profileView(ctx, user, false)
}

func (s *Service) profileView(ctx context.Context, user store.User, private bool) (map[string]any, error) {
	offered, err := s.store.ListUserSkills(ctx, user.ID, store.SkillOffered)
	if err != nil {
		return nil, fmt.Errorf("list offered skills: %w", err)
	}
	wanted, err := s.store.ListUserSkills(ctx, user.ID, store.SkillWanted)
	if err != nil {
		return nil, fmt.Errorf("list wanted skills: %w", err)
	}
	summary, err := s.store.UserRatingSummary(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("rating summary: %w", err)
	}

	view := map[string]any{
		"id":            user.ID,
		"name":          user.Name,
		"location":      user.Location,
		"availability":  user.Availability,
		"photoUrl":      user.PhotoURL,
		"isPublic":      user.IsPublic,
		"joinedAt":      user.CreatedAt.UTC().Format(time.RFC3339),
		"skillsOffered": userSkillViews(offered),
		"skillsWanted":  userSkillViews(wanted),
		"rating":        ratingSummaryView(summary),
	}
	if private {
		view["email"] = user.Email
	}
	return view, nil
}

func userSkillViews(entries []store.UserSkill) []map[string]any {
	views := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		views = append(views, map[string]any{
			"id":          entry.ID,
			"skillId":     entry.SkillID,
			"skillName":   entry.SkillName,
			"skillType":   entry.SkillType,
			"description": entry.Description,
			"proficiency": entry.Proficiency,
		})
	}
	return views
}

func memberCard(user store.User) map[string]any {
	return map[string]any{
		"userId":       user.ID,
		"name":         user.Name,
		"location":     user.Location,
		"availability": user.Availability,
		"photoUrl":     user.PhotoURL,
	}
}
