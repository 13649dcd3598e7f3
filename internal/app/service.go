package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"skillswap/api/internal/auth"
	"skillswap/api/internal/authpw"
	"skillswap/api/internal/config"
	"skillswap/api/internal/push"
	"skillswap/api/internal/rbac"
	"skillswap/api/internal/report"
	"skillswap/api/internal/search"
	"skillswap/api/internal/session"
	"skillswap/api/internal/store"
	"skillswap/api/internal/util"
)

// Session is the resolved caller identity attached to every request.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// IsStaff reports whether the session belongs to an admin console account.
func (s Session) IsStaff() bool {
	return rbac.IsStaff(rbac.Normalize(s.Role))
}

type dataStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	UpdateUserProfile(ctx context.Context, user store.User) error
	SetUserBanned(ctx context.Context, userID string, banned bool) (bool, error)
	ListUsers(ctx context.Context, search, status string, limit, offset int) ([]store.User, error)
	ListPublicUsers(ctx context.Context, search, skill string, limit, offset int) ([]store.User, error)
	DeleteUserAccount(ctx context.Context, userID string) error

	GetAdminByID(ctx context.Context, adminID string) (store.Admin, error)
	CreateAdmin(ctx context.Context, admin store.Admin) error
	CountAdmins(ctx context.Context) (int, error)

	EnsureSkillByName(ctx context.Context, newID, name, category string) (store.Skill, error)
	ListSkills(ctx context.Context, search, status string, limit, offset int) ([]store.Skill, error)
	SetSkillApproved(ctx context.Context, skillID string, approved bool) (bool, error)
	AddUserSkill(ctx context.Context, entry store.UserSkill) error
	HasUserSkill(ctx context.Context, userID, skillID, skillType string) (bool, error)
	HasOfferedSkill(ctx context.Context, userID, skillName string) (bool, error)
	RemoveUserSkill(ctx context.Context, userID, userSkillID string) (bool, error)
	ListUserSkills(ctx context.Context, userID, skillType string) ([]store.UserSkill, error)

	InsertSwap(ctx context.Context, swap store.Swap) error
	GetSwap(ctx context.Context, swapID string) (store.Swap, error)
	TransitionSwap(ctx context.Context, swapID, fromStatus, toStatus string) (bool, error)
	HasPendingSwap(ctx context.Context, requesterID, receiverID string) (bool, error)
	CountPendingReceived(ctx context.Context, receiverID string) (int, error)
	ListPendingReceived(ctx context.Context, userID string) ([]store.Swap, error)
	ListPendingSent(ctx context.Context, userID string) ([]store.Swap, error)
	ListActiveSwaps(ctx context.Context, userID string) ([]store.Swap, error)
	ListCompletedSwaps(ctx context.Context, userID string) ([]store.Swap, error)
	ListUserSwaps(ctx context.Context, userID string) ([]store.Swap, error)
	ListAllSwaps(ctx context.Context) ([]store.Swap, error)

	InsertFeedback(ctx context.Context, entry store.Feedback) error
	HasFeedback(ctx context.Context, swapID, raterID string) (bool, error)
	GetFeedback(ctx context.Context, feedbackID string) (store.Feedback, error)
	UpdateFeedback(ctx context.Context, feedbackID, raterID string, rating int, comment string) (bool, error)
	DeleteFeedback(ctx context.Context, feedbackID, raterID string) (bool, error)
	ListSwapFeedback(ctx context.Context, swapID string) ([]store.Feedback, error)
	ListUserFeedback(ctx context.Context, ratedUserID string) ([]store.Feedback, error)
	ListAllFeedback(ctx context.Context) ([]store.Feedback, error)
	UserRatingSummary(ctx context.Context, userID string) (store.RatingSummary, error)

	InsertChatMessage(ctx context.Context, message store.ChatMessage) error
	ListSwapMessages(ctx context.Context, swapID string, limit int) ([]store.ChatMessage, error)

	GetPlatformStats(ctx context.Context) (store.PlatformStats, error)
	ListUserActivity(ctx context.Context) ([]store.UserActivity, error)

	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, subject session.Subject, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (session.Subject, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccess(ctx context.Context, jti string, ttl time.Duration) error
	IsAccessRevoked(ctx context.Context, jti string) (bool, error)
}

type mailer interface {
	IsConfigured() bool
	SendPasswordResetEmail(to, userName, resetURL string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	accounts *authpw.Service
	notify   push.Notifier
	search   *search.Service
	mail     mailer
	archive  *report.Archive
}

// New wires the service. search, mail, and archive may be nil when the
// corresponding backend is not configured.
func New(cfg config.Config, dataStore dataStore, sessions sessionStore, accounts *authpw.Service, notify push.Notifier, searchSvc *search.Service, mail mailer, archive *report.Archive) *Service {
	if notify == nil {
		notify = push.Noop{}
	}
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		accounts: accounts,
		notify:   notify,
		search:   searchSvc,
		mail:     mail,
		archive:  archive,
	}
}

// Bootstrap seeds the first admin account and warms the member search
// index. Safe to run on every boot.
func (s *Service) Bootstrap(ctx context.Context) error {
	count, err := s.store.CountAdmins(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		if s.cfg.AdminPassword == "" {
			log.Printf("bootstrap: no admin accounts and no seed password set, admin console is unreachable")
		} else {
			hash, err := bcrypt.GenerateFromPassword([]byte(s.cfg.AdminPassword), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			if err := s.store.CreateAdmin(ctx, store.Admin{
				ID:           util.NewID("adm"),
				Name:         "Administrator",
				Email:        strings.ToLower(s.cfg.AdminEmail),
				PasswordHash: string(hash),
				Role:         string(rbac.RoleSuperAdmin),
				IsActive:     true,
			}); err != nil {
				return err
			}
			log.Printf("bootstrap: seeded admin account %s", s.cfg.AdminEmail)
		}
	}

	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

func (s *Service) Register(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.accounts.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}
	s.indexUser(ctx, user.ID)
	return s.issueSession(ctx, session.Subject{ID: user.ID, Name: user.Name, Role: string(rbac.RoleMember)})
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, session.Subject{ID: user.ID, Name: user.Name, Role: string(rbac.RoleMember)})
}

func (s *Service) AdminLogin(ctx context.Context, email, password string) (Session, error) {
	admin, err := s.accounts.AdminSignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	role := rbac.Normalize(admin.Role)
	if !rbac.IsStaff(role) {
		role = rbac.RoleAdmin
	}
	return s.issueSession(ctx, session.Subject{ID: admin.ID, Name: admin.Name, Role: string(role)})
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	subject, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// Re-resolve the account so bans and deactivations cut refresh chains.
	if _, err := s.resolveSubject(ctx, subject.ID, subject.Role); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, subject)
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		ttl := time.Until(sess.ExpiresAt)
		if ttl > 0 {
			_ = s.sessions.RevokeAccess(ctx, sess.JTI, ttl)
		}
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	subject, err := s.resolveSubject(ctx, claims.Sub, claims.Role)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    subject.ID,
		UserName:  subject.Name,
		Role:      subject.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// resolveSubject re-reads the account behind a token. Banned members and
// deactivated admins fail resolution, which forces a logout.
func (s *Service) resolveSubject(ctx context.Context, id, role string) (session.Subject, error) {
	normalized := rbac.Normalize(role)
	if rbac.IsStaff(normalized) {
		admin, err := s.store.GetAdminByID(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return session.Subject{}, auth.ErrInvalidToken
			}
			return session.Subject{}, err
		}
		if !admin.IsActive {
			return session.Subject{}, auth.ErrInvalidToken
		}
		return session.Subject{ID: admin.ID, Name: admin.Name, Role: string(rbac.Normalize(admin.Role))}, nil
	}

	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Subject{}, auth.ErrInvalidToken
		}
		return session.Subject{}, err
	}
	if user.IsBanned {
		return session.Subject{}, auth.ErrInvalidToken
	}
	return session.Subject{ID: user.ID, Name: user.Name, Role: string(rbac.RoleMember)}, nil
}

func (s *Service) issueSession(ctx context.Context, subject session.Subject) (Session, error) {
	jti := util.NewID("jti")
	claims := auth.NewClaims(subject.ID, subject.Name, subject.Role, jti, s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken()
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), subject, time.Now().Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       subject.ID,
		UserName:     subject.Name,
		Role:         subject.Role,
		JTI:          jti,
		ExpiresAt:    time.Unix(claims.Exp, 0),
	}, nil
}

// RequestPasswordReset issues a reset token and mails it when SMTP is
// configured. The returned token is non-empty only in the dev bypass.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	token, err := s.accounts.RequestPasswordReset(ctx, email)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", nil
	}
	if s.mail != nil && s.mail.IsConfigured() {
		resetURL := s.cfg.CORSOrigin + "/reset-password?token=" + token
		if err := s.mail.SendPasswordResetEmail(email, "", resetURL); err != nil {
			log.Printf("password reset mail to %s: %v", email, err)
		}
		return "", nil
	}
	// No SMTP configured: hand the token back so local setups can finish
	// the flow without a mailbox.
	return token, nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	return s.accounts.ResetPassword(ctx, token, newPassword)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// indexUser refreshes a member's search index entry from current store
// state. Fire-and-forget.
func (s *Service) indexUser(ctx context.Context, userID string) {
	if s.search == nil {
		return
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return
	}
	if !user.IsPublic || user.IsBanned {
		s.search.DeleteMember(userID)
		return
	}
	offered, _ := s.store.ListUserSkills(ctx, userID, store.SkillOffered)
	wanted, _ := s.store.ListUserSkills(ctx, userID, store.SkillWanted)
	summary, _ := s.store.UserRatingSummary(ctx, userID)
	s.search.IndexMember(search.MemberRecord{
		ID:            user.ID,
		Name:          user.Name,
		Location:      user.Location,
		Availability:  user.Availability,
		PhotoURL:      user.PhotoURL,
		Rating:        summary.Average,
		SkillsOffered: skillNames(offered),
		SkillsWanted:  skillNames(wanted),
	})
}

func skillNames(entries []store.UserSkill) []string {
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.SkillName)
	}
	return names
}
