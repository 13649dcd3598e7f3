package app

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"skillswap/api/internal/authpw"
	"skillswap/api/internal/config"
	"skillswap/api/internal/session"
	"skillswap/api/internal/store"
)

type fakeStore struct {
	getUserByIDFn          func(context.Context, string) (store.User, error)
	getUserByEmailFn       func(context.Context, string) (store.User, error)
	createUserFn           func(context.Context, store.User) error
	updateUserProfileFn    func(context.Context, store.User) error
	setUserBannedFn        func(context.Context, string, bool) (bool, error)
	deleteUserAccountFn    func(context.Context, string) error
	getAdminByIDFn         func(context.Context, string) (store.Admin, error)
	getAdminByEmailFn      func(context.Context, string) (store.Admin, error)
	countAdminsFn          func(context.Context) (int, error)
	createAdminFn          func(context.Context, store.Admin) error
	hasOfferedSkillFn      func(context.Context, string, string) (bool, error)
	hasPendingSwapFn       func(context.Context, string, string) (bool, error)
	countPendingReceivedFn func(context.Context, string) (int, error)
	insertSwapFn           func(context.Context, store.Swap) error
	getSwapFn              func(context.Context, string) (store.Swap, error)
	transitionSwapFn       func(context.Context, string, string, string) (bool, error)
	insertChatMessageFn    func(context.Context, store.ChatMessage) error
	listSwapMessagesFn     func(context.Context, string, int) ([]store.ChatMessage, error)
	hasFeedbackFn          func(context.Context, string, string) (bool, error)
	insertFeedbackFn       func(context.Context, store.Feedback) error
	getFeedbackFn          func(context.Context, string) (store.Feedback, error)
	updateFeedbackFn       func(context.Context, string, string, int, string) (bool, error)
	deleteFeedbackFn       func(context.Context, string, string) (bool, error)
	listUserFeedbackFn     func(context.Context, string) ([]store.Feedback, error)
	userRatingSummaryFn    func(context.Context, string) (store.RatingSummary, error)
	listUserSkillsFn       func(context.Context, string, string) ([]store.UserSkill, error)
	ensureSkillByNameFn    func(context.Context, string, string, string) (store.Skill, error)
	hasUserSkillFn         func(context.Context, string, string, string) (bool, error)
	addUserSkillFn         func(context.Context, store.UserSkill) error
	removeUserSkillFn      func(context.Context, string, string) (bool, error)
	listUsersFn            func(context.Context, string, string, int, int) ([]store.User, error)
	listPublicUsersFn      func(context.Context, string, string, int, int) ([]store.User, error)
	setSkillApprovedFn     func(context.Context, string, bool) (bool, error)
	listSkillsFn           func(context.Context, string, string, int, int) ([]store.Skill, error)
	getPlatformStatsFn     func(context.Context) (store.PlatformStats, error)
	listUserActivityFn     func(context.Context) ([]store.UserActivity, error)
	listSwapsFn            func(context.Context, string) ([]store.Swap, error)
	listAllSwapsFn         func(context.Context) ([]store.Swap, error)
	listSwapFeedbackFn     func(context.Context, string) ([]store.Feedback, error)
	listAllFeedbackFn      func(context.Context) ([]store.Feedback, error)
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}
func (f *fakeStore) UpdateUserProfile(ctx context.Context, user store.User) error {
	if f.updateUserProfileFn != nil {
		return f.updateUserProfileFn(ctx, user)
	}
	return nil
}
func (f *fakeStore) UpdateUserPassword(context.Context, string, string) error { return nil }
func (f *fakeStore) SetUserBanned(ctx context.Context, userID string, banned bool) (bool, error) {
	if f.setUserBannedFn != nil {
		return f.setUserBannedFn(ctx, userID, banned)
	}
	return true, nil
}
func (f *fakeStore) ListUsers(ctx context.Context, search, status string, limit, offset int) ([]store.User, error) {
	if f.listUsersFn != nil {
		return f.listUsersFn(ctx, search, status, limit, offset)
	}
	return nil, nil
}
func (f *fakeStore) ListPublicUsers(ctx context.Context, search, skill string, limit, offset int) ([]store.User, error) {
	if f.listPublicUsersFn != nil {
		return f.listPublicUsersFn(ctx, search, skill, limit, offset)
	}
	return nil, nil
}
func (f *fakeStore) DeleteUserAccount(ctx context.Context, userID string) error {
	if f.deleteUserAccountFn != nil {
		return f.deleteUserAccountFn(ctx, userID)
	}
	return nil
}
func (f *fakeStore) CreatePasswordReset(context.Context, string, string, time.Time) error {
	return nil
}
func (f *fakeStore) ConsumePasswordReset(context.Context, string) (string, error) {
	return "", sql.ErrNoRows
}
func (f *fakeStore) GetAdminByID(ctx context.Context, adminID string) (store.Admin, error) {
	if f.getAdminByIDFn != nil {
		return f.getAdminByIDFn(ctx, adminID)
	}
	return store.Admin{}, sql.ErrNoRows
}
func (f *fakeStore) GetAdminByEmail(ctx context.Context, email string) (store.Admin, error) {
	if f.getAdminByEmailFn != nil {
		return f.getAdminByEmailFn(ctx, email)
	}
	return store.Admin{}, sql.ErrNoRows
}
func (f *fakeStore) CreateAdmin(ctx context.Context, admin store.Admin) error {
	if f.createAdminFn != nil {
		return f.createAdminFn(ctx, admin)
	}
	return nil
}
func (f *fakeStore) CountAdmins(ctx context.Context) (int, error) {
	if f.countAdminsFn != nil {
		return f.countAdminsFn(ctx)
	}
	return 1, nil
}
func (f *fakeStore) TouchAdminLogin(context.Context, string) error { return nil }
func (f *fakeStore) EnsureSkillByName(ctx context.Context, newID, name, category string) (store.Skill, error) {
	if f.ensureSkillByNameFn != nil {
		return f.ensureSkillByNameFn(ctx, newID, name, category)
	}
	return store.Skill{ID: newID, Name: name, Category: category}, nil
}
func (f *fakeStore) ListSkills(ctx context.Context, search, status string, limit, offset int) ([]store.Skill, error) {
	if f.listSkillsFn != nil {
		return f.listSkillsFn(ctx, search, status, limit, offset)
	}
	return nil, nil
}
func (f *fakeStore) SetSkillApproved(ctx context.Context, skillID string, approved bool) (bool, error) {
	if f.setSkillApprovedFn != nil {
		return f.setSkillApprovedFn(ctx, skillID, approved)
	}
	return true, nil
}
func (f *fakeStore) AddUserSkill(ctx context.Context, entry store.UserSkill) error {
	if f.addUserSkillFn != nil {
		return f.addUserSkillFn(ctx, entry)
	}
	return nil
}
func (f *fakeStore) HasUserSkill(ctx context.Context, userID, skillID, skillType string) (bool, error) {
	if f.hasUserSkillFn != nil {
		return f.hasUserSkillFn(ctx, userID, skillID, skillType)
	}
	return false, nil
}
func (f *fakeStore) HasOfferedSkill(ctx context.Context, userID, skillName string) (bool, error) {
	if f.hasOfferedSkillFn != nil {
		return f.hasOfferedSkillFn(ctx, userID, skillName)
	}
	return true, nil
}
func (f *fakeStore) RemoveUserSkill(ctx context.Context, userID, userSkillID string) (bool, error) {
	if f.removeUserSkillFn != nil {
		return f.removeUserSkillFn(ctx, userID, userSkillID)
	}
	return true, nil
}
func (f *fakeStore) ListUserSkills(ctx context.Context, userID, skillType string) ([]store.UserSkill, error) {
	if f.listUserSkillsFn != nil {
		return f.listUserSkillsFn(ctx, userID, skillType)
	}
	return nil, nil
}
func (f *fakeStore) InsertSwap(ctx context.Context, swap store.Swap) error {
	if f.insertSwapFn != nil {
		return f.insertSwapFn(ctx, swap)
	}
	return nil
}
func (f *fakeStore) GetSwap(ctx context.Context, swapID string) (store.Swap, error) {
	if f.getSwapFn != nil {
		return f.getSwapFn(ctx, swapID)
	}
	return store.Swap{}, sql.ErrNoRows
}
func (f *fakeStore) TransitionSwap(ctx context.Context, swapID, fromStatus, toStatus string) (bool, error) {
	if f.transitionSwapFn != nil {
		return f.transitionSwapFn(ctx, swapID, fromStatus, toStatus)
	}
	return true, nil
}
func (f *fakeStore) HasPendingSwap(ctx context.Context, requesterID, receiverID string) (bool, error) {
	if f.hasPendingSwapFn != nil {
		return f.hasPendingSwapFn(ctx, requesterID, receiverID)
	}
	return false, nil
}
func (f *fakeStore) CountPendingReceived(ctx context.Context, receiverID string) (int, error) {
	if f.countPendingReceivedFn != nil {
		return f.countPendingReceivedFn(ctx, receiverID)
	}
	return 0, nil
}
func (f *fakeStore) ListPendingReceived(ctx context.Context, userID string) ([]store.Swap, error) {
	if f.listSwapsFn != nil {
		return f.listSwapsFn(ctx, "pending_received")
	}
	return nil, nil
}
func (f *fakeStore) ListPendingSent(ctx context.Context, userID string) ([]store.Swap, error) {
	if f.listSwapsFn != nil {
		return f.listSwapsFn(ctx, "pending_sent")
	}
	return nil, nil
}
func (f *fakeStore) ListActiveSwaps(ctx context.Context, userID string) ([]store.Swap, error) {
	if f.listSwapsFn != nil {
		return f.listSwapsFn(ctx, "active")
	}
	return nil, nil
}
func (f *fakeStore) ListCompletedSwaps(ctx context.Context, userID string) ([]store.Swap, error) {
	if f.listSwapsFn != nil {
		return f.listSwapsFn(ctx, "completed")
	}
	return nil, nil
}
func (f *fakeStore) ListUserSwaps(ctx context.Context, userID string) ([]store.Swap, error) {
	if f.listSwapsFn != nil {
		return f.listSwapsFn(ctx, "all")
	}
	return nil, nil
}
func (f *fakeStore) ListAllSwaps(ctx context.Context) ([]store.Swap, error) {
	if f.listAllSwapsFn != nil {
		return f.listAllSwapsFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) InsertFeedback(ctx context.Context, entry store.Feedback) error {
	if f.insertFeedbackFn != nil {
		return f.insertFeedbackFn(ctx, entry)
	}
	return nil
}
func (f *fakeStore) HasFeedback(ctx context.Context, swapID, raterID string) (bool, error) {
	if f.hasFeedbackFn != nil {
		return f.hasFeedbackFn(ctx, swapID, raterID)
	}
	return false, nil
}
func (f *fakeStore) GetFeedback(ctx context.Context, feedbackID string) (store.Feedback, error) {
	if f.getFeedbackFn != nil {
		return f.getFeedbackFn(ctx, feedbackID)
	}
	return store.Feedback{}, sql.ErrNoRows
}
func (f *fakeStore) UpdateFeedback(ctx context.Context, feedbackID, raterID string, rating int, comment string) (bool, error) {
	if f.updateFeedbackFn != nil {
		return f.updateFeedbackFn(ctx, feedbackID, raterID, rating, comment)
	}
	return true, nil
}
func (f *fakeStore) DeleteFeedback(ctx context.Context, feedbackID, raterID string) (bool, error) {
	if f.deleteFeedbackFn != nil {
		return f.deleteFeedbackFn(ctx, feedbackID, raterID)
	}
	return true, nil
}
func (f *fakeStore) ListSwapFeedback(ctx context.Context, swapID string) ([]store.Feedback, error) {
	if f.listSwapFeedbackFn != nil {
		return f.listSwapFeedbackFn(ctx, swapID)
	}
	return nil, nil
}
func (f *fakeStore) ListUserFeedback(ctx context.Context, ratedUserID string) ([]store.Feedback, error) {
	if f.listUserFeedbackFn != nil {
		return f.listUserFeedbackFn(ctx, ratedUserID)
	}
	return nil, nil
}
func (f *fakeStore) ListAllFeedback(ctx context.Context) ([]store.Feedback, error) {
	if f.listAllFeedbackFn != nil {
		return f.listAllFeedbackFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) UserRatingSummary(ctx context.Context, userID string) (store.RatingSummary, error) {
	if f.userRatingSummaryFn != nil {
		return f.userRatingSummaryFn(ctx, userID)
	}
	return store.RatingSummary{Distribution: map[int]int{}}, nil
}
func (f *fakeStore) InsertChatMessage(ctx context.Context, message store.ChatMessage) error {
	if f.insertChatMessageFn != nil {
		return f.insertChatMessageFn(ctx, message)
	}
	return nil
}
func (f *fakeStore) ListSwapMessages(ctx context.Context, swapID string, limit int) ([]store.ChatMessage, error) {
	if f.listSwapMessagesFn != nil {
		return f.listSwapMessagesFn(ctx, swapID, limit)
	}
	return nil, nil
}
func (f *fakeStore) GetPlatformStats(ctx context.Context) (store.PlatformStats, error) {
	if f.getPlatformStatsFn != nil {
		return f.getPlatformStatsFn(ctx)
	}
	return store.PlatformStats{}, nil
}
func (f *fakeStore) ListUserActivity(ctx context.Context) ([]store.UserActivity, error) {
	if f.listUserActivityFn != nil {
		return f.listUserActivityFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

// fakeSessions keeps refresh sessions and revoked JTIs in maps.
type fakeSessions struct {
	mu       sync.Mutex
	refresh  map[string]session.Subject
	revoked  map[string]bool
	saveErr  error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		refresh: make(map[string]session.Subject),
		revoked: make(map[string]bool),
	}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash string, subject session.Subject, _ time.Time) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = subject
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (session.Subject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subject, ok := f.refresh[tokenHash]
	if !ok {
		return session.Subject{}, session.ErrNotFound
	}
	return subject, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeSessions) RevokeAccess(_ context.Context, jti string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeSessions) IsAccessRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

type pushEvent struct {
	Room  string
	Event string
}

// fakeNotifier records published events for assertions.
type fakeNotifier struct {
	mu     sync.Mutex
	events []pushEvent
}

func (f *fakeNotifier) Publish(_ context.Context, room, event string, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, pushEvent{Room: room, Event: event})
}

func (f *fakeNotifier) all() []pushEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pushEvent(nil), f.events...)
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		ResetTTL:   time.Hour,
	}
}

func newTestService(fs *fakeStore) (*Service, *fakeNotifier) {
	notifier := &fakeNotifier{}
	accounts := authpw.NewService(fs, fs, time.Hour)
	svc := New(testConfig(), fs, newFakeSessions(), accounts, notifier, nil, nil, nil)
	return svc, notifier
}

func memberSession(userID, name string) Session {
	return Session{UserID: userID, UserName: name, Role: "member"}
}

func activeUser(id, name string) store.User {
	return store.User{ID: id, Name: name, Email: name + "@example.com", IsPublic: true}
}

func domainCode(t *testing.T, err error) string {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	return domainErr.Code
}

func pendingSwapStore(users map[string]store.User, swap *store.Swap) *fakeStore {
	return &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			user, ok := users[userID]
			if !ok {
				return store.User{}, sql.ErrNoRows
			}
			return user, nil
		},
		getSwapFn: func(_ context.Context, swapID string) (store.Swap, error) {
			if swap == nil || swap.ID != swapID {
				return store.Swap{}, sql.ErrNoRows
			}
			return *swap, nil
		},
		transitionSwapFn: func(_ context.Context, swapID, fromStatus, toStatus string) (bool, error) {
			if swap == nil || swap.ID != swapID || swap.Status != fromStatus {
				return false, nil
			}
			swap.Status = toStatus
			if toStatus == store.SwapCompleted {
				now := time.Now()
				swap.CompletedAt = &now
			}
			return true, nil
		},
	}
}

func TestCreateSwapHappyPath(t *testing.T) {
	users := map[string]store.User{
		"usr_a": activeUser("usr_a", "Alice"),
		"usr_b": activeUser("usr_b", "Bob"),
	}
	var inserted store.Swap
	fs := pendingSwapStore(users, nil)
	fs.insertSwapFn = func(_ context.Context, swap store.Swap) error {
		inserted = swap
		return nil
	}
	fs.getSwapFn = func(_ context.Context, swapID string) (store.Swap, error) {
		if swapID != inserted.ID {
			return store.Swap{}, sql.ErrNoRows
		}
		out := inserted
		out.RequesterName = "Alice"
		out.ReceiverName = "Bob"
		return out, nil
	}
	svc, notifier := newTestService(fs)

	payload, err := svc.CreateSwap(context.Background(), memberSession("usr_a", "Alice"), CreateSwapInput{
		ReceiverID:     "usr_b",
		RequesterSkill: "Guitar",
		ReceiverSkill:  "Spanish",
		Message:        "trade?",
	})
	if err != nil {
		t.Fatalf("create swap: %v", err)
	}
	if inserted.Status != store.SwapPending {
		t.Fatalf("expected pending status, got %q", inserted.Status)
	}
	if inserted.RequesterID != "usr_a" || inserted.ReceiverID != "usr_b" {
		t.Fatalf("wrong participants: %+v", inserted)
	}
	if payload["status"] != store.SwapPending {
		t.Fatalf("expected pending in payload, got %v", payload["status"])
	}

	events := notifier.all()
	if len(events) != 1 || events[0].Event != "swap_requested" || events[0].Room != "user_usr_b" {
		t.Fatalf("expected swap_requested to user_usr_b, got %+v", events)
	}
}

func TestCreateSwapValidation(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})
	_, err := svc.CreateSwap(context.Background(), memberSession("usr_a", "Alice"), CreateSwapInput{})
	if code := domainCode(t, err); code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", code)
	}
}

func TestCreateSwapSelfTarget(t *testing.T) {
	users := map[string]store.User{"usr_a": activeUser("usr_a", "Alice")}
	svc, _ := newTestService(pendingSwapStore(users, nil))
	_, err := svc.CreateSwap(context.Background(), memberSession("usr_a", "Alice"), CreateSwapInput{
		ReceiverID: "usr_a", RequesterSkill: "Guitar", ReceiverSkill: "Spanish",
	})
	if code := domainCode(t, err); code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", code)
	}
}

func TestCreateSwapHidesReceiverState(t *testing.T) {
	banned := activeUser("usr_banned", "Mallory")
	banned.IsBanned = true
	private := activeUser("usr_private", "Carol")
	private.IsPublic = false
	users := map[string]store.User{
		"usr_a":       activeUser("usr_a", "Alice"),
		"usr_banned":  banned,
		"usr_private": private,
	}
	svc, _ := newTestService(pendingSwapStore(users, nil))

	for _, receiver := range []string{"usr_missing", "usr_banned", "usr_private"} {
		_, err := svc.CreateSwap(context.Background(), memberSession("usr_a", "Alice"), CreateSwapInput{
			ReceiverID: receiver, RequesterSkill: "Guitar", ReceiverSkill: "Spanish",
		})
		if code := domainCode(t, err); code != "NOT_AVAILABLE" {
			t.Fatalf("receiver %s: expected NOT_AVAILABLE, got %s", receiver, code)
		}
	}
}

func TestCreateSwapCapacityThrottle(t *testing.T) {
	users := map[string]store.User{
		"usr_a": activeUser("usr_a", "Alice"),
		"usr_b": activeUser("usr_b", "Bob"),
	}
	fs := pendingSwapStore(users, nil)
	fs.countPendingReceivedFn = func(context.Context, string) (int, error) {
		return PendingReceivedLimit, nil
	}
	svc, _ := newTestService(fs)

	_, err := svc.CreateSwap(context.Background(), memberSession("usr_a", "Alice"), CreateSwapInput{
		ReceiverID: "usr_b", RequesterSkill: "Guitar", ReceiverSkill: "Spanish",
	})
	if code := domainCode(t, err); code != "NOT_AVAILABLE" {
		t.Fatalf("expected NOT_AVAILABLE at capacity, got %s", code)
	}
}

func TestCreateSwapDuplicatePending(t *testing.T) {
	users := map[string]store.User{
		"usr_a": activeUser("usr_a", "Alice"),
		"usr_b": activeUser("usr_b", "Bob"),
	}
	fs := pendingSwapStore(users, nil)
	fs.hasPendingSwapFn = func(context.Context, string, string) (bool, error) { return true, nil }
	svc, _ := newTestService(fs)

	_, err := svc.CreateSwap(context.Background(), memberSession("usr_a", "Alice"), CreateSwapInput{
		ReceiverID: "usr_b", RequesterSkill: "Guitar", ReceiverSkill: "Spanish",
	})
	if code := domainCode(t, err); code != "DUPLICATE_REQUEST" {
		t.Fatalf("expected DUPLICATE_REQUEST, got %s", code)
	}
}

func TestCreateSwapRequiresOfferedSkills(t *testing.T) {
	users := map[string]store.User{
		"usr_a": activeUser("usr_a", "Alice"),
		"usr_b": activeUser("usr_b", "Bob"),
	}
	fs := pendingSwapStore(users, nil)
	fs.hasOfferedSkillFn = func(_ context.Context, userID, skillName string) (bool, error) {
		return skillName == "Guitar", nil
	}
	svc, _ := newTestService(fs)

	_, err := svc.CreateSwap(context.Background(), memberSession("usr_a", "Alice"), CreateSwapInput{
		ReceiverID: "usr_b", RequesterSkill: "Guitar", ReceiverSkill: "Spanish",
	})
	if code := domainCode(t, err); code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR for unoffered skill, got %s", code)
	}
}

func TestAcceptSwapReceiverOnly(t *testing.T) {
	users := map[string]store.User{
		"usr_a": activeUser("usr_a", "Alice"),
		"usr_b": activeUser("usr_b", "Bob"),
	}
	swap := &store.Swap{ID: "swp_1", RequesterID: "usr_a", ReceiverID: "usr_b", Status: store.SwapPending}
	svc, _ := newTestService(pendingSwapStore(users, swap))

	_, err := svc.AcceptSwap(context.Background(), memberSession("usr_a", "Alice"), "swp_1")
	if code := domainCode(t, err); code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN for requester accept, got %s", code)
	}
}

func TestAcceptSwapPostsSystemMessageAndNotifies(t *testing.T) {
	users := map[string]store.User{
		"usr_a": activeUser("usr_a", "Alice"),
		"usr_b": activeUser("usr_b", "Bob"),
	}
	swap := &store.Swap{ID: "swp_1", RequesterID: "usr_a", ReceiverID: "usr_b", Status: store.SwapPending}
	fs := pendingSwapStore(users, swap)
	var systemMessage store.ChatMessage
	fs.insertChatMessageFn = func(_ context.Context, message store.ChatMessage) error {
		systemMessage = message
		return nil
	}
	svc, notifier := newTestService(fs)

	payload, err := svc.AcceptSwap(context.Background(), memberSession("usr_b", "Bob"), "swp_1")
	if err != nil {
		t.Fatalf("accept swap: %v", err)
	}
	if payload["status"] != store.SwapAccepted {
		t.Fatalf("expected accepted, got %v", payload["status"])
	}
	if systemMessage.Type != "system" || systemMessage.SenderID != nil {
		t.Fatalf("expected senderless system message, got %+v", systemMessage)
	}

	events := notifier.all()
	if len(events) != 1 || events[0].Event != "swap_accepted" || events[0].Room != "user_usr_a" {
		t.Fatalf("expected swap_accepted to user_usr_a, got %+v", events)
	}
}

func TestCreateSwapDuplicateInsertRace(t *testing.T) {
	users := map[string]store.User{
		"usr_a": activeUser("usr_a", "Alice"),
		"usr_b": activeUser("usr_b", "Bob"),
	}
	fs := pendingSwapStore(users, nil)
	// The pending check passed, but a concurrent create won the insert.
	fs.insertSwapFn = func(context.Context, store.Swap) error {
		return store.ErrDuplicate
	}
	svc, notifier := newTestService(fs)

	_, err := svc.CreateSwap(context.Background(), memberSession("usr_a", "Alice"), CreateSwapInput{
		ReceiverID:     "usr_b",
		RequesterSkill: "Guitar",
		ReceiverSkill:  "Spanish",
	})
	if code := domainCode(t, err); code != "DUPLICATE_REQUEST" {
		t.Fatalf("expected DUPLICATE_REQUEST, got %s", code)
	}
	if events := notifier.all(); len(events) != 0 {
		t.Fatalf("expected no notifications, got %+v", events)
	}
}

func TestAcceptSwapSurvivesSystemMessageFailure(t *testing.T) {
	users := map[string]store.User{
		"usr_a": activeUser("usr_a", "Alice"),
		"usr_b": activeUser("usr_b", "Bob"),
	}
	swap := &store.Swap{ID: "swp_1", RequesterID: "usr_a", ReceiverID: "usr_b", Status: store.SwapPending}
	fs := pendingSwapStore(users, swap)
	fs.insertChatMessageFn = func(context.Context, store.ChatMessage) error {
		return errors.New("connection reset")
	}
	svc, notifier := newTestService(fs)

	payload, err := svc.AcceptSwap(context.Background(), memberSession("usr_b", "Bob"), "swp_1")
	if err != nil {
		t.Fatalf("accept swap: %v", err)
	}
	if payload["status"] != store.SwapAccepted {
		t.Fatalf("expected accepted, got %v", payload["status"])
	}

	events := notifier.all()
	if len(events) != 1 || events[0].Event != "swap_accepted" || events[0].Room != "user_usr_a" {
		t.Fatalf("expected swap_accepted to user_usr_a, got %+v", events)
	}
}

func TestSubmitFeedbackDuplicateInsertRace(t *testing.T) {
	users := map[string]store.User{
		"usr_a": activeUser("usr_a", "Alice"),
		"usr_b": activeUser("usr_b", "Bob"),
	}
	swap := &store.Swap{ID: "swp_1", RequesterID: "usr_a", ReceiverID: "usr_b", Status: store.SwapCompleted}
	fs := pendingSwapStore(users, swap)
	fs.insertFeedbackFn = func(context.Context, store.Feedback) error {
		return store.ErrDuplicate
	}
	svc, _ := newTestService(fs)

	_, err := svc.SubmitFeedback(context.Background(), memberSession("usr_a", "Alice"), "swp_1", FeedbackInput{Rating: 5})
	if code := domainCode(t, err); code != "ALREADY_RATED" {
		t.Fatalf("expected ALREADY_RATED, got %s", code)
	}
}

func TestTransitionsAreTerminal(t *testing.T) {
	users := map[string]store.User{
		"usr_a": activeUser("usr_a", "Alice"),
		"usr_b": activeUser("usr_b", "Bob"),
	}

	cases := []struct {
		name   string
		status string
		call   func(*Service, context.Context) error
	}{
		{"accept rejected", store.SwapRejected, func(svc *Service, ctx context.Context) error {
			_, err := svc.AcceptSwap(ctx, memberSession("usr_b", "Bob"), "swp_1")
			return err
		}},
		{"reject cancelled", store.SwapCancelled, func(svc *Service, ctx context.Context) error {
			_, err := svc.RejectSwap(ctx, memberSession("usr_b", "Bob"), "swp_1")
			return err
		}},
		{"cancel accepted", store.SwapAccepted, func(svc *Service, ctx context.Context) error {
			_, err := svc.CancelSwap(ctx, memberSession("usr_a", "Alice"), "swp_1")
			return err
		}},
		{"complete completed", store.SwapCompleted, func(svc *Service, ctx context.Context) error {
			_, err := svc.CompleteSwap(ctx, memberSession("usr_a", "Alice"), "swp_1")
			return err
		}},
		{"complete pending", store.SwapPending, func(svc *Service, ctx context.Context) error {
			_, err := svc.CompleteSwap(ctx, memberSession("usr_a", "Alice"), "swp_1")
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			swap := &store.Swap{ID: "swp_1", RequesterID: "usr_a", ReceiverID: "usr_b", Status: tc.status}
			svc, _ := newTestService(pendingSwapStore(users, swap))
			err := tc.call(svc, context.Background())
			if code := domainCode(t, err); code != "ALREADY_PROCESSED" {
				t.Fatalf("expected ALREADY_PROCESSED, got %s", code)
			}
		})
	}
}

func TestCancelSwapRequesterOnly(t *testing.T) {
	users := map[string]store.User{
		"usr_a": activeUser("usr_a", "Alice"),
		"usr_b": activeUser("usr_b", "Bob"),
	}
	swap := &store.Swap{ID: "swp_1", RequesterID: "usr_a", ReceiverID: "usr_b", Status: store.SwapPending}
	svc, notifier := newTestService(pendingSwapStore(users, swap))

	_, err := svc.CancelSwap(context.Background(), memberSession("usr_b", "Bob"), "swp_1")
	if code := domainCode(t, err); code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN for receiver cancel, got %s", code)
	}

	if _, err := svc.CancelSwap(context.Background(), memberSession("usr_a", "Alice"), "swp_1"); err != nil {
		t.Fatalf("cancel swap: %v", err)
	}
	if events := notifier.all(); len(events) != 0 {
		t.Fatalf("cancel should not notify, got %+v", events)
	}
}

func TestCompleteSwapEitherParticipant(t *testing.T) {
	users := map[string]store.User{
		"usr_a": activeUser("usr_a", "Alice"),
		"usr_b": activeUser("usr_b", "Bob"),
	}
	swap := &store.Swap{ID: "swp_1", RequesterID: "usr_a", ReceiverID: "usr_b", Status: store.SwapAccepted}
	svc, notifier := newTestService(pendingSwapStore(users, swap))

	payload, err := svc.CompleteSwap(context.Background(), memberSession("usr_b", "Bob"), "swp_1")
	if err != nil {
		t.Fatalf("complete swap: %v", err)
	}
	if payload["status"] != store.SwapCompleted {
		t.Fatalf("expected completed, got %v", payload["status"])
	}
	if payload["completedAt"] == nil {
		t.Fatalf("expected completedAt to be set")
	}

	events := notifier.all()
	if len(events) != 1 || events[0].Event != "swap_completed" || events[0].Room != "user_usr_a" {
		t.Fatalf("expected swap_completed to the other participant, got %+v", events)
	}
}

func TestSwapHiddenFromNonParticipants(t *testing.T) {
	users := map[string]store.User{
		"usr_a": activeUser("usr_a", "Alice"),
		"usr_b": activeUser("usr_b", "Bob"),
		"usr_c": activeUser("usr_c", "Eve"),
	}
	swap := &store.Swap{ID: "swp_1", RequesterID: "usr_a", ReceiverID: "usr_b", Status: store.SwapPending}
	svc, _ := newTestService(pendingSwapStore(users, swap))

	_, err := svc.GetSwapDetail(context.Background(), memberSession("usr_c", "Eve"), "swp_1")
	if code := domainCode(t, err); code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND for outsider, got %s", code)
	}
}

func TestSubmitFeedbackExactlyOnce(t *testing.T) {
	users := map[string]store.User{
		"usr_a": activeUser("usr_a", "Alice"),
		"usr_b": activeUser("usr_b", "Bob"),
	}
	swap := &store.Swap{ID: "swp_1", RequesterID: "usr_a", ReceiverID: "usr_b", Status: store.SwapCompleted}
	fs := pendingSwapStore(users, swap)

	var saved store.Feedback
	rated := false
	fs.hasFeedbackFn = func(_ context.Context, swapID, raterID string) (bool, error) {
		return rated, nil
	}
	fs.insertFeedbackFn = func(_ context.Context, entry store.Feedback) error {
		saved = entry
		rated = true
		return nil
	}
	fs.getFeedbackFn = func(_ context.Context, feedbackID string) (store.Feedback, error) {
		if feedbackID != saved.ID {
			return store.Feedback{}, sql.ErrNoRows
		}
		return saved, nil
	}
	svc, _ := newTestService(fs)

	payload, err := svc.SubmitFeedback(context.Background(), memberSession("usr_a", "Alice"), "swp_1", FeedbackInput{Rating: 5, Comment: "great"})
	if err != nil {
		t.Fatalf("submit feedback: %v", err)
	}
	if payload["ratedUserId"] != "usr_b" {
		t.Fatalf("rated user must be the other participant, got %v", payload["ratedUserId"])
	}

	_, err = svc.SubmitFeedback(context.Background(), memberSession("usr_a", "Alice"), "swp_1", FeedbackInput{Rating: 4})
	if code := domainCode(t, err); code != "ALREADY_RATED" {
		t.Fatalf("expected ALREADY_RATED on second submit, got %s", code)
	}
}

func TestSubmitFeedbackGuards(t *testing.T) {
	users := map[string]store.User{
		"usr_a": activeUser("usr_a", "Alice"),
		"usr_b": activeUser("usr_b", "Bob"),
	}

	swap := &store.Swap{ID: "swp_1", RequesterID: "usr_a", ReceiverID: "usr_b", Status: store.SwapAccepted}
	svc, _ := newTestService(pendingSwapStore(users, swap))
	_, err := svc.SubmitFeedback(context.Background(), memberSession("usr_a", "Alice"), "swp_1", FeedbackInput{Rating: 3})
	if code := domainCode(t, err); code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR on non-completed swap, got %s", code)
	}

	for _, rating := range []int{0, 6, -1} {
		_, err := svc.SubmitFeedback(context.Background(), memberSession("usr_a", "Alice"), "swp_1", FeedbackInput{Rating: rating})
		if code := domainCode(t, err); code != "VALIDATION_ERROR" {
			t.Fatalf("rating %d: expected VALIDATION_ERROR, got %s", rating, code)
		}
	}
}

func TestChatRequiresAcceptedSwap(t *testing.T) {
	users := map[string]store.User{
		"usr_a": activeUser("usr_a", "Alice"),
		"usr_b": activeUser("usr_b", "Bob"),
	}

	for _, status := range []string{store.SwapPending, store.SwapRejected, store.SwapCancelled} {
		swap := &store.Swap{ID: "swp_1", RequesterID: "usr_a", ReceiverID: "usr_b", Status: status}
		svc, _ := newTestService(pendingSwapStore(users, swap))
		_, err := svc.PostChatMessage(context.Background(), memberSession("usr_a", "Alice"), "swp_1", ChatInput{Body: "hi"})
		if code := domainCode(t, err); code != "FORBIDDEN" {
			t.Fatalf("status %s: expected FORBIDDEN, got %s", status, code)
		}
	}
}

func TestChatPostNotifiesSwapRoom(t *testing.T) {
	users := map[string]store.User{
		"usr_a": activeUser("usr_a", "Alice"),
		"usr_b": activeUser("usr_b", "Bob"),
	}
	swap := &store.Swap{ID: "swp_1", RequesterID: "usr_a", ReceiverID: "usr_b", Status: store.SwapAccepted}
	fs := pendingSwapStore(users, swap)
	var stored store.ChatMessage
	fs.insertChatMessageFn = func(_ context.Context, message store.ChatMessage) error {
		stored = message
		return nil
	}
	svc, notifier := newTestService(fs)

	payload, err := svc.PostChatMessage(context.Background(), memberSession("usr_a", "Alice"), "swp_1", ChatInput{Body: "  see you saturday  "})
	if err != nil {
		t.Fatalf("post chat message: %v", err)
	}
	if stored.Body != "see you saturday" || stored.Type != "text" {
		t.Fatalf("unexpected stored message: %+v", stored)
	}
	if stored.SenderID == nil || *stored.SenderID != "usr_a" {
		t.Fatalf("expected sender usr_a, got %+v", stored.SenderID)
	}
	if payload["body"] != "see you saturday" {
		t.Fatalf("unexpected payload body: %v", payload["body"])
	}

	events := notifier.all()
	if len(events) != 1 || events[0].Event != "chat_message" || events[0].Room != "swap_swp_1" {
		t.Fatalf("expected chat_message to swap_swp_1, got %+v", events)
	}
}

func TestSessionFromTokenRejectsBanned(t *testing.T) {
	banned := activeUser("usr_a", "Alice")
	banned.IsBanned = true
	fs := &fakeStore{
		getUserByIDFn: func(context.Context, string) (store.User, error) {
			return banned, nil
		},
	}
	svc, _ := newTestService(fs)

	sess, err := svc.issueSession(context.Background(), session.Subject{ID: "usr_a", Name: "Alice", Role: "member"})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	if _, err := svc.SessionFromToken(context.Background(), sess.Token); err == nil {
		t.Fatalf("expected banned user token to be rejected")
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(context.Context, string) (store.User, error) {
			return activeUser("usr_a", "Alice"), nil
		},
	}
	svc, _ := newTestService(fs)
	ctx := context.Background()

	sess, err := svc.issueSession(ctx, session.Subject{ID: "usr_a", Name: "Alice", Role: "member"})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, sess.Token); err != nil {
		t.Fatalf("session lookup before logout: %v", err)
	}
	if err := svc.Logout(ctx, sess, sess.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, sess.Token); err == nil {
		t.Fatalf("expected revoked token to be rejected")
	}
	if _, err := svc.Refresh(ctx, sess.RefreshToken); err == nil {
		t.Fatalf("expected revoked refresh token to be rejected")
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(context.Context, string) (store.User, error) {
			return activeUser("usr_a", "Alice"), nil
		},
	}
	svc, _ := newTestService(fs)
	ctx := context.Background()

	first, err := svc.issueSession(ctx, session.Subject{ID: "usr_a", Name: "Alice", Role: "member"})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	second, err := svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("expected refresh token rotation")
	}
	if _, err := svc.Refresh(ctx, first.RefreshToken); err == nil {
		t.Fatalf("expected old refresh token to be dead after rotation")
	}
}

func TestBootstrapSeedsFirstAdmin(t *testing.T) {
	var created store.Admin
	fs := &fakeStore{
		countAdminsFn: func(context.Context) (int, error) { return 0, nil },
		createAdminFn: func(_ context.Context, admin store.Admin) error {
			created = admin
			return nil
		},
	}
	svc, _ := newTestService(fs)
	svc.cfg.AdminEmail = "ops@skillswap.local"
	svc.cfg.AdminPassword = "bootstrap-secret"

	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if created.Email != "ops@skillswap.local" || created.Role != "superadmin" || !created.IsActive {
		t.Fatalf("unexpected seeded admin: %+v", created)
	}
	if created.PasswordHash == "" || created.PasswordHash == "bootstrap-secret" {
		t.Fatalf("expected hashed password, got %q", created.PasswordHash)
	}
}

func TestBootstrapSkipsWhenAdminsExist(t *testing.T) {
	fs := &fakeStore{
		countAdminsFn: func(context.Context) (int, error) { return 2, nil },
		createAdminFn: func(context.Context, store.Admin) error {
			return errors.New("should not create")
		},
	}
	svc, _ := newTestService(fs)
	svc.cfg.AdminPassword = "whatever"
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
}
