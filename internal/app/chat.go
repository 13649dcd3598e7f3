package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"skillswap/api/internal/push"
	"skillswap/api/internal/store"
	"skillswap/api/internal/util"
)

// chatMessageLimit caps how many recent messages a listing returns.
const chatMessageLimit = 50

type ChatInput struct {
	Body string `json:"body"`
}

// ListChatMessages returns the most recent messages on a swap in
// chronological order. Chat opens once the swap is accepted and stays
// readable after completion.
func (s *Service) ListChatMessages(ctx context.Context, sess Session, swapID string) (map[string]any, error) {
	swap, err := s.loadParticipantSwap(ctx, sess, swapID)
	if err != nil {
		return nil, err
	}
	if !chatOpen(swap.Status) {
		return nil, errForbidden("chat is only available for accepted swaps")
	}
	messages, err := s.store.ListSwapMessages(ctx, swap.ID, chatMessageLimit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	views := make([]map[string]any, 0, len(messages))
	for _, message := range messages {
		views = append(views, chatMessageView(message))
	}
	return map[string]any{"messages": views}, nil
}

// PostChatMessage appends a message to a swap's chat and notifies the swap
// room.
func (s *Service) PostChatMessage(ctx context.Context, sess Session, swapID string, input ChatInput) (map[string]any, error) {
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, errValidation("message body is required", nil)
	}

	swap, err := s.loadParticipantSwap(ctx, sess, swapID)
	if err != nil {
		return nil, err
	}
	if !chatOpen(swap.Status) {
		return nil, errForbidden("chat is only available for accepted swaps")
	}

	senderID := sess.UserID
	message := store.ChatMessage{
		ID:       util.NewID("msg"),
		SwapID:   swap.ID,
		SenderID: &senderID,
		Body:     body,
		Type:     "text",
	}
	if err := s.store.InsertChatMessage(ctx, message); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	view := map[string]any{
		"id":         message.ID,
		"swapId":     message.SwapID,
		"senderId":   senderID,
		"senderName": sess.UserName,
		"body":       message.Body,
		"type":       message.Type,
		"createdAt":  time.Now().UTC().Format(time.RFC3339),
	}
	s.notify.Publish(ctx, push.SwapRoom(swap.ID), "chat_message", view)
	return view, nil
}

// chatOpen: chat exists from acceptance onward. Pending, rejected, and
// cancelled swaps have no chat.
func chatOpen(status string) bool {
	return status == store.SwapAccepted || status == store.SwapCompleted
}

func chatMessageView(message store.ChatMessage) map[string]any {
	view := map[string]any{
		"id":         message.ID,
		"swapId":     message.SwapID,
		"senderName": message.SenderName,
		"body":       message.Body,
		"type":       message.Type,
		"createdAt":  message.CreatedAt.UTC().Format(time.RFC3339),
	}
	if message.SenderID != nil {
		view["senderId"] = *message.SenderID
	}
	return view
}
