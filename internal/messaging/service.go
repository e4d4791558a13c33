// Package messaging implements direct and group conversations on top of the
// store: dm pairing, membership rules, inbox, and read tracking.
package messaging

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dylanneve1/agent-bridge/internal/bridgeerr"
	"github.com/dylanneve1/agent-bridge/internal/store"
	"github.com/dylanneve1/agent-bridge/pkg/models"
)

// Service owns conversation and message mutations.
type Service struct {
	st store.Store
}

func NewService(st store.Store) *Service {
	return &Service{st: st}
}

// SendDM delivers a direct message, creating the dm conversation for the
// pair on first contact. The recipient must be a registered agent.
func (s *Service) SendDM(ctx context.Context, sender, recipient, content string) (*models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, bridgeerr.E(bridgeerr.InvalidOperation, "message content is required")
	}
	if sender == recipient {
		return nil, bridgeerr.E(bridgeerr.InvalidOperation, "cannot send a direct message to yourself")
	}
	rec, err := s.st.GetAgent(ctx, recipient)
	if err != nil {
		return nil, internalErr(err)
	}
	if rec == nil {
		return nil, bridgeerr.E(bridgeerr.NotFound, "agent %q not found", recipient)
	}

	convID, err := s.st.FindDM(ctx, sender, recipient)
	if err != nil {
		return nil, internalErr(err)
	}
	if convID == "" {
		pair := []string{sender, recipient}
		if pair[0] > pair[1] {
			pair[0], pair[1] = pair[1], pair[0]
		}
		conv := &models.Conversation{
			ConversationID: uuid.NewString(),
			Name:           "dm:" + pair[0] + ":" + pair[1],
			Type:           models.ConversationDM,
			CreatedBy:      sender,
			Members:        pair,
		}
		if err := s.st.CreateConversation(ctx, conv); err != nil {
			return nil, internalErr(err)
		}
		convID = conv.ConversationID
	}

	m := &models.Message{
		MessageID:      uuid.NewString(),
		ConversationID: convID,
		Sender:         sender,
		Recipient:      &recipient,
		Content:        content,
	}
	if err := s.st.CreateMessage(ctx, m); err != nil {
		return nil, internalErr(err)
	}
	return m, nil
}

// CreateGroup opens a group conversation. The creator is always a member.
func (s *Service) CreateGroup(ctx context.Context, name, creator string, members []string) (*models.Conversation, error) {
	if strings.TrimSpace(name) == "" {
		return nil, bridgeerr.E(bridgeerr.InvalidOperation, "conversation name is required")
	}
	all := append([]string{creator}, members...)
	seen := make(map[string]bool, len(all))
	var uniq []string
	for _, m := range all {
		if !seen[m] {
			seen[m] = true
			uniq = append(uniq, m)
		}
	}
	conv := &models.Conversation{
		ConversationID: uuid.NewString(),
		Name:           name,
		Type:           models.ConversationGroup,
		CreatedBy:      creator,
		Members:        uniq,
	}
	if err := s.st.CreateConversation(ctx, conv); err != nil {
		return nil, internalErr(err)
	}
	conv.MemberCount = len(uniq)
	return conv, nil
}

// Post appends a message to a conversation the sender belongs to.
func (s *Service) Post(ctx context.Context, conversationID, sender, content string) (*models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, bridgeerr.E(bridgeerr.InvalidOperation, "message content is required")
	}
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	ok, err := s.st.IsMember(ctx, conv.ConversationID, sender)
	if err != nil {
		return nil, internalErr(err)
	}
	if !ok {
		return nil, bridgeerr.E(bridgeerr.Forbidden, "%s is not a member of conversation %s", sender, conversationID)
	}
	m := &models.Message{
		MessageID:      uuid.NewString(),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
	}
	if err := s.st.CreateMessage(ctx, m); err != nil {
		return nil, internalErr(err)
	}
	return m, nil
}

func (s *Service) Join(ctx context.Context, conversationID, agent string) (*models.Conversation, error) {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Type == models.ConversationDM {
		return nil, bridgeerr.E(bridgeerr.InvalidOperation, "cannot join a direct conversation")
	}
	if err := s.st.AddMember(ctx, conversationID, agent); err != nil {
		return nil, internalErr(err)
	}
	return s.getConversation(ctx, conversationID)
}

// Invite adds another agent to a group conversation. Only members may
// invite, and the invitee must be registered.
func (s *Service) Invite(ctx context.Context, conversationID, inviter, invitee string) (*models.Conversation, error) {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Type == models.ConversationDM {
		return nil, bridgeerr.E(bridgeerr.InvalidOperation, "cannot invite to a direct conversation")
	}
	ok, err := s.st.IsMember(ctx, conversationID, inviter)
	if err != nil {
		return nil, internalErr(err)
	}
	if !ok {
		return nil, bridgeerr.E(bridgeerr.Forbidden, "%s is not a member of conversation %s", inviter, conversationID)
	}
	a, err := s.st.GetAgent(ctx, invitee)
	if err != nil {
		return nil, internalErr(err)
	}
	if a == nil {
		return nil, bridgeerr.E(bridgeerr.NotFound, "agent %q not found", invitee)
	}
	if err := s.st.AddMember(ctx, conversationID, invitee); err != nil {
		return nil, internalErr(err)
	}
	return s.getConversation(ctx, conversationID)
}

func (s *Service) Leave(ctx context.Context, conversationID, agent string) error {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Type == models.ConversationDM {
		return bridgeerr.E(bridgeerr.InvalidOperation, "cannot leave a direct conversation")
	}
	ok, err := s.st.IsMember(ctx, conversationID, agent)
	if err != nil {
		return internalErr(err)
	}
	if !ok {
		return bridgeerr.E(bridgeerr.NotFound, "%s is not a member of conversation %s", agent, conversationID)
	}
	if err := s.st.RemoveMember(ctx, conversationID, agent); err != nil {
		return internalErr(err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, conversationID string) (*models.Conversation, error) {
	return s.getConversation(ctx, conversationID)
}

func (s *Service) List(ctx context.Context, member string) ([]models.Conversation, error) {
	out, err := s.st.ListConversations(ctx, member)
	if err != nil {
		return nil, internalErr(err)
	}
	return out, nil
}

// Messages returns a member's view of a conversation, oldest first.
func (s *Service) Messages(ctx context.Context, conversationID, agent string, limit int, before time.Time) ([]models.Message, error) {
	if _, err := s.getConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	ok, err := s.st.IsMember(ctx, conversationID, agent)
	if err != nil {
		return nil, internalErr(err)
	}
	if !ok {
		return nil, bridgeerr.E(bridgeerr.Forbidden, "%s is not a member of conversation %s", agent, conversationID)
	}
	out, err := s.st.ListConversationMessages(ctx, conversationID, limit, before)
	if err != nil {
		return nil, internalErr(err)
	}
	return out, nil
}

// Browse returns a conversation with its messages, skipping the membership
// check. It backs the public read-only browse endpoints.
func (s *Service) Browse(ctx context.Context, conversationID string, limit int) (*models.Conversation, []models.Message, error) {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.st.ListConversationMessages(ctx, conversationID, limit, time.Time{})
	if err != nil {
		return nil, nil, internalErr(err)
	}
	return conv, msgs, nil
}

// Inbox lists unread messages from others in the agent's conversations.
func (s *Service) Inbox(ctx context.Context, agent string, since time.Time, limit int) ([]models.Message, error) {
	out, err := s.st.Inbox(ctx, agent, since, limit)
	if err != nil {
		return nil, internalErr(err)
	}
	return out, nil
}

// MarkRead flags one message as read; unknown ids fail with NotFound.
func (s *Service) MarkRead(ctx context.Context, messageID string) error {
	ok, err := s.st.MarkMessageRead(ctx, messageID)
	if err != nil {
		return internalErr(err)
	}
	if !ok {
		return bridgeerr.E(bridgeerr.NotFound, "message %s not found", messageID)
	}
	return nil
}

// History returns the agent's most recent messages, oldest first. A
// non-empty peer narrows it to the direct traffic between the pair.
func (s *Service) History(ctx context.Context, agent, peer string, limit int) ([]models.Message, error) {
	out, err := s.st.History(ctx, agent, peer, limit)
	if err != nil {
		return nil, internalErr(err)
	}
	return out, nil
}

func (s *Service) getConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	conv, err := s.st.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, internalErr(err)
	}
	if conv == nil {
		return nil, bridgeerr.E(bridgeerr.NotFound, "conversation %s not found", conversationID)
	}
	return conv, nil
}

func internalErr(err error) error {
	return bridgeerr.Wrap(bridgeerr.Internal, err, "storage failure")
}
