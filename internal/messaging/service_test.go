package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/dylanneve1/agent-bridge/internal/bridgeerr"
	"github.com/dylanneve1/agent-bridge/internal/store"
	"github.com/dylanneve1/agent-bridge/pkg/models"
)

func newTestService(t *testing.T, agents ...string) *Service {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()
	for _, a := range agents {
		if _, err := st.CreateAgent(ctx, a, "key-"+a); err != nil {
			t.Fatalf("CreateAgent %s: %v", a, err)
		}
	}
	return NewService(st)
}

func wantKind(t *testing.T, err error, kind bridgeerr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := bridgeerr.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}

func TestSendDMCreatesConversationOnce(t *testing.T) {
	t.Parallel()
	s := newTestService(t, "alice", "bob")
	ctx := context.Background()

	m1, err := s.SendDM(ctx, "alice", "bob", "hi")
	if err != nil {
		t.Fatalf("SendDM: %v", err)
	}
	m2, err := s.SendDM(ctx, "bob", "alice", "hello back")
	if err != nil {
		t.Fatalf("SendDM reply: %v", err)
	}
	if m1.ConversationID != m2.ConversationID {
		t.Fatalf("dm pair got two conversations: %s vs %s", m1.ConversationID, m2.ConversationID)
	}

	convs, err := s.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(convs) != 1 || convs[0].Type != models.ConversationDM || convs[0].MessageCount != 2 {
		t.Fatalf("conversations = %+v", convs)
	}
}

func TestSendDMValidation(t *testing.T) {
	t.Parallel()
	s := newTestService(t, "alice")
	ctx := context.Background()

	_, err := s.SendDM(ctx, "alice", "ghost", "hi")
	wantKind(t, err, bridgeerr.NotFound)

	_, err = s.SendDM(ctx, "alice", "alice", "hi me")
	wantKind(t, err, bridgeerr.InvalidOperation)

	_, err = s.SendDM(ctx, "alice", "alice2", "   ")
	wantKind(t, err, bridgeerr.InvalidOperation)
}

func TestGroupLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestService(t, "alice", "bob", "carol")
	ctx := context.Background()

	conv, err := s.CreateGroup(ctx, "planning", "alice", []string{"bob", "alice"})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if conv.MemberCount != 2 {
		t.Fatalf("creator duplicated: %+v", conv)
	}

	if _, err := s.Post(ctx, conv.ConversationID, "bob", "kickoff"); err != nil {
		t.Fatalf("Post: %v", err)
	}
	_, err = s.Post(ctx, conv.ConversationID, "carol", "let me in")
	wantKind(t, err, bridgeerr.Forbidden)

	if _, err := s.Join(ctx, conv.ConversationID, "carol"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := s.Post(ctx, conv.ConversationID, "carol", "hi all"); err != nil {
		t.Fatalf("Post after join: %v", err)
	}

	msgs, err := s.Messages(ctx, conv.ConversationID, "carol", 0, time.Time{})
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d", len(msgs))
	}

	if err := s.Leave(ctx, conv.ConversationID, "carol"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	_, err = s.Messages(ctx, conv.ConversationID, "carol", 0, time.Time{})
	wantKind(t, err, bridgeerr.Forbidden)

	wantKind(t, s.Leave(ctx, conv.ConversationID, "carol"), bridgeerr.NotFound)
}

func TestInvite(t *testing.T) {
	t.Parallel()
	s := newTestService(t, "alice", "bob", "carol")
	ctx := context.Background()

	conv, err := s.CreateGroup(ctx, "planning", "alice", nil)
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	// Non-members cannot invite.
	_, err = s.Invite(ctx, conv.ConversationID, "bob", "carol")
	wantKind(t, err, bridgeerr.Forbidden)

	// Unknown invitee.
	_, err = s.Invite(ctx, conv.ConversationID, "alice", "mallory")
	wantKind(t, err, bridgeerr.NotFound)

	got, err := s.Invite(ctx, conv.ConversationID, "alice", "bob")
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if got.MemberCount != 2 {
		t.Fatalf("members after invite: %+v", got)
	}
	if _, err := s.Post(ctx, conv.ConversationID, "bob", "thanks"); err != nil {
		t.Fatalf("Post after invite: %v", err)
	}
}

func TestDMConversationIsClosed(t *testing.T) {
	t.Parallel()
	s := newTestService(t, "alice", "bob", "carol")
	ctx := context.Background()

	m, err := s.SendDM(ctx, "alice", "bob", "private")
	if err != nil {
		t.Fatalf("SendDM: %v", err)
	}

	_, err = s.Join(ctx, m.ConversationID, "carol")
	wantKind(t, err, bridgeerr.InvalidOperation)
	wantKind(t, s.Leave(ctx, m.ConversationID, "alice"), bridgeerr.InvalidOperation)
}

func TestInboxAndMarkRead(t *testing.T) {
	t.Parallel()
	s := newTestService(t, "alice", "bob")
	ctx := context.Background()

	m, err := s.SendDM(ctx, "alice", "bob", "unread")
	if err != nil {
		t.Fatalf("SendDM: %v", err)
	}

	inbox, err := s.Inbox(ctx, "bob", time.Time{}, 0)
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}
	if len(inbox) != 1 || inbox[0].MessageID != m.MessageID {
		t.Fatalf("inbox = %+v", inbox)
	}
	// Sender's own message does not appear in their inbox.
	senderInbox, err := s.Inbox(ctx, "alice", time.Time{}, 0)
	if err != nil {
		t.Fatalf("Inbox sender: %v", err)
	}
	if len(senderInbox) != 0 {
		t.Fatalf("sender inbox = %+v", senderInbox)
	}

	if err := s.MarkRead(ctx, m.MessageID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	wantKind(t, s.MarkRead(ctx, "missing"), bridgeerr.NotFound)

	inbox, _ = s.Inbox(ctx, "bob", time.Time{}, 0)
	if len(inbox) != 0 {
		t.Fatalf("inbox after read = %+v", inbox)
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()
	s := newTestService(t, "alice", "bob")
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		if _, err := s.SendDM(ctx, "alice", "bob", text); err != nil {
			t.Fatalf("SendDM %s: %v", text, err)
		}
	}
	hist, err := s.History(ctx, "bob", "alice", 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history = %d", len(hist))
	}
}

func TestHistoryWithoutPeer(t *testing.T) {
	t.Parallel()
	s := newTestService(t, "alice", "bob", "carol")
	ctx := context.Background()

	if _, err := s.SendDM(ctx, "alice", "bob", "to bob"); err != nil {
		t.Fatalf("SendDM: %v", err)
	}
	if _, err := s.SendDM(ctx, "carol", "alice", "to alice"); err != nil {
		t.Fatalf("SendDM: %v", err)
	}
	if _, err := s.SendDM(ctx, "bob", "carol", "no alice here"); err != nil {
		t.Fatalf("SendDM: %v", err)
	}

	// No peer: everything alice sent or received, across all her peers.
	hist, err := s.History(ctx, "alice", "", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history = %d messages", len(hist))
	}
	for _, m := range hist {
		if m.Sender != "alice" && (m.Recipient == nil || *m.Recipient != "alice") {
			t.Fatalf("foreign message in history: %+v", m)
		}
	}
}
