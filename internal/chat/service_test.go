package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agrilink/internal/config"
	"github.com/agrilink/internal/model"
	"github.com/agrilink/internal/moderation"
	"github.com/agrilink/internal/repository"
	"github.com/agrilink/internal/storage/memory"
)

type stubAdvisor struct {
	history string
}

func (a *stubAdvisor) Mediate(_ context.Context, history string) string {
	a.history = history
	return "Meet at ₹22/kg."
}

func (a *stubAdvisor) Negotiate(_ context.Context, history string) string {
	return "Offer 5% less."
}

type recNotifier struct {
	mu   sync.Mutex
	sent []model.Notification
}

func (r *recNotifier) Notify(_ context.Context, userID string, typ model.NotificationType, text, ref string) (model.Notification, error) {
	n := model.Notification{UserID: userID, Type: typ, Text: text, ReferenceID: ref}
	r.mu.Lock()
	r.sent = append(r.sent, n)
	r.mu.Unlock()
	return n, nil
}

type recPublisher struct {
	mu      sync.Mutex
	created []model.Message
	updated []model.Message
}

func (p *recPublisher) PublishMessage(m model.Message) {
	p.mu.Lock()
	p.created = append(p.created, m)
	p.mu.Unlock()
}

func (p *recPublisher) PublishMessageUpdate(m model.Message, _ ...string) {
	p.mu.Lock()
	p.updated = append(p.updated, m)
	p.mu.Unlock()
}

type fixture struct {
	svc      *Service
	msgs     *repository.MessageRepository
	pub      *recPublisher
	notifier *recNotifier
	advisor  *stubAdvisor
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.UnixMilli(1_700_000_000_000)}
	kv := memory.New()
	f.msgs = repository.NewMessageRepository(kv).WithClock(func() time.Time { return f.now })
	fb := repository.NewFeedbackRepository(kv)
	ctx := context.Background()
	if err := f.msgs.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := fb.Load(ctx); err != nil {
		t.Fatalf("Load feedback: %v", err)
	}
	f.pub = &recPublisher{}
	f.notifier = &recNotifier{}
	f.advisor = &stubAdvisor{}
	users := repository.NewUserDirectory(config.DefaultUsers())
	f.svc = NewService(f.msgs, users, fb, moderation.NewFilter(nil), f.notifier, f.advisor,
		Config{DeleteWindow: 2 * time.Minute, MediatorHistory: 10}).
		WithPublisher(f.pub).
		WithClock(func() time.Time { return f.now })
	return f
}

func TestSendRejectsBannedWords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, "u2", SendRequest{ReceiverID: "u1", Text: "This is a SCAM"})
	if !errors.Is(err, moderation.ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if n := len(f.msgs.All()); n != 0 {
		t.Fatalf("rejected message stored: %d", n)
	}

	m, err := f.svc.Send(ctx, "u2", SendRequest{ReceiverID: "u1", Text: "Great tomatoes!"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if m.Payload == nil || m.Payload.Kind != model.PayloadText {
		t.Fatalf("payload = %+v, want text", m.Payload)
	}
	if len(f.pub.created) != 1 {
		t.Fatalf("published %d messages, want 1", len(f.pub.created))
	}
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []SendRequest{
		{ReceiverID: "u1", Text: "   "},
		{ReceiverID: "u2", Text: "self"},
		{ReceiverID: "", Text: "nobody"},
		{ReceiverID: "u1", Attachment: &model.Attachment{Kind: "sticker", URL: "x"}},
	}
	for _, req := range cases {
		if _, err := f.svc.Send(ctx, "u2", req); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Send(%+v) err = %v, want ErrInvalidInput", req, err)
		}
	}
	if _, err := f.svc.Send(ctx, "u2", SendRequest{ReceiverID: "ghost", Text: "hi"}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("unknown receiver err = %v", err)
	}
}

func TestSendAttachmentDefaultText(t *testing.T) {
	f := newFixture(t)
	m, err := f.svc.Send(context.Background(), "u1", SendRequest{
		ReceiverID: "u2",
		Attachment: &model.Attachment{Kind: model.AttachmentImage, URL: "/files/tomato.jpg"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if m.Text != PhotoText {
		t.Fatalf("text = %q, want %q", m.Text, PhotoText)
	}
}

func TestOfferRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	offer, err := f.svc.SendOffer(ctx, "u2", "u1", 25, 100)
	if err != nil {
		t.Fatalf("SendOffer: %v", err)
	}
	if offer.Text != "OFFER: I propose ₹25/kg for 100 kg." {
		t.Fatalf("offer text = %q", offer.Text)
	}
	if offer.Payload.Kind != model.PayloadOffer || offer.Payload.PricePerKg != 25 || offer.Payload.QuantityKg != 100 {
		t.Fatalf("offer payload = %+v", offer.Payload)
	}

	if _, err := f.svc.AcceptOffer(ctx, "u2", offer.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("sender accept err = %v, want ErrForbidden", err)
	}
	acc, err := f.svc.AcceptOffer(ctx, "u1", offer.ID)
	if err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	if acc.Text != "Accepted: OFFER: I propose ₹25/kg for 100 kg." {
		t.Fatalf("acceptance text = %q", acc.Text)
	}
	if acc.SenderID != "u1" || acc.ReceiverID != "u2" {
		t.Fatalf("acceptance direction %s -> %s", acc.SenderID, acc.ReceiverID)
	}

	if _, err := f.svc.SendOffer(ctx, "u2", "u1", 0, 100); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero price err = %v", err)
	}
}

func TestMediateUsesRecentHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		from, to := "u1", "u2"
		if i%2 == 1 {
			from, to = to, from
		}
		f.now = f.now.Add(time.Second)
		if _, err := f.svc.Send(ctx, from, SendRequest{ReceiverID: to, Text: "line " + string(rune('a'+i))}); err != nil {
			t.Fatal(err)
		}
	}

	m, err := f.svc.Mediate(ctx, "u2", "u1")
	if err != nil {
		t.Fatalf("Mediate: %v", err)
	}
	if m.Text != "🤖 AI Mediator: Meet at ₹22/kg." || m.Payload.Kind != model.PayloadMediator {
		t.Fatalf("mediator message = %q %+v", m.Text, m.Payload)
	}
	lines := strings.Split(f.advisor.history, "\n")
	if len(lines) != 10 {
		t.Fatalf("history has %d lines, want 10", len(lines))
	}
	if lines[0] != "farmer: line c" || lines[9] != "Me: line l" {
		t.Fatalf("history = %q", f.advisor.history)
	}
}

func TestShareLocation(t *testing.T) {
	f := newFixture(t)
	m, err := f.svc.ShareLocation(context.Background(), "u1", "u2", 12.5, 76.9)
	if err != nil {
		t.Fatalf("ShareLocation: %v", err)
	}
	if m.Text != LocationText || m.Attachment == nil || m.Attachment.URL != "https://www.google.com/maps?q=12.5,76.9" {
		t.Fatalf("location message = %+v %+v", m, m.Attachment)
	}
	if _, err := f.svc.ShareLocation(context.Background(), "u1", "u2", 91, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad latitude err = %v", err)
	}
}

func TestDeleteForEveryoneWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.svc.Send(ctx, "u1", SendRequest{ReceiverID: "u2", Text: "typo"})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.svc.DeleteForEveryone(ctx, "u2", m.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("receiver delete err = %v, want ErrForbidden", err)
	}

	f.now = f.now.Add(2 * time.Minute)
	if err := f.svc.DeleteForEveryone(ctx, "u1", m.ID); !errors.Is(err, ErrDeleteWindow) {
		t.Fatalf("late delete err = %v, want ErrDeleteWindow", err)
	}

	m2, err := f.svc.Send(ctx, "u1", SendRequest{ReceiverID: "u2", Text: "oops"})
	if err != nil {
		t.Fatal(err)
	}
	f.now = f.now.Add(119 * time.Second)
	if err := f.svc.DeleteForEveryone(ctx, "u1", m2.ID); err != nil {
		t.Fatalf("DeleteForEveryone: %v", err)
	}
	for _, viewer := range []string{"u1", "u2"} {
		thread := f.svc.Thread(viewer, f.otherOf(viewer))
		last := thread[len(thread)-1]
		if !last.IsDeletedForEveryone || last.Text != model.DeletedPlaceholder {
			t.Fatalf("%s sees %+v", viewer, last)
		}
	}
	if err := f.svc.DeleteForEveryone(ctx, "u1", m2.ID); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
}

func (f *fixture) otherOf(id string) string {
	if id == "u1" {
		return "u2"
	}
	return "u1"
}

func TestDeleteForMeIsPerViewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.svc.Send(ctx, "u1", SendRequest{ReceiverID: "u2", Text: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.DeleteForMe(ctx, "owner1", m.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("outsider err = %v", err)
	}
	if err := f.svc.DeleteForMe(ctx, "u2", m.ID); err != nil {
		t.Fatalf("DeleteForMe: %v", err)
	}
	if n := len(f.svc.Thread("u2", "u1")); n != 0 {
		t.Fatalf("u2 still sees %d messages", n)
	}
	if n := len(f.svc.Thread("u1", "u2")); n != 1 {
		t.Fatalf("u1 sees %d messages, want 1", n)
	}
}

func TestReadReceipts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.svc.Send(ctx, "u1", SendRequest{ReceiverID: "u2", Text: "fresh stock"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Send(ctx, "u1", SendRequest{ReceiverID: "u2", Text: "today only"}); err != nil {
		t.Fatal(err)
	}
	if got := f.svc.Unread("u2"); got != 2 {
		t.Fatalf("unread = %d, want 2", got)
	}
	if err := f.svc.MarkRead(ctx, "u1", m.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("sender MarkRead err = %v", err)
	}
	if err := f.svc.MarkRead(ctx, "u2", m.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	n, err := f.svc.MarkThreadRead(ctx, "u2", "u1")
	if err != nil || n != 1 {
		t.Fatalf("MarkThreadRead = %d, %v; want 1", n, err)
	}
	if got := f.svc.Unread("u2"); got != 0 {
		t.Fatalf("unread after read = %d", got)
	}
	chats := f.svc.Chats("u2")
	if len(chats) != 1 || chats[0].Partner == nil || chats[0].Partner.Name != "farmer" {
		t.Fatalf("chats = %+v", chats)
	}
}

func TestLeaveFeedbackNotifiesFarmer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.LeaveFeedback(ctx, "u1", FeedbackRequest{FarmerID: "u1", Rating: 5}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("farmer feedback err = %v", err)
	}
	if _, err := f.svc.LeaveFeedback(ctx, "u2", FeedbackRequest{FarmerID: "u1", Rating: 6}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("rating 6 err = %v", err)
	}

	fb, err := f.svc.LeaveFeedback(ctx, "u2", FeedbackRequest{FarmerID: "u1", Rating: 4, Comment: "Very fresh onions, delivered on time"})
	if err != nil {
		t.Fatalf("LeaveFeedback: %v", err)
	}
	if fb.BuyerName != "Ram" || fb.ID == "" {
		t.Fatalf("feedback = %+v", fb)
	}
	if len(f.notifier.sent) != 1 {
		t.Fatalf("notifications = %d", len(f.notifier.sent))
	}
	n := f.notifier.sent[0]
	want := `New 4★ review from Ram: "Very fresh onions, d..."`
	if n.UserID != "u1" || n.Type != model.NotificationFeedback || n.Text != want {
		t.Fatalf("notification = %+v, want text %q", n, want)
	}
	list, avg := f.svc.Feedback("u1")
	if len(list) != 1 || avg != 4 {
		t.Fatalf("Feedback = %d items avg %v", len(list), avg)
	}
}
