package ws

import (
	"context"
	"fmt"
	"testing"

	"github.com/agrilink/internal/chat"
	"github.com/agrilink/internal/model"
	"github.com/agrilink/internal/moderation"
)

type fakeChat struct {
	calls []string
	err   error
}

func (f *fakeChat) record(s string) error {
	f.calls = append(f.calls, s)
	return f.err
}

func (f *fakeChat) Send(_ context.Context, senderID string, req chat.SendRequest) (model.Message, error) {
	return model.Message{}, f.record("send " + senderID + "->" + req.ReceiverID + " " + req.Text)
}

func (f *fakeChat) SendOffer(_ context.Context, senderID, receiverID string, price, qty float64) (model.Message, error) {
	return model.Message{}, f.record(fmt.Sprintf("offer %s->%s %g/%g", senderID, receiverID, price, qty))
}

func (f *fakeChat) AcceptOffer(_ context.Context, userID, messageID string) (model.Message, error) {
	return model.Message{}, f.record("accept " + userID + " " + messageID)
}

func (f *fakeChat) MarkRead(_ context.Context, userID, messageID string) error {
	return f.record("read " + userID + " " + messageID)
}

func (f *fakeChat) MarkThreadRead(_ context.Context, userID, partnerID string) (int, error) {
	return 0, f.record("thread-read " + userID + " " + partnerID)
}

func (f *fakeChat) DeleteForMe(_ context.Context, userID, messageID string) error {
	return f.record("delete-me " + userID + " " + messageID)
}

func (f *fakeChat) DeleteForEveryone(_ context.Context, userID, messageID string) error {
	return f.record("delete-all " + userID + " " + messageID)
}

// drain забирает всё, что успело попасть в буфер клиента.
func drain(c *Client) []OutgoingMessage {
	var out []OutgoingMessage
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestHandleMessageDispatch(t *testing.T) {
	fc := &fakeChat{}
	h := NewHub(fc, 0)
	c := NewClient(h, nil, "u2")
	ctx := context.Background()

	for _, msg := range []IncomingMessage{
		{Type: EventSendMessage, ReceiverID: "u1", Text: "hi"},
		{Type: EventSendOffer, ReceiverID: "u1", PricePerKg: 25, QuantityKg: 100},
		{Type: EventAcceptOffer, MessageID: "m1"},
		{Type: EventMarkRead, MessageID: "m2"},
		{Type: EventMarkThreadRead, PartnerID: "u1"},
		{Type: EventDeleteMessage, MessageID: "m3"},
		{Type: EventDeleteMessage, MessageID: "m4", Scope: DeleteForEveryone},
	} {
		h.HandleMessage(ctx, c, msg)
	}
	want := []string{
		"send u2->u1 hi",
		"offer u2->u1 25/100",
		"accept u2 m1",
		"read u2 m2",
		"thread-read u2 u1",
		"delete-me u2 m3",
		"delete-all u2 m4",
	}
	if fmt.Sprint(fc.calls) != fmt.Sprint(want) {
		t.Fatalf("calls = %v\nwant %v", fc.calls, want)
	}
	if got := drain(c); len(got) != 0 {
		t.Fatalf("unexpected replies: %+v", got)
	}
}

func TestHandleMessageErrors(t *testing.T) {
	fc := &fakeChat{err: fmt.Errorf("chat.Send: %w", moderation.ErrRejected)}
	h := NewHub(fc, 0)
	c := NewClient(h, nil, "u2")

	h.HandleMessage(context.Background(), c, IncomingMessage{Type: EventSendMessage, ReceiverID: "u1", Text: "scam"})
	h.HandleMessage(context.Background(), c, IncomingMessage{Type: "bogus"})
	got := drain(c)
	if len(got) != 2 {
		t.Fatalf("replies = %+v", got)
	}
	if got[0].Type != EventError || got[0].Payload != "Message blocked: contains inappropriate content." {
		t.Fatalf("moderation reply = %+v", got[0])
	}
	if got[1].Payload != "unknown event type" {
		t.Fatalf("unknown reply = %+v", got[1])
	}
}

func TestPresenceAndRouting(t *testing.T) {
	h := NewHub(&fakeChat{}, 0)
	farmer := NewClient(h, nil, "u1")
	buyer := NewClient(h, nil, "u2")
	buyerTab := NewClient(h, nil, "u2")

	h.addClient(farmer)
	h.addClient(buyer)
	if got := drain(farmer); len(got) != 1 || got[0].Type != EventUserOnline {
		t.Fatalf("farmer saw %+v", got)
	}
	h.addClient(buyerTab)
	if got := drain(farmer); len(got) != 0 {
		t.Fatalf("second tab re-announced presence: %+v", got)
	}
	if !h.Online("u2") || h.Online("u3") {
		t.Fatal("Online mismatch")
	}

	h.PublishMessage(model.Message{ID: "m1", SenderID: "u2", ReceiverID: "u1", Text: "hi"})
	for name, c := range map[string]*Client{"farmer": farmer, "buyer": buyer, "buyerTab": buyerTab} {
		if got := drain(c); len(got) != 1 || got[0].Type != EventNewMessage {
			t.Fatalf("%s got %+v", name, got)
		}
	}

	h.PublishMessageUpdate(model.Message{ID: "m1"}, "u2")
	if got := drain(farmer); len(got) != 0 {
		t.Fatalf("per-viewer update leaked to farmer: %+v", got)
	}
	if got := drain(buyer); len(got) != 1 || got[0].Type != EventMessageUpdated {
		t.Fatalf("buyer got %+v", got)
	}
	drain(buyerTab)

	h.HandleMessage(context.Background(), buyer, IncomingMessage{Type: EventTyping, PartnerID: "u1"})
	if got := drain(farmer); len(got) != 1 || got[0].Type != EventTyping {
		t.Fatalf("typing not delivered: %+v", got)
	}

	h.BroadcastChanged("agri_messages")
	for _, c := range []*Client{farmer, buyer, buyerTab} {
		if got := drain(c); len(got) != 1 || got[0].Type != EventMessagesChanged {
			t.Fatalf("%s got %+v", c.userID, got)
		}
	}
}
