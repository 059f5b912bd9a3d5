package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"PropChat/module/chat/api"
	"PropChat/module/chat/store"
	"PropChat/tools/errs"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type recordedPublish struct {
	chatID string
	msg    api.Message
	ex     api.Exclude
}

type fakeBroadcaster struct {
	mu  sync.Mutex
	got []recordedPublish
}

func (f *fakeBroadcaster) Publish(_ context.Context, chatID string, msg api.Message, ex api.Exclude) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, recordedPublish{chatID: chatID, msg: msg, ex: ex})
}

type fakeSink struct {
	mu     sync.Mutex
	events []api.ChatEvent
}

func (f *fakeSink) Emit(ev api.ChatEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

type failingDirectory struct{}

func (failingDirectory) UserNames(context.Context, []primitive.ObjectID) (map[primitive.ObjectID]string, error) {
	return nil, errors.New("directory down")
}

func (failingDirectory) PropertyTitles(context.Context, []primitive.ObjectID) (map[primitive.ObjectID]string, error) {
	return nil, errors.New("directory down")
}

type fixture struct {
	mem                *store.Memory
	svc                *Service
	bc                 *fakeBroadcaster
	sink               *fakeSink
	buyer, owner, prop primitive.ObjectID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		mem:   store.NewMemory(),
		bc:    &fakeBroadcaster{},
		sink:  &fakeSink{},
		buyer: primitive.NewObjectID(),
		owner: primitive.NewObjectID(),
		prop:  primitive.NewObjectID(),
	}
	f.mem.AddUser(f.buyer, "alice")
	f.mem.AddUser(f.owner, "bob")
	f.mem.AddProperty(f.prop, "Sea view flat")
	f.svc = New(f.mem, f.mem, WithEventSink(f.sink))
	f.svc.AttachBroadcaster(f.bc)
	return f
}

func (f *fixture) start(t *testing.T) string {
	t.Helper()
	res, err := f.svc.ResolveOrCreate(context.Background(), f.buyer.Hex(), f.owner.Hex(), f.prop.Hex())
	if err != nil {
		t.Fatalf("ResolveOrCreate() error = %v", err)
	}
	return res.ID
}

func TestResolveOrCreateOrderInsensitive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.ResolveOrCreate(ctx, f.buyer.Hex(), f.owner.Hex(), f.prop.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if !first.Created {
		t.Fatal("first resolve should create the chat")
	}
	second, err := f.svc.ResolveOrCreate(ctx, f.owner.Hex(), f.buyer.Hex(), f.prop.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID || second.Created {
		t.Fatalf("reversed resolve = %+v, want %s without create", second, first.ID)
	}

	// 不同房源是另一个会话
	other, err := f.svc.ResolveOrCreate(ctx, f.buyer.Hex(), f.owner.Hex(), primitive.NewObjectID().Hex())
	if err != nil {
		t.Fatal(err)
	}
	if other.ID == first.ID {
		t.Fatal("different listing must resolve to a different chat")
	}

	if len(f.sink.events) != 2 || f.sink.events[0].Type != api.EventConversationCreated {
		t.Fatalf("events = %+v, want two conversation.created", f.sink.events)
	}
	if got := f.sink.events[0].Participants; len(got) != 2 || got[0] != f.buyer.Hex() {
		t.Fatalf("participants = %v", got)
	}
}

func TestResolveOrCreateConcurrent(t *testing.T) {
	f := newFixture(t)
	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := f.buyer, f.owner
			if i%2 == 1 {
				a, b = b, a
			}
			res, err := f.svc.ResolveOrCreate(context.Background(), a.Hex(), b.Hex(), f.prop.Hex())
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = res.ID
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent resolves diverged: %s vs %s", ids[i], ids[0])
		}
	}
}

func TestResolveOrCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tests := []struct {
		name                   string
		initiator, other, prop string
		want                   errs.CodeError
	}{
		{"bad initiator", "nope", f.owner.Hex(), f.prop.Hex(), errs.ErrInvalidReference},
		{"bad counterparty", f.buyer.Hex(), "", f.prop.Hex(), errs.ErrInvalidReference},
		{"bad property", f.buyer.Hex(), f.owner.Hex(), "123", errs.ErrInvalidReference},
		{"same user", f.buyer.Hex(), f.buyer.Hex(), f.prop.Hex(), errs.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ResolveOrCreate(ctx, tt.initiator, tt.other, tt.prop)
			if !tt.want.Is(err) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if errs.HTTPStatus(err) != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", errs.HTTPStatus(err))
			}
		})
	}
}

func TestAppendMessage(t *testing.T) {
	f := newFixture(t)
	chatID := f.start(t)

	msg, err := f.svc.AppendMessage(context.Background(), AppendInput{
		ChatID:     chatID,
		SenderID:   f.buyer.Hex(),
		Content:    "  Is it still available?  ",
		OriginConn: "c-1",
	})
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if msg.Content != "Is it still available?" || msg.Seq != 1 || msg.ChatID != chatID {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.Sender.ID != f.buyer.Hex() || msg.Sender.Username != "alice" {
		t.Fatalf("sender = %+v", msg.Sender)
	}

	if len(f.bc.got) != 1 {
		t.Fatalf("published %d, want 1", len(f.bc.got))
	}
	pub := f.bc.got[0]
	if pub.chatID != chatID || pub.msg.ID != msg.ID {
		t.Fatalf("published %+v", pub)
	}
	if pub.ex.ConnID != "c-1" {
		t.Fatalf("exclude = %+v, want only the origin connection", pub.ex)
	}

	last := f.sink.events[len(f.sink.events)-1]
	if last.Type != api.EventMessageAppended || last.Message == nil || last.Message.ID != msg.ID {
		t.Fatalf("last event = %+v", last)
	}
}

func TestAppendMessageErrors(t *testing.T) {
	f := newFixture(t)
	chatID := f.start(t)
	stranger := primitive.NewObjectID().Hex()

	tests := []struct {
		name   string
		in     AppendInput
		want   errs.CodeError
		status int
	}{
		{"bad chat id", AppendInput{ChatID: "x", SenderID: f.buyer.Hex(), Content: "hi"}, errs.ErrInvalidReference, 400},
		{"bad sender id", AppendInput{ChatID: chatID, SenderID: "x", Content: "hi"}, errs.ErrInvalidReference, 400},
		{"missing chat", AppendInput{ChatID: primitive.NewObjectID().Hex(), SenderID: f.buyer.Hex(), Content: "hi"}, errs.ErrNotFound, 404},
		{"stranger", AppendInput{ChatID: chatID, SenderID: stranger, Content: "hi"}, errs.ErrForbidden, 403},
		{"stranger with empty content", AppendInput{ChatID: chatID, SenderID: stranger, Content: "   "}, errs.ErrForbidden, 403},
		{"empty content", AppendInput{ChatID: chatID, SenderID: f.owner.Hex(), Content: " \n\t"}, errs.ErrInvalidArgument, 400},
		{"bad reply", AppendInput{ChatID: chatID, SenderID: f.owner.Hex(), Content: "ok", ReplyTo: "zz"}, errs.ErrInvalidReference, 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AppendMessage(context.Background(), tt.in)
			if !tt.want.Is(err) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if got := errs.HTTPStatus(err); got != tt.status {
				t.Fatalf("status = %d, want %d", got, tt.status)
			}
		})
	}

	if len(f.bc.got) != 0 {
		t.Fatalf("failed appends must not broadcast, got %d", len(f.bc.got))
	}
	th, err := f.svc.ListMessages(context.Background(), chatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(th.Messages) != 0 {
		t.Fatalf("failed appends must not persist, got %d", len(th.Messages))
	}
}

func TestAppendMessageTooLong(t *testing.T) {
	mem := store.NewMemory()
	svc := New(mem, mem, WithMaxContentLen(5))
	a, b, p := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()
	res, err := svc.ResolveOrCreate(context.Background(), a.Hex(), b.Hex(), p.Hex())
	if err != nil {
		t.Fatal(err)
	}
	_, err = svc.AppendMessage(context.Background(), AppendInput{ChatID: res.ID, SenderID: a.Hex(), Content: "héllo!"})
	if !errs.ErrInvalidArgument.Is(err) {
		t.Fatalf("error = %v, want InvalidArgument", err)
	}
	if _, err := svc.AppendMessage(context.Background(), AppendInput{ChatID: res.ID, SenderID: a.Hex(), Content: "héllo"}); err != nil {
		t.Fatalf("five runes should fit: %v", err)
	}
}

func TestAppendMessageConcurrent(t *testing.T) {
	f := newFixture(t)
	chatID := f.start(t)

	var wg sync.WaitGroup
	for _, sender := range []primitive.ObjectID{f.buyer, f.owner} {
		wg.Add(1)
		go func(sender primitive.ObjectID) {
			defer wg.Done()
			_, err := f.svc.AppendMessage(context.Background(), AppendInput{ChatID: chatID, SenderID: sender.Hex(), Content: "hello"})
			if err != nil {
				t.Error(err)
			}
		}(sender)
	}
	wg.Wait()

	th, err := f.svc.ListMessages(context.Background(), chatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(th.Messages) != 2 {
		t.Fatalf("got %d messages, want both appends persisted", len(th.Messages))
	}
	if th.Messages[0].Seq != 1 || th.Messages[1].Seq != 2 {
		t.Fatalf("seqs = %d, %d", th.Messages[0].Seq, th.Messages[1].Seq)
	}
	if th.Messages[1].Timestamp.Before(th.Messages[0].Timestamp) {
		t.Fatal("timestamps must not decrease in insertion order")
	}
}

func TestAppendMessageDirectoryDown(t *testing.T) {
	mem := store.NewMemory()
	svc := New(mem, failingDirectory{})
	a, b, p := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()
	res, err := svc.ResolveOrCreate(context.Background(), a.Hex(), b.Hex(), p.Hex())
	if err != nil {
		t.Fatal(err)
	}
	msg, err := svc.AppendMessage(context.Background(), AppendInput{ChatID: res.ID, SenderID: b.Hex(), Content: "hi"})
	if err != nil {
		t.Fatalf("directory failure must not fail a stored append: %v", err)
	}
	if msg.Sender.ID != b.Hex() || msg.Sender.Username != "" {
		t.Fatalf("sender = %+v", msg.Sender)
	}
}

func TestListMessages(t *testing.T) {
	f := newFixture(t)
	chatID := f.start(t)
	ctx := context.Background()

	for i, s := range []primitive.ObjectID{f.buyer, f.owner, f.buyer} {
		if _, err := f.svc.AppendMessage(ctx, AppendInput{ChatID: chatID, SenderID: s.Hex(), Content: string(rune('a' + i))}); err != nil {
			t.Fatal(err)
		}
	}

	th, err := f.svc.ListMessages(ctx, chatID)
	if err != nil {
		t.Fatal(err)
	}
	if th.LastSeq() != 3 {
		t.Fatalf("LastSeq() = %d", th.LastSeq())
	}
	for i, m := range th.Messages {
		if m.Content != string(rune('a'+i)) || m.Seq != int64(i+1) {
			t.Fatalf("message %d = %+v", i, m)
		}
	}
	if th.Messages[1].Sender.Username != "bob" {
		t.Fatalf("sender = %+v", th.Messages[1].Sender)
	}
	if len(th.Participants) != 2 || th.Participants[0].Username != "alice" {
		t.Fatalf("participants = %+v", th.Participants)
	}

	if _, err := f.svc.ListMessages(ctx, "bad"); !errs.ErrInvalidReference.Is(err) {
		t.Fatalf("bad id error = %v", err)
	}
	if _, err := f.svc.ListMessages(ctx, primitive.NewObjectID().Hex()); !errs.ErrNotFound.Is(err) {
		t.Fatalf("missing chat error = %v", err)
	}
}

func TestListConversationsForUser(t *testing.T) {
	f := newFixture(t)
	chatID := f.start(t)
	ctx := context.Background()
	if _, err := f.svc.AppendMessage(ctx, AppendInput{ChatID: chatID, SenderID: f.buyer.Hex(), Content: "hi"}); err != nil {
		t.Fatal(err)
	}

	mine, err := f.svc.ListConversationsForUser(ctx, f.buyer.Hex(), RoleInitiator)
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 {
		t.Fatalf("got %d summaries", len(mine))
	}
	s := mine[0]
	if s.ID != chatID || s.Owner == nil || s.Owner.Username != "bob" || s.Buyer != nil {
		t.Fatalf("initiator view = %+v", s)
	}
	if s.Property == nil || s.Property.Title != "Sea view flat" {
		t.Fatalf("property = %+v", s.Property)
	}
	if s.LastMessage == nil || s.LastMessage.Content != "hi" || len(s.Messages) != 1 {
		t.Fatalf("messages = %+v last = %+v", s.Messages, s.LastMessage)
	}

	inbox, err := f.svc.ListConversationsForUser(ctx, f.owner.Hex(), RoleCounterparty)
	if err != nil {
		t.Fatal(err)
	}
	if len(inbox) != 1 || inbox[0].Buyer == nil || inbox[0].Buyer.Username != "alice" || inbox[0].Owner != nil {
		t.Fatalf("counterparty view = %+v", inbox)
	}

	none, err := f.svc.ListConversationsForUser(ctx, primitive.NewObjectID().Hex(), RoleInitiator)
	if err != nil || len(none) != 0 || none == nil {
		t.Fatalf("stranger view = %v, %v", none, err)
	}

	if _, err := f.svc.ListConversationsForUser(ctx, f.buyer.Hex(), Role("admin")); !errs.ErrInvalidArgument.Is(err) {
		t.Fatalf("unknown role error = %v", err)
	}
}

func TestListConversationsNewestFirst(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := base
	f.mem.SetClock(func() time.Time { tick = tick.Add(time.Second); return tick })
	ctx := context.Background()

	older := f.start(t)
	prop2 := primitive.NewObjectID()
	newer, err := f.svc.ResolveOrCreate(ctx, f.buyer.Hex(), f.owner.Hex(), prop2.Hex())
	if err != nil {
		t.Fatal(err)
	}
	// 老会话收到新消息后排到前面
	if _, err := f.svc.AppendMessage(ctx, AppendInput{ChatID: older, SenderID: f.owner.Hex(), Content: "bump"}); err != nil {
		t.Fatal(err)
	}

	got, err := f.svc.ListConversationsForUser(ctx, f.buyer.Hex(), RoleInitiator)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != older || got[1].ID != newer.ID {
		t.Fatalf("order = %v", []string{got[0].ID, got[1].ID})
	}
}

func TestListPropertyMessages(t *testing.T) {
	f := newFixture(t)
	tick := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f.mem.SetClock(func() time.Time { tick = tick.Add(time.Minute); return tick })
	ctx := context.Background()

	empty, err := f.svc.ListPropertyMessages(ctx, f.prop.Hex())
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("empty listing = %v, %v; want non-nil empty", empty, err)
	}

	chat1 := f.start(t)
	third := primitive.NewObjectID()
	res2, err := f.svc.ResolveOrCreate(ctx, third.Hex(), f.owner.Hex(), f.prop.Hex())
	if err != nil {
		t.Fatal(err)
	}
	steps := []AppendInput{
		{ChatID: chat1, SenderID: f.buyer.Hex(), Content: "1"},
		{ChatID: res2.ID, SenderID: third.Hex(), Content: "2"},
		{ChatID: chat1, SenderID: f.owner.Hex(), Content: "3"},
	}
	for _, in := range steps {
		if _, err := f.svc.AppendMessage(ctx, in); err != nil {
			t.Fatal(err)
		}
	}

	got, err := f.svc.ListPropertyMessages(ctx, f.prop.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d messages", len(got))
	}
	want := []struct{ content, chat string }{{"3", chat1}, {"2", res2.ID}, {"1", chat1}}
	for i, w := range want {
		if got[i].Content != w.content || got[i].ChatID != w.chat {
			t.Fatalf("entry %d = %+v, want %+v", i, got[i], w)
		}
	}

	if _, err := f.svc.ListPropertyMessages(ctx, "bad"); !errs.ErrInvalidReference.Is(err) {
		t.Fatalf("bad id error = %v", err)
	}
}
