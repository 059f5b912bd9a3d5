package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	midsec "PropChat/middleware/security"
	"PropChat/module/chat/api"
	chatmodel "PropChat/module/chat/model"
	"PropChat/module/chat/service"
	"PropChat/module/chat/store"
	toolsec "PropChat/tools/security"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var testSecret = []byte("test-secret")

type env struct {
	engine             *gin.Engine
	mem                *store.Memory
	buyer, owner, prop primitive.ObjectID
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	e := &env{
		mem:   store.NewMemory(),
		buyer: primitive.NewObjectID(),
		owner: primitive.NewObjectID(),
		prop:  primitive.NewObjectID(),
	}
	e.mem.AddUser(e.buyer, "alice")
	e.mem.AddUser(e.owner, "bob")
	e.mem.AddProperty(e.prop, "Loft")

	e.engine = gin.New()
	h := NewHandler(service.New(e.mem, e.mem))
	auth := midsec.Middleware(midsec.DefaultOptions(testSecret))
	h.Register(e.engine.Group("/api/chat"), auth)
	h.Register(e.engine.Group("/chat"), auth)
	return e
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, _, err := toolsec.Generate(toolsec.DefaultOptions(testSecret), userID, role)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (e *env) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func (e *env) start(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/chat/start", "", api.StartRequest{
		SenderID: e.buyer.Hex(), ReceiverID: e.owner.Hex(), PropertyID: e.prop.Hex(),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("start = %d %s", w.Code, w.Body.String())
	}
	return decode[api.StartResponse](t, w).ID
}

func TestStart(t *testing.T) {
	e := newEnv(t)
	id := e.start(t)

	w := e.do(t, http.MethodPost, "/api/chat/start", "", api.StartRequest{
		SenderID: e.owner.Hex(), ReceiverID: e.buyer.Hex(), PropertyID: e.prop.Hex(),
	})
	if w.Code != http.StatusOK || decode[api.StartResponse](t, w).ID != id {
		t.Fatalf("reversed start = %d %s, want %s", w.Code, w.Body.String(), id)
	}

	w = e.do(t, http.MethodPost, "/chat/start", "", api.StartRequest{SenderID: "x", ReceiverID: e.owner.Hex(), PropertyID: e.prop.Hex()})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", w.Code)
	}
	if got := decode[api.ErrorBody](t, w).Error; got != "Invalid sender, receiver, or property ID" {
		t.Fatalf("error = %q", got)
	}
}

func TestSendAndList(t *testing.T) {
	e := newEnv(t)
	chatID := e.start(t)
	buyerTok := token(t, e.buyer.Hex(), "user")

	w := e.do(t, http.MethodPost, "/chat/send_message", buyerTok, api.SendRequest{ChatID: chatID, SenderID: e.buyer.Hex(), Content: "Hi"})
	if w.Code != http.StatusOK {
		t.Fatalf("send = %d %s", w.Code, w.Body.String())
	}
	msg := decode[api.Message](t, w)
	if msg.Content != "Hi" || msg.Sender.Username != "alice" || msg.ID == "" || msg.Seq != 1 {
		t.Fatalf("message = %+v", msg)
	}

	// senderId 省略时取令牌主体
	ownerTok := token(t, e.owner.Hex(), "user")
	w = e.do(t, http.MethodPost, "/chat/send_message", ownerTok, api.SendRequest{ChatID: chatID, Content: "Hello"})
	if w.Code != http.StatusOK || decode[api.Message](t, w).Sender.ID != e.owner.Hex() {
		t.Fatalf("implicit sender = %d %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodGet, "/chat/messages/"+chatID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("messages = %d", w.Code)
	}
	msgs := decode[[]api.Message](t, w)
	if len(msgs) != 2 || msgs[0].Content != "Hi" || msgs[1].Content != "Hello" {
		t.Fatalf("messages = %+v", msgs)
	}

	w = e.do(t, http.MethodGet, "/chat/my-chats/"+e.buyer.Hex(), buyerTok, nil)
	mine := decode[[]api.ConversationSummary](t, w)
	if w.Code != http.StatusOK || len(mine) != 1 || mine[0].Owner == nil || mine[0].Owner.Username != "bob" {
		t.Fatalf("my-chats = %d %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodGet, "/chat/owner-chats/"+e.owner.Hex(), ownerTok, nil)
	inbox := decode[[]api.ConversationSummary](t, w)
	if w.Code != http.StatusOK || len(inbox) != 1 || inbox[0].Buyer == nil || inbox[0].Buyer.ID != e.buyer.Hex() {
		t.Fatalf("owner-chats = %d %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodGet, "/chat/property-messages/"+e.prop.Hex(), ownerTok, nil)
	pm := decode[[]api.Message](t, w)
	if w.Code != http.StatusOK || len(pm) != 2 || pm[0].Content != "Hello" || pm[0].ChatID != chatID {
		t.Fatalf("property-messages = %d %s", w.Code, w.Body.String())
	}
}

func TestErrorMapping(t *testing.T) {
	e := newEnv(t)
	chatID := e.start(t)
	stranger := primitive.NewObjectID().Hex()
	buyerTok := token(t, e.buyer.Hex(), "user")

	tests := []struct {
		name, method, path, tok string
		body                    any
		status                  int
		msg                     string
	}{
		{"messages bad id", http.MethodGet, "/chat/messages/nope", "", nil, 400, "Invalid chat ID"},
		{"messages missing", http.MethodGet, "/chat/messages/" + primitive.NewObjectID().Hex(), "", nil, 404, "Chat not found"},
		{"send without token", http.MethodPost, "/chat/send_message", "", api.SendRequest{ChatID: chatID, SenderID: e.buyer.Hex(), Content: "x"}, 401, "Access token required"},
		{"send bad token", http.MethodPost, "/chat/send_message", "garbage", api.SendRequest{ChatID: chatID, Content: "x"}, 401, "Invalid or expired token"},
		{"send bad chat", http.MethodPost, "/chat/send_message", buyerTok, api.SendRequest{ChatID: "zz", Content: "x"}, 400, "Invalid chat ID or sender ID"},
		{"send missing chat", http.MethodPost, "/chat/send_message", buyerTok, api.SendRequest{ChatID: primitive.NewObjectID().Hex(), Content: "x"}, 404, "Chat not found"},
		{"send empty", http.MethodPost, "/chat/send_message", buyerTok, api.SendRequest{ChatID: chatID, Content: "  "}, 400, "Message content is required"},
		{"send as someone else", http.MethodPost, "/chat/send_message", buyerTok, api.SendRequest{ChatID: chatID, SenderID: e.owner.Hex(), Content: "x"}, 403, "You are not a participant in this chat"},
		{"stranger send", http.MethodPost, "/chat/send_message", token(t, stranger, "user"), api.SendRequest{ChatID: chatID, Content: ""}, 403, "You are not a participant in this chat"},
		{"other user's chats", http.MethodGet, "/chat/my-chats/" + e.owner.Hex(), buyerTok, nil, 403, "Access denied"},
		{"property bad id", http.MethodGet, "/chat/property-messages/1", buyerTok, nil, 400, "Invalid property ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, tt.method, tt.path, tt.tok, tt.body)
			if w.Code != tt.status {
				t.Fatalf("status = %d %s, want %d", w.Code, w.Body.String(), tt.status)
			}
			if got := decode[api.ErrorBody](t, w).Error; got != tt.msg {
				t.Fatalf("error = %q, want %q", got, tt.msg)
			}
		})
	}
}

func TestAdminMayReadAnyInbox(t *testing.T) {
	e := newEnv(t)
	e.start(t)
	w := e.do(t, http.MethodGet, "/api/chat/owner-chats/"+e.owner.Hex(), token(t, primitive.NewObjectID().Hex(), "admin"), nil)
	if w.Code != http.StatusOK || len(decode[[]api.ConversationSummary](t, w)) != 1 {
		t.Fatalf("admin owner-chats = %d %s", w.Code, w.Body.String())
	}
}

type brokenRepo struct{ *store.Memory }

func (brokenRepo) Get(context.Context, primitive.ObjectID) (*chatmodel.Conversation, error) {
	return nil, errors.New("connection reset by peer")
}

func TestInternalErrorIsGeneric(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mem := store.NewMemory()
	engine := gin.New()
	NewHandler(service.New(brokenRepo{mem}, mem)).Register(engine.Group("/chat"), midsec.Middleware(midsec.DefaultOptions(testSecret)))

	req := httptest.NewRequest(http.MethodGet, "/chat/messages/"+primitive.NewObjectID().Hex(), nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decode[api.ErrorBody](t, w).Error; got != "Server Error" {
		t.Fatalf("error = %q, must not leak the cause", got)
	}
}
