package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"PropChat/global"
	"PropChat/module/chat/api"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestRouterInMemory(t *testing.T) {
	t.Setenv("CHAT_JWT_SECRET", "main-secret")
	cfg, err := global.Load("")
	if err != nil {
		t.Fatal(err)
	}
	a, err := build(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer a.close()
	r := a.router()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var hs healthStatus
	if w.Code != http.StatusOK || json.Unmarshal(w.Body.Bytes(), &hs) != nil {
		t.Fatalf("healthz %d %s", w.Code, w.Body)
	}
	if hs.Deps["mongo"] != "memory" || hs.Deps["redis"] != "disabled" || hs.Deps["nats"] != "DISABLED" {
		t.Fatalf("deps = %v", hs.Deps)
	}

	// 两个前缀挂的是同一套路由
	body, _ := json.Marshal(api.StartRequest{
		SenderID:   primitive.NewObjectID().Hex(),
		ReceiverID: primitive.NewObjectID().Hex(),
		PropertyID: primitive.NewObjectID().Hex(),
	})
	var ids []string
	for _, prefix := range []string{"/api/chat", "/chat"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, prefix+"/start", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		var res api.StartResponse
		if w.Code != http.StatusOK || json.Unmarshal(w.Body.Bytes(), &res) != nil {
			t.Fatalf("%s/start %d %s", prefix, w.Code, w.Body)
		}
		ids = append(ids, res.ID)
	}
	if ids[0] == "" || ids[0] != ids[1] {
		t.Fatalf("ids = %v", ids)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/chat/my-chats/"+primitive.NewObjectID().Hex(), nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("my-chats without token = %d", w.Code)
	}
}
