package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4xmen/gapchat/internal/auth"
	"github.com/4xmen/gapchat/internal/chat"
	"github.com/4xmen/gapchat/internal/invite"
	"github.com/4xmen/gapchat/internal/message"
	"github.com/4xmen/gapchat/internal/models"
	"github.com/4xmen/gapchat/internal/testutil"
	"github.com/4xmen/gapchat/pkg/i18n"
)

type testAPI struct {
	t       *testing.T
	router  *gin.Engine
	authSvc *auth.Service
}

type testUser struct {
	id    int64
	token string
}

func newTestAPI(t *testing.T, translate Translator) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := testutil.NewStore(t)
	authSvc := auth.New(s.DB(), "test-jwt-secret")
	engine := message.New(s, nil)

	api := &API{
		Auth:     NewAuthHandler(authSvc, translate),
		Chats:    NewChatHandler(chat.New(s, nil), engine, translate),
		Messages: NewMessageHandler(engine, translate),
		Invites:  NewInviteHandler(invite.New(s, nil), translate),
		Push:     NewPushHandler(s, "", translate),
		Users:    NewUserHandler(s, nil, translate),
	}
	router := gin.New()
	api.Mount(router)

	return &testAPI{t: t, router: router, authSvc: authSvc}
}

func (a *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) user(name string) testUser {
	a.t.Helper()
	w := a.do(http.MethodPost, "/api/auth/register", "", gin.H{"username": name, "password": "password123"})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	var resp AuthResponse
	require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &resp))
	return testUser{id: resp.UserID, token: resp.Token}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func TestRegister(t *testing.T) {
	api := newTestAPI(t, nil)
	api.user("testuser")

	tests := []struct {
		name       string
		body       map[string]string
		wantStatus int
		wantCode   string
	}{
		{"duplicate username", map[string]string{"username": "testuser", "password": "password123"}, http.StatusConflict, "conflict"},
		{"short username", map[string]string{"username": "ab", "password": "password123"}, http.StatusBadRequest, "validation_error"},
		{"short password", map[string]string{"username": "newuser", "password": "12345"}, http.StatusBadRequest, "validation_error"},
		{"invalid username characters", map[string]string{"username": "test@user", "password": "password123"}, http.StatusBadRequest, "validation_error"},
		{"missing password", map[string]string{"username": "newuser"}, http.StatusBadRequest, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(http.MethodPost, "/api/auth/register", "", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decode[errorBody](t, w).Code)
		})
	}
}

func TestLogin(t *testing.T) {
	api := newTestAPI(t, nil)
	registered := api.user("loginuser")

	w := api.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": "loginuser", "password": "password123"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[AuthResponse](t, w)
	assert.Equal(t, registered.id, resp.UserID)
	assert.NotEmpty(t, resp.Token)

	w = api.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": "loginuser", "password": "wrongpassword"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": "nonexistent", "password": "password123"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	api := newTestAPI(t, nil)
	u := api.user("alice")

	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/api/chats", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/api/chats", "garbage", nil).Code)

	ghost, err := api.authSvc.GenerateToken(9999, "ghost")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/api/chats", ghost, nil).Code)

	w := api.do(http.MethodGet, "/api/chats?token="+u.token, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestDirectChatAndMessages(t *testing.T) {
	api := newTestAPI(t, nil)
	alice, bob := api.user("alice"), api.user("bob")

	w := api.do(http.MethodPost, "/api/chats", alice.token, gin.H{"user_id": bob.id})
	require.Equal(t, http.StatusOK, w.Code)
	direct := decode[models.Chat](t, w)
	assert.False(t, direct.IsGroup)

	w = api.do(http.MethodPost, "/api/chats", bob.token, gin.H{"user_id": alice.id})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, direct.ID, decode[models.Chat](t, w).ID)

	w = api.do(http.MethodPost, "/api/chats", alice.token, gin.H{"user_id": alice.id})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodPost, "/api/messages", alice.token, gin.H{"chat_id": direct.ID, "content": "hi bob"})
	require.Equal(t, http.StatusCreated, w.Code)
	sent := decode[models.Message](t, w)
	assert.Equal(t, "hi bob", sent.Content)

	w = api.do(http.MethodPut, fmt.Sprintf("/api/messages/%d", sent.ID), alice.token, gin.H{"content": "hi bob!"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.Message](t, w).IsEdited)

	w = api.do(http.MethodPut, fmt.Sprintf("/api/messages/%d", sent.ID), bob.token, gin.H{"content": "hijack"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", decode[errorBody](t, w).Code)

	w = api.do(http.MethodGet, fmt.Sprintf("/api/messages/%d/history", sent.ID), alice.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[[]models.EditEntry](t, w)
	require.Len(t, history, 1)
	assert.Equal(t, "hi bob", history[0].Content)

	w = api.do(http.MethodPut, fmt.Sprintf("/api/messages/%d/read", sent.ID), bob.token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = api.do(http.MethodGet, fmt.Sprintf("/api/chats/%d/read-status", direct.ID), alice.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[[]message.ReadStatus](t, w)
	require.Len(t, status, 1)
	require.Len(t, status[0].ReadBy, 1)
	assert.Equal(t, bob.id, status[0].ReadBy[0].UserID)

	w = api.do(http.MethodDelete, fmt.Sprintf("/api/messages/%d?scope=everyone", sent.ID), alice.token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = api.do(http.MethodDelete, fmt.Sprintf("/api/messages/%d?scope=everyone", sent.ID), alice.token, nil)
	assert.Equal(t, http.StatusGone, w.Code)

	w = api.do(http.MethodDelete, fmt.Sprintf("/api/messages/%d?scope=nobody", sent.ID), alice.token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodGet, "/api/messages/abc", alice.token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGroupViewOnce(t *testing.T) {
	api := newTestAPI(t, nil)
	alice, bob, carol := api.user("alice"), api.user("bob"), api.user("carol")

	w := api.do(http.MethodPost, "/api/chats/group", alice.token, gin.H{"name": "trio", "member_ids": []int64{bob.id, carol.id}})
	require.Equal(t, http.StatusCreated, w.Code)
	group := decode[models.Chat](t, w)

	w = api.do(http.MethodPost, "/api/messages", alice.token, gin.H{"chat_id": group.ID, "content": "secret", "is_view_once": true})
	require.Equal(t, http.StatusCreated, w.Code)
	secret := decode[models.Message](t, w)

	w = api.do(http.MethodGet, fmt.Sprintf("/api/chats/%d/messages", group.ID), bob.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decode[[]models.Message](t, w)
	require.Len(t, listed, 1)
	assert.Empty(t, listed[0].Content)
	assert.True(t, listed[0].Locked)

	w = api.do(http.MethodPost, fmt.Sprintf("/api/messages/%d/view", secret.ID), bob.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "secret", decode[models.Message](t, w).Content)

	w = api.do(http.MethodPost, fmt.Sprintf("/api/messages/%d/view", secret.ID), bob.token, nil)
	assert.Equal(t, http.StatusGone, w.Code)

	w = api.do(http.MethodPost, fmt.Sprintf("/api/messages/%d/view", secret.ID), alice.token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(http.MethodPost, fmt.Sprintf("/api/messages/%d/view", secret.ID), carol.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	last := decode[models.Message](t, w)
	assert.Equal(t, "secret", last.Content)
	assert.True(t, last.IsDeleted)

	w = api.do(http.MethodGet, fmt.Sprintf("/api/chats/%d/messages", group.ID), bob.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]models.Message](t, w))
}

func TestGroupMembershipAndInvites(t *testing.T) {
	api := newTestAPI(t, nil)
	alice, bob, carol := api.user("alice"), api.user("bob"), api.user("carol")
	dave, erin := api.user("dave"), api.user("erin")

	w := api.do(http.MethodPost, "/api/chats/group", alice.token, gin.H{"name": "team", "member_ids": []int64{bob.id, carol.id}})
	require.Equal(t, http.StatusCreated, w.Code)
	group := decode[models.Chat](t, w)

	w = api.do(http.MethodPut, fmt.Sprintf("/api/chats/%d/name", group.ID), bob.token, gin.H{"name": "mine"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = api.do(http.MethodPut, fmt.Sprintf("/api/chats/%d/name", group.ID), alice.token, gin.H{"name": "renamed"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "renamed", decode[models.Chat](t, w).Name)

	w = api.do(http.MethodPost, fmt.Sprintf("/api/chats/%d/invites", group.ID), bob.token, gin.H{"max_uses": 1})
	require.Equal(t, http.StatusCreated, w.Code)
	link := decode[models.InviteLink](t, w)
	require.NotNil(t, link.MaxUses)
	assert.Equal(t, 1, *link.MaxUses)

	w = api.do(http.MethodPost, "/api/invites/"+link.Code+"/join", dave.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode[models.Chat](t, w).Participants, dave.id)

	w = api.do(http.MethodPost, "/api/invites/"+link.Code+"/join", erin.token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "limit_reached", decode[errorBody](t, w).Code)

	w = api.do(http.MethodPost, "/api/invites/"+link.Code+"/join", dave.token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_member", decode[errorBody](t, w).Code)

	w = api.do(http.MethodPost, "/api/invites/nope/join", erin.token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(http.MethodPost, fmt.Sprintf("/api/chats/%d/invites", group.ID), alice.token, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	open := decode[models.InviteLink](t, w)

	w = api.do(http.MethodPost, "/api/invites/"+open.Code+"/join", carol.token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_member", decode[errorBody](t, w).Code)

	w = api.do(http.MethodGet, fmt.Sprintf("/api/chats/%d/invites", group.ID), carol.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.InviteLink](t, w), 2)

	w = api.do(http.MethodDelete, fmt.Sprintf("/api/invites/%d", open.ID), bob.token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = api.do(http.MethodDelete, fmt.Sprintf("/api/invites/%d", open.ID), alice.token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = api.do(http.MethodPost, fmt.Sprintf("/api/chats/%d/members", group.ID), alice.token, gin.H{"user_id": erin.id})
	require.Equal(t, http.StatusOK, w.Code)

	w = api.do(http.MethodDelete, fmt.Sprintf("/api/chats/%d/members/%d", group.ID, erin.id), erin.token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = api.do(http.MethodDelete, fmt.Sprintf("/api/chats/%d/members/%d", group.ID, alice.id), alice.token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(http.MethodGet, fmt.Sprintf("/api/chats/%d", group.ID), erin.token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMarkAllRead(t *testing.T) {
	api := newTestAPI(t, nil)
	alice, bob := api.user("alice"), api.user("bob")

	group := decode[models.Chat](t, api.do(http.MethodPost, "/api/chats", alice.token, gin.H{"user_id": bob.id}))
	for i := 0; i < 3; i++ {
		w := api.do(http.MethodPost, "/api/messages", alice.token, gin.H{"chat_id": group.ID, "content": fmt.Sprintf("m%d", i)})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := api.do(http.MethodPut, fmt.Sprintf("/api/chats/%d/read", group.ID), bob.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[map[string][]int64](t, w)["message_ids"], 3)

	w = api.do(http.MethodPut, fmt.Sprintf("/api/chats/%d/read", group.ID), bob.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[map[string][]int64](t, w)["message_ids"])
}

func TestSearchUsers(t *testing.T) {
	api := newTestAPI(t, nil)
	me := api.user("listuser1")
	api.user("ListUser2")
	api.user("listuser3")
	api.user("list_4")
	api.user("other")

	usernames := func(w *httptest.ResponseRecorder) []string {
		var names []string
		for _, u := range decode[[]map[string]any](t, w) {
			names = append(names, u["username"].(string))
		}
		return names
	}

	t.Run("excludes current user", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/users", me.token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		names := usernames(w)
		assert.Len(t, names, 4)
		assert.NotContains(t, names, "listuser1")
	})

	t.Run("search ignores case", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/users?search=LISTUSER", me.token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"ListUser2", "listuser3"}, usernames(w))
	})

	t.Run("wildcards match literally", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/users?search=list_", me.token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"list_4"}, usernames(w))
	})

	t.Run("no match", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/users?search=nobody", me.token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, "[]", w.Body.String())
	})

	t.Run("requires auth", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/api/users", "", nil).Code)
	})
}

func TestPushSubscriptions(t *testing.T) {
	api := newTestAPI(t, nil)
	alice := api.user("alice")

	w := api.do(http.MethodGet, "/api/push/vapid-key", alice.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode[map[string]any](t, w)["enabled"])

	sub := gin.H{"endpoint": "https://push.test/alice", "p256dh": "key", "auth": "secret"}
	assert.Equal(t, http.StatusNoContent, api.do(http.MethodPost, "/api/push/subscribe", alice.token, sub).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/api/push/subscribe", alice.token, gin.H{"endpoint": "not a url"}).Code)

	unsub := gin.H{"endpoint": "https://push.test/alice"}
	assert.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, "/api/push/subscribe", alice.token, unsub).Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodDelete, "/api/push/subscribe", alice.token, unsub).Code)
}

func TestLocalizedErrors(t *testing.T) {
	api := newTestAPI(t, i18n.ForLocale("fa"))
	alice := api.user("alice")

	w := api.do(http.MethodGet, "/api/chats/4242", alice.token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	body := decode[errorBody](t, w)
	assert.Equal(t, "not_found", body.Code)
	assert.Equal(t, i18n.Translate("chat not found"), body.Error)
}

func TestRespondErrorHidesInternalCause(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil).WithContext(context.Background())

	respondError(c, Translator(nil).orIdentity(), fmt.Errorf("disk on fire"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode[errorBody](t, w)
	assert.Equal(t, "internal_error", body.Code)
	assert.Equal(t, "internal server error", body.Error)
}
