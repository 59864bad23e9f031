package router_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/consult-api/internal/app"
	"github.com/jwalitptl/consult-api/internal/config"
	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository/memory"
	"github.com/jwalitptl/consult-api/internal/service/consultation"
	"github.com/jwalitptl/consult-api/pkg/auth"
	"github.com/jwalitptl/consult-api/pkg/cache"
	"github.com/jwalitptl/consult-api/pkg/validator"
)

const apiPrefix = "/api/v1"

// TestResponse wraps the API response for testing
type TestResponse struct {
	StatusCode int
	Status     string          `json:"status"`
	Message    string          `json:"message"`
	Code       string          `json:"code"`
	Data       json.RawMessage `json:"data"`
}

func (r TestResponse) IsSuccess() bool {
	return r.Status == "success"
}

func (r TestResponse) GetString(key string) string {
	var m map[string]interface{}
	if err := json.Unmarshal(r.Data, &m); err != nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func (r TestResponse) List(t *testing.T) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	require.NoError(t, json.Unmarshal(r.Data, &out))
	return out
}

type testEnv struct {
	server *httptest.Server
	app    *app.App
	store  *memory.Store
	jwt    auth.JWTService
}

type actor struct {
	user  model.User
	token string
}

func (a actor) id() string { return a.user.ID.String() }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	require.NoError(t, validator.RegisterGin())

	cfg := &config.Config{
		Server: config.ServerConfig{
			AllowedOrigins: []string{"*"},
			MetricsPrefix:  "consult_test",
		},
		Payment: config.PaymentConfig{
			DefaultFee: 500,
			Currency:   "BDT",
			Method:     "MOCK",
			ClientURL:  "http://localhost:5173",
		},
		Chat: config.ChatConfig{
			PingInterval:   time.Second,
			PongWait:       5 * time.Second,
			WriteWait:      time.Second,
			SendBuffer:     32,
			MaxMessageSize: 8192,
			MessageRate:    100,
			MessageBurst:   100,
			ParticipantTTL: time.Minute,
		},
		Cache: config.CacheConfig{SlotTTL: time.Minute},
	}

	store := memory.NewStore()
	jwt := auth.NewJWTService("e2e-secret", "consult-test", time.Hour)
	a := app.New(cfg, app.MemoryRepositories(store), app.Deps{
		JWT:    jwt,
		Cache:  cache.NewLocal(time.Minute),
		Logger: zerolog.Nop(),
	})

	srv := httptest.NewServer(a.Router.Engine())
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, app: a, store: store, jwt: jwt}
}

func (e *testEnv) newActor(t *testing.T, name string, role model.Role) actor {
	t.Helper()
	u := model.User{
		ID:    uuid.New(),
		Name:  name,
		Email: strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		Role:  role,
	}
	e.store.PutUser(u)
	token, err := e.jwt.Generate(model.Caller{ID: u.ID, Role: role})
	require.NoError(t, err)
	return actor{user: u, token: token}
}

func (e *testEnv) makeRequest(t *testing.T, method, path string, body interface{}, token string) TestResponse {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		jsonBody, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(jsonBody)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req, err := http.NewRequest(method, e.server.URL+apiPrefix+path, reqBody)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := TestResponse{StatusCode: resp.StatusCode}
	if resp.StatusCode == http.StatusNoContent {
		return out
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (e *testEnv) dial(t *testing.T, token string) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + apiPrefix + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (c *wsClient) emit(event string, data interface{}) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(map[string]interface{}{"event": event, "data": data}))
}

// expect reads frames until one named event arrives.
func (c *wsClient) expect(event string) map[string]interface{} {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var ev wireEvent
		require.NoError(c.t, c.conn.ReadJSON(&ev), "waiting for %s", event)
		if ev.Event != event {
			continue
		}
		var data map[string]interface{}
		require.NoError(c.t, json.Unmarshal(ev.Data, &data))
		return data
	}
}

func (c *wsClient) join(appointmentID string) {
	c.t.Helper()
	c.emit(consultation.EventJoinRoom, map[string]string{"appointment_id": appointmentID})
	c.expect(consultation.EventJoinedRoom)
}
