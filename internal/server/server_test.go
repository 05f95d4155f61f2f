package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"

	"machinepark/internal/config"
	"machinepark/internal/db"
	"machinepark/internal/domain"
	"machinepark/internal/engine"
	"machinepark/internal/migrate"
)

type testServer struct {
	URL    string
	Engine *engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("park-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{AllowLegacyUserHeader: true}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", "tester")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func seedServerStaff(t *testing.T, srv *testServer) {
	t.Helper()
	ctx := context.Background()
	for _, u := range []struct {
		id, userType, specialty string
	}{
		{"asm-1", domain.UserTypeTechnician, domain.SpecialtyAssembler},
		{"ver-1", domain.UserTypeTechnician, domain.SpecialtyVerifier},
		{"mnt-1", domain.UserTypeTechnician, domain.SpecialtyMaintenance},
		{"log-1", domain.UserTypeLogistics, ""},
	} {
		user := domain.User{
			ID:        u.id,
			Name:      u.id,
			Type:      u.userType,
			Active:    true,
			CreatedAt: "2024-01-01T00:00:00Z",
		}
		if u.specialty != "" {
			spec := u.specialty
			user.Specialty = &spec
		}
		if err := srv.Engine.Repo.UpsertUser(ctx, user); err != nil {
			t.Fatalf("seed user %s: %v", u.id, err)
		}
	}
}

func TestMachineLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seedServerStaff(t, srv)
	client := srv.Client()

	// Mint the parts.
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/components/plates", nil, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("mint plate status %d: %s", res.StatusCode, string(data))
	}
	var plate domain.Component
	if err := json.Unmarshal(data, &plate); err != nil {
		t.Fatalf("unmarshal plate: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/components/enclosures", nil, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("mint enclosure status %d: %s", res.StatusCode, string(data))
	}
	var enclosure domain.Component
	if err := json.Unmarshal(data, &enclosure); err != nil {
		t.Fatalf("unmarshal enclosure: %v", err)
	}

	// Register the machine.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/machines", map[string]any{
		"name":         "Frogger",
		"type":         "arcade",
		"commerce_id":  "bar-7",
		"plate_id":     plate.ID,
		"enclosure_id": enclosure.ID,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register status %d: %s", res.StatusCode, string(data))
	}
	var reg TransitionResponse
	if err := json.Unmarshal(data, &reg); err != nil {
		t.Fatalf("unmarshal register: %v", err)
	}
	machineID := reg.Machine.ID
	if reg.Machine.Stage != domain.StageAssembly {
		t.Fatalf("expected Ensamblaje, got %s", reg.Machine.Stage)
	}

	// Walk the happy path.
	for _, op := range []string{
		"send-to-verification",
		"send-to-distribution",
		"mark-operational",
	} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/machines/"+machineID+"/transitions/"+op, nil, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s status %d: %s", op, res.StatusCode, string(data))
		}
	}
	var out TransitionResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal transition: %v", err)
	}
	if out.Machine.Stage != domain.StageCollection || out.Machine.Status != domain.StatusOperational {
		t.Fatalf("expected Recaudacion/Operativa, got %s/%s", out.Machine.Stage, out.Machine.Status)
	}

	// Invalid transitions map to 409 with a typed code.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/machines/"+machineID+"/transitions/send-to-verification", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %q", envelope.Error.Code)
	}

	// Mounted components are visible on the machine.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/machines/"+machineID+"/components", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("components status %d: %s", res.StatusCode, string(data))
	}
	var comps []domain.Component
	if err := json.Unmarshal(data, &comps); err != nil {
		t.Fatalf("unmarshal components: %v", err)
	}
	if len(comps) != 2 {
		t.Fatalf("expected 2 components, got %d", len(comps))
	}
}

func TestNotificationsOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seedServerStaff(t, srv)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/components/plates", nil, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("mint plate: %d %s", res.StatusCode, string(data))
	}
	var plate domain.Component
	_ = json.Unmarshal(data, &plate)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/components/enclosures", nil, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("mint enclosure: %d %s", res.StatusCode, string(data))
	}
	var enclosure domain.Component
	_ = json.Unmarshal(data, &enclosure)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/machines", map[string]any{
		"name":         "Zaxxon",
		"plate_id":     plate.ID,
		"enclosure_id": enclosure.ID,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register: %d %s", res.StatusCode, string(data))
	}

	// The assembler sees the assembly notification in their inbox.
	asmHeaders := map[string]string{"X-User-Id": "asm-1"}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/notifications?unread=true", nil, asmHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list notifications: %d %s", res.StatusCode, string(data))
	}
	var notes []domain.Notification
	if err := json.Unmarshal(data, &notes); err != nil {
		t.Fatalf("unmarshal notifications: %v", err)
	}
	if len(notes) != 1 || notes[0].Kind != domain.NotifyNewAssembly {
		t.Fatalf("expected one %q notification, got %+v", domain.NotifyNewAssembly, notes)
	}

	// Mark it read; the unread view empties.
	readURL := srv.URL + "/v0/notifications/" + strconv.FormatInt(notes[0].ID, 10) + "/read"
	res, data = doJSON(t, client, http.MethodPost, readURL, nil, asmHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("mark read: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/notifications?unread=true", nil, asmHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("relist notifications: %d %s", res.StatusCode, string(data))
	}
	notes = nil
	_ = json.Unmarshal(data, &notes)
	if len(notes) != 0 {
		t.Fatalf("expected empty unread inbox, got %+v", notes)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v0/machines", nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}

	// Health stays open.
	res2, err := srv.Client().Get(srv.URL + "/v0/health")
	if err != nil {
		t.Fatal(err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("health expected 200, got %d", res2.StatusCode)
	}
}
