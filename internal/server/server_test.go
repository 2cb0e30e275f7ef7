package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"airtech/internal/config"
	"airtech/internal/db"
	"airtech/internal/domain"
	"airtech/internal/engine"
	"airtech/internal/migrate"
	"airtech/internal/repo"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC) }
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func seedProfile(t *testing.T, e engine.Engine, uid, email, role string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	err := e.Repo.UpsertProfile(context.Background(), domain.Profile{
		UID: uid, Email: email, Role: role, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed profile %s: %v", uid, err)
	}
}

func signToken(t *testing.T, uid, email string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: email,
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authHeader(t *testing.T, uid, email string) map[string]string {
	t.Helper()
	return map[string]string{"Authorization": "Bearer " + signToken(t, uid, email)}
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

func createComplaint(t *testing.T, srv *testServer, headers map[string]string) string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/complaints", map[string]any{
		"machine_name":          "Press-1",
		"complaint_description": "Leak",
		"priority":              "High",
		"department":            "Mechanical",
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var report ReportResponse
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if !report.Success || report.ID == "" {
		t.Fatalf("unexpected report %+v", report)
	}
	return report.ID
}

func TestHealthIsUnauthenticated(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestComplaintsRequireAuth(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/complaints", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/complaints", nil,
		map[string]string{"Authorization": "Bearer not-a-token"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status %d, want 401", res.StatusCode)
	}
}

func TestCreateGetAndHistory(t *testing.T) {
	srv := newTestServer(t)
	seedProfile(t, srv.Engine, "u1", "a@x.com", domain.RoleCreator)
	headers := authHeader(t, "u1", "a@x.com")

	id := createComplaint(t, srv, headers)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/complaints/"+id, nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}
	var got ComplaintResponse
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal complaint: %v", err)
	}
	if got.Complaint.ComplaintID != "AIRTECH-01" || got.Complaint.CreatedBy != "a@x.com" {
		t.Fatalf("complaint = %+v", got.Complaint)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/complaints/"+id+"/history", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", res.StatusCode, string(data))
	}
	var hist HistoryResponse
	if err := json.Unmarshal(data, &hist); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(hist.History) != 1 || hist.History[0].Action != domain.ActionCreated {
		t.Fatalf("history = %+v", hist.History)
	}
}

func TestCreateValidationFails422(t *testing.T) {
	srv := newTestServer(t)
	seedProfile(t, srv.Engine, "u1", "a@x.com", domain.RoleCreator)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/complaints", map[string]any{
		"machine_name":          "",
		"complaint_description": "Leak",
		"priority":              "High",
		"department":            "Catering",
	}, authHeader(t, "u1", "a@x.com"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d, want 422: %s", res.StatusCode, string(data))
	}
}

func TestViewerDeleteForbidden(t *testing.T) {
	srv := newTestServer(t)
	seedProfile(t, srv.Engine, "u1", "a@x.com", domain.RoleCreator)
	seedProfile(t, srv.Engine, "u2", "v@x.com", domain.RoleViewer)
	id := createComplaint(t, srv, authHeader(t, "u1", "a@x.com"))

	res, data := doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/complaints/"+id, nil,
		authHeader(t, "u2", "v@x.com"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d, want 403: %s", res.StatusCode, string(data))
	}
	// record untouched
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/complaints/"+id, nil, authHeader(t, "u1", "a@x.com"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("record should survive, status %d", res.StatusCode)
	}
}

func TestUpdateIgnoresSpoofedCreatedBy(t *testing.T) {
	srv := newTestServer(t)
	seedProfile(t, srv.Engine, "u1", "orig@x.com", domain.RoleCreator)
	seedProfile(t, srv.Engine, "u2", "up@x.com", domain.RoleUpdater)
	id := createComplaint(t, srv, authHeader(t, "u1", "orig@x.com"))

	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/complaints/"+id, map[string]any{
		"maintenance_remarks": "Fixed",
		"created_by":          "spoof@x.com",
	}, authHeader(t, "u2", "up@x.com"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", res.StatusCode, string(data))
	}

	c, err := srv.Engine.Repo.GetComplaint(context.Background(), id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.CreatedBy != "orig@x.com" {
		t.Fatalf("created_by = %q", c.CreatedBy)
	}
	if c.MaintenanceRemarks == nil || *c.MaintenanceRemarks != "Fixed" {
		t.Fatalf("maintenance_remarks = %v", c.MaintenanceRemarks)
	}
	if len(c.History) != 2 || c.History[1].Action != domain.ActionUpdated {
		t.Fatalf("history = %+v", c.History)
	}
}

func TestListScopedByRole(t *testing.T) {
	srv := newTestServer(t)
	seedProfile(t, srv.Engine, "u1", "a@x.com", domain.RoleCreator)
	seedProfile(t, srv.Engine, "u2", "b@x.com", domain.RoleCreator)
	seedProfile(t, srv.Engine, "u3", "m@x.com", domain.RoleMaintenance)
	createComplaint(t, srv, authHeader(t, "u1", "a@x.com"))
	createComplaint(t, srv, authHeader(t, "u2", "b@x.com"))

	_, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/complaints", nil, authHeader(t, "u1", "a@x.com"))
	var own ComplaintListResponse
	if err := json.Unmarshal(data, &own); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if own.Count != 1 || own.Complaints[0].CreatedBy != "a@x.com" {
		t.Fatalf("creator list = %+v", own)
	}

	_, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/complaints", nil, authHeader(t, "u3", "m@x.com"))
	var all ComplaintListResponse
	if err := json.Unmarshal(data, &all); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if all.Count != 2 {
		t.Fatalf("maintenance list count = %d", all.Count)
	}
}

func TestUnknownProfileDefaultsToViewer(t *testing.T) {
	srv := newTestServer(t)
	headers := authHeader(t, "ghost", "ghost@x.com")

	_, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, headers)
	var me MeResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.Role != domain.RoleViewer {
		t.Fatalf("role = %q, want viewer", me.Role)
	}

	res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/complaints", map[string]any{
		"machine_name": "Press-1", "complaint_description": "Leak", "priority": "High", "department": "Mechanical",
	}, headers)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d, want 403", res.StatusCode)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv := newTestServer(t)
	seedProfile(t, srv.Engine, "u1", "a@x.com", domain.RoleCreator)
	token := uuid.NewString()
	err := srv.Engine.Repo.InsertAPIKey(context.Background(), domain.APIKey{
		ID: uuid.NewString(), UID: "u1", Name: "ci", KeyHash: repo.HashAPIKey(token),
	})
	if err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	id := createComplaint(t, srv, map[string]string{"X-Api-Key": token})
	c, err := srv.Engine.Repo.GetComplaint(context.Background(), id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.CreatedBy != "a@x.com" {
		t.Fatalf("created_by = %q, want profile email", c.CreatedBy)
	}
}

func TestBackfillEndpointAdminOnly(t *testing.T) {
	srv := newTestServer(t)
	seedProfile(t, srv.Engine, "u1", "a@x.com", domain.RoleCreator)
	seedProfile(t, srv.Engine, "adm", "admin@x.com", domain.RoleAdmin)
	id := createComplaint(t, srv, authHeader(t, "u1", "a@x.com"))
	if _, err := srv.Engine.DB.Exec(`DELETE FROM complaint_history WHERE complaint_id=?`, id); err != nil {
		t.Fatalf("strip history: %v", err)
	}

	res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/admin/backfill-history", nil, authHeader(t, "u1", "a@x.com"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin status %d, want 403", res.StatusCode)
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/admin/backfill-history", nil, authHeader(t, "adm", "admin@x.com"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin status %d: %s", res.StatusCode, string(data))
	}
	var out BackfillResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Repaired != 1 {
		t.Fatalf("repaired = %d, want 1", out.Repaired)
	}
}
