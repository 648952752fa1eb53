package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateItem(t *testing.T) {
	var gotAuth, gotPrefer string
	var gotBody CreateRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/rest/v1/items" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotPrefer = r.Header.Get("Prefer")
		json.NewDecoder(r.Body).Decode(&gotBody)

		w.WriteHeader(http.StatusCreated)
		// PostgREST representation: array with numeric id
		w.Write([]byte(`[{"id": 17, "content": "buy milk", "completed": false, "user_id": "u1", "created_at": "2026-03-01T10:00:00Z"}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok-123")
	row, err := c.CreateItem(context.Background(), "buy milk", "u1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if gotAuth != "Bearer tok-123" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotPrefer != "return=representation" {
		t.Errorf("prefer header = %q", gotPrefer)
	}
	if gotBody.Content != "buy milk" || gotBody.UserID != "u1" {
		t.Errorf("request body = %+v", gotBody)
	}
	if row.ID != "17" {
		t.Errorf("numeric id decoded as %q, want \"17\"", row.ID)
	}
	if row.Content != "buy milk" {
		t.Errorf("content = %q", row.Content)
	}
}

func TestUpdateAndDeleteTargetByID(t *testing.T) {
	var gotMethod, gotQuery string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	completed := true
	if err := c.UpdateItem(context.Background(), "42", Patch{Completed: &completed}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if gotMethod != "PATCH" || gotQuery != "id=eq.42" {
		t.Errorf("update sent %s ?%s", gotMethod, gotQuery)
	}

	if err := c.DeleteItem(context.Background(), "42"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if gotMethod != "DELETE" || gotQuery != "id=eq.42" {
		t.Errorf("delete sent %s ?%s", gotMethod, gotQuery)
	}
}

func TestListItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user_id") != "eq.u1" {
			t.Errorf("user filter = %q", r.URL.Query().Get("user_id"))
		}
		w.Write([]byte(`[{"id":"1","content":"a"},{"id":"2","content":"b"}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	rows, err := c.ListItems(context.Background(), "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 || rows[0].Content != "a" || rows[1].Content != "b" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestErrorClasses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"code":"401","message":"bad token"}`, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, `{"code":"403","message":"nope"}`, ErrForbidden},
		{"not found", http.StatusNotFound, `{"code":"404","message":"gone"}`, ErrNotFound},
		{"bare unauthorized", http.StatusUnauthorized, "", ErrUnauthorized},
		{"html not found", http.StatusNotFound, "<html>404</html>", ErrNotFound},
		{"text forbidden", http.StatusForbidden, "forbidden", ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(srv.URL, "tok")
			err := c.DeleteItem(context.Background(), "1")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNetworkFailureIsNotRemoteRejection(t *testing.T) {
	c := New("http://127.0.0.1:1", "tok") // nothing listening
	err := c.DeleteItem(context.Background(), "1")
	if err == nil {
		t.Fatal("expected network error")
	}
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("network failure not classified as ErrNetwork: %v", err)
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound) {
		t.Errorf("network failure classified as remote rejection: %v", err)
	}
}

func TestSetTokenConcurrencySafe(t *testing.T) {
	c := New("http://example.invalid", "")
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			c.SetToken("t")
		}
		close(done)
	}()
	for i := 0; i < 100; i++ {
		_ = c.Token()
	}
	<-done
	if c.Token() != "t" {
		t.Errorf("token = %q", c.Token())
	}
}
