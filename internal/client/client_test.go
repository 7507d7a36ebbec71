package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoginStoresToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			var creds map[string]string
			if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
				t.Errorf("login body: %v", err)
			}
			if creds["email"] != "researcher@example.com" || creds["password"] != "hunter22" {
				t.Errorf("credentials = %v", creds)
			}
			json.NewEncoder(w).Encode(map[string]string{"token": "issued-token"})
		default:
			gotAuth = r.Header.Get("Authorization")
			json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, "")
	if err := c.Login(context.Background(), "researcher@example.com", "hunter22"); err != nil {
		t.Fatal(err)
	}

	csvPath := writeTempFile(t, "MouseMovement.csv", "Time,running_time,x,y\n")
	if err := c.UploadInstance(context.Background(), 1, 2, 3, 4, 5, csvPath); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer issued-token" {
		t.Errorf("Authorization = %q, want token from login", gotAuth)
	}
}

func TestUploadInstance(t *testing.T) {
	var gotPath, partType, partName, partBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		f, fh, err := r.FormFile("input_csv")
		if err != nil {
			t.Errorf("input_csv part: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		partName = fh.Filename
		partType = fh.Header.Get("Content-Type")
		body, _ := io.ReadAll(f)
		partBody = string(body)
		json.NewEncoder(w).Encode(map[string]any{"session_data_instance_id": 7})
	}))
	defer server.Close()

	csvPath := writeTempFile(t, "MouseMovement.csv", "Time,running_time,x,y\n10:00:01,0.50,1,2\n")
	c := NewClient(server.URL, "tok")
	if err := c.UploadInstance(context.Background(), 11, 22, 33, 44, 55, csvPath); err != nil {
		t.Fatal(err)
	}

	if gotPath != "/api/v1/save_session_data_instance/11/22/33/44/55" {
		t.Errorf("request path = %q", gotPath)
	}
	if partName != "MouseMovement.csv" {
		t.Errorf("part filename = %q", partName)
	}
	if partType != "text/csv" {
		t.Errorf("part content type = %q, want text/csv", partType)
	}
	if partBody != "Time,running_time,x,y\n10:00:01,0.50,1,2\n" {
		t.Errorf("part body = %q", partBody)
	}
}

func TestUploadSessionPackage(t *testing.T) {
	var gotPath, jsonField, zipBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file part: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		zipBody = string(body)
		jsonField = r.FormValue("json")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	zipPath := writeTempFile(t, "session_results_4.zip", "zip-bytes")
	c := NewClient(server.URL, "tok")
	if err := c.UploadSessionPackage(context.Background(), zipPath, []byte(`{"participantSessId":4}`)); err != nil {
		t.Fatal(err)
	}

	if gotPath != "/api/v1/save_participant_session" {
		t.Errorf("request path = %q", gotPath)
	}
	if zipBody != "zip-bytes" {
		t.Errorf("archive body = %q", zipBody)
	}
	if jsonField != `{"participantSessId":4}` {
		t.Errorf("json field = %q", jsonField)
	}
}

func TestUploadInstanceErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error_type":"Duplicate session_data_instance"}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	csvPath := writeTempFile(t, "MouseClicks.csv", "Time,running_time,x,y,button\n")
	c := NewClient(server.URL, "tok")
	if err := c.UploadInstance(context.Background(), 1, 2, 3, 4, 5, csvPath); err == nil {
		t.Fatal("expected error for 500 response")
	}
}
