package phrase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// vendorServer fakes the login plus project/job endpoints and records what it
// saw.
type vendorServer struct {
	t        *testing.T
	srv      *httptest.Server
	memsrc   string
	filename string
	deleted  []string
}

func newVendorServer(t *testing.T) *vendorServer {
	t.Helper()
	v := &vendorServer{t: t}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api2/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token":   "tok-1",
			"expires": time.Now().Add(time.Hour).Format(time.RFC3339),
		})
	})
	mux.HandleFunc("POST /api2/v2/projects/applyTemplate/{template}", func(w http.ResponseWriter, r *http.Request) {
		v.requireToken(r)
		if r.PathValue("template") != "tpl-1" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"uid": "proj-1"})
	})
	mux.HandleFunc("POST /api2/v1/projects/{project}/jobs", func(w http.ResponseWriter, r *http.Request) {
		v.requireToken(r)
		v.memsrc = r.Header.Get("Memsource")
		file, header, err := r.FormFile("file")
		if err != nil {
			v.t.Errorf("job upload without file part: %v", err)
			http.Error(w, "bad upload", http.StatusBadRequest)
			return
		}
		defer func() {
			_ = file.Close()
		}()
		v.filename = header.Filename
		_ = json.NewEncoder(w).Encode(map[string]any{"jobs": []map[string]any{
			{"uid": "job-1", "filename": header.Filename, "status": JobStatusNew, "targetLang": "pt", "workflowLevel": 1},
			{"uid": "job-2", "filename": header.Filename, "status": JobStatusNew, "targetLang": "pt", "workflowLevel": 2},
		}})
	})
	mux.HandleFunc("GET /api2/v1/projects/{project}/jobs/{job}/preview", func(w http.ResponseWriter, r *http.Request) {
		v.requireToken(r)
		if r.PathValue("job") == "gone" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"fields":[]}`))
	})
	mux.HandleFunc("DELETE /api2/v1/projects/{project}", func(w http.ResponseWriter, r *http.Request) {
		v.requireToken(r)
		v.deleted = append(v.deleted, r.PathValue("project"))
		w.WriteHeader(http.StatusNoContent)
	})
	v.srv = httptest.NewServer(mux)
	t.Cleanup(v.srv.Close)
	return v
}

func (v *vendorServer) requireToken(r *http.Request) {
	if got := r.Header.Get("Authorization"); got != "ApiToken tok-1" {
		v.t.Errorf("Authorization = %q", got)
	}
}

func (v *vendorServer) client(t *testing.T) *HTTPClient {
	t.Helper()
	tokens := NewTokenSource(TokenSourceOptions{
		BaseURL:  v.srv.URL,
		Username: "user",
		Password: "secret",
	})
	c, err := NewHTTPClient(HTTPClientOptions{BaseURL: v.srv.URL, Tokens: tokens})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	return c
}

func TestCreateProjectAppliesTemplate(t *testing.T) {
	v := newVendorServer(t)
	c := v.client(t)

	uid, err := c.CreateProject(context.Background(), CreateProjectParams{
		TemplateUID: "tpl-1",
		Name:        "[phrasebridge] Hello (title__r1)",
		SourceLang:  "en",
		TargetLangs: []string{"pt"},
	})
	if err != nil {
		t.Fatalf("CreateProject returned error: %v", err)
	}
	if uid != "proj-1" {
		t.Fatalf("uid = %q", uid)
	}
}

func TestCreateJobsUploadsMultipartWithTargetLang(t *testing.T) {
	v := newVendorServer(t)
	c := v.client(t)

	jobs, err := c.CreateJobs(context.Background(), "proj-1", []JobUpload{{
		TargetLang: "pt",
		Filename:   "[phrasebridge] phrase.ptd.pt--title__r1.json",
		Content:    []byte(`{"fields":[]}`),
	}})
	if err != nil {
		t.Fatalf("CreateJobs returned error: %v", err)
	}
	// One upload fans out into one job per workflow step.
	if len(jobs) != 2 || jobs[0].UID != "job-1" || jobs[1].WorkflowLevel != 2 {
		t.Fatalf("jobs = %+v", jobs)
	}
	if v.filename != "[phrasebridge] phrase.ptd.pt--title__r1.json" {
		t.Fatalf("uploaded filename = %q", v.filename)
	}
	if !strings.Contains(v.memsrc, `"targetLangs":["pt"]`) {
		t.Fatalf("Memsource header = %q", v.memsrc)
	}
}

func TestJobPreviewTreatsNotFoundAsEmpty(t *testing.T) {
	v := newVendorServer(t)
	c := v.client(t)

	content, err := c.JobPreview(context.Background(), "proj-1", "job-1")
	if err != nil {
		t.Fatalf("JobPreview returned error: %v", err)
	}
	if string(content) != `{"fields":[]}` {
		t.Fatalf("content = %q", content)
	}

	content, err = c.JobPreview(context.Background(), "proj-1", "gone")
	if err != nil || content != nil {
		t.Fatalf("missing preview: content=%q err=%v", content, err)
	}
}

func TestDeleteProjectToleratesNotFound(t *testing.T) {
	v := newVendorServer(t)
	c := v.client(t)

	if err := c.DeleteProject(context.Background(), "proj-1"); err != nil {
		t.Fatalf("DeleteProject returned error: %v", err)
	}
	if len(v.deleted) != 1 || v.deleted[0] != "proj-1" {
		t.Fatalf("deleted = %v", v.deleted)
	}
}

func TestCreateProjectSurfacesVendorErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api2/v1/auth/login" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"token":   "tok-1",
				"expires": time.Now().Add(time.Hour).Format(time.RFC3339),
			})
			return
		}
		http.Error(w, `{"errorCode":"TemplateNotFound"}`, http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)
	tokens := NewTokenSource(TokenSourceOptions{BaseURL: srv.URL, Username: "user", Password: "secret"})
	c, err := NewHTTPClient(HTTPClientOptions{BaseURL: srv.URL, Tokens: tokens})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	_, err = c.CreateProject(context.Background(), CreateProjectParams{TemplateUID: "nope"})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("err = %v", err)
	}
}
