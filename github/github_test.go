package github

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreatePullRequest(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"html_url": "https://github.com/o/r/pull/42",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	url, err := client.CreatePullRequest(context.Background(), PullRequestOptions{
		Token: "tok",
		Owner: "o",
		Repo:  "r",
		Title: "Agent task: fix bug",
		Body:  "body",
		Head:  "agent/session_abc",
		Base:  "main",
	})
	if err != nil {
		t.Fatalf("create pull request: %v", err)
	}

	if url != "https://github.com/o/r/pull/42" {
		t.Errorf("unexpected pr url %q", url)
	}
	if gotPath != "/repos/o/r/pulls" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotAuth != "token tok" {
		t.Errorf("unexpected authorization header %q", gotAuth)
	}
	if gotBody["head"] != "agent/session_abc" || gotBody["base"] != "main" {
		t.Errorf("unexpected request body %+v", gotBody)
	}
	if gotBody["maintainer_can_modify"] != true {
		t.Errorf("expected maintainer_can_modify, got %+v", gotBody)
	}
}

func TestCreatePullRequest_FallsBackToAPIURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"url": "https://api.github.com/repos/o/r/pulls/42",
		})
	}))
	defer server.Close()

	url, err := NewClient(server.URL).CreatePullRequest(context.Background(), PullRequestOptions{})
	if err != nil {
		t.Fatalf("create pull request: %v", err)
	}
	if url != "https://api.github.com/repos/o/r/pulls/42" {
		t.Errorf("expected url fallback, got %q", url)
	}
}

func TestCreatePullRequest_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message": "Validation Failed"}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL).CreatePullRequest(context.Background(), PullRequestOptions{})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected status 422, got %d", apiErr.StatusCode)
	}
	if apiErr.Body != `{"message": "Validation Failed"}` {
		t.Errorf("expected response body in error, got %q", apiErr.Body)
	}
}

func TestDefaultBranch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/o/r" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"default_branch": "trunk"})
	}))
	defer server.Close()

	branch, err := NewClient(server.URL).DefaultBranch(context.Background(), "tok", "o", "r")
	if err != nil {
		t.Fatalf("default branch: %v", err)
	}
	if branch != "trunk" {
		t.Errorf("expected trunk, got %q", branch)
	}
}

func TestBranchExists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/o/r/branches/main":
			json.NewEncoder(w).Encode(map[string]string{"name": "main"})
		case "/repos/o/r/branches/ghost":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL)

	exists, err := client.BranchExists(context.Background(), "tok", "o", "r", "main")
	if err != nil {
		t.Fatalf("branch exists: %v", err)
	}
	if !exists {
		t.Error("expected main to exist")
	}

	exists, err = client.BranchExists(context.Background(), "tok", "o", "r", "ghost")
	if err != nil {
		t.Fatalf("404 should not be an error: %v", err)
	}
	if exists {
		t.Error("expected ghost to be absent")
	}

	if _, err := client.BranchExists(context.Background(), "tok", "o", "r", "broken"); err == nil {
		t.Error("expected error for 500 response")
	}
}
