package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func httpAction(t *testing.T, cfg HTTPRequestConfig) Action {
	t.Helper()
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	return Action{MacroID: 1, Type: ActionHTTPRequest, Config: raw}
}

func TestHTTPRequest_SuccessWithJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Token") != "secret" {
			t.Errorf("header not forwarded: %q", r.Header.Get("X-Token"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"temp":21.5}`))
	}))
	defer srv.Close()

	run := newTestRunContext(nil)
	run.SetVar("token", "secret")
	exec := newHTTPRequestExecutor(srv.Client())

	out, err := exec.Execute(context.Background(), run, httpAction(t, HTTPRequestConfig{
		Method:         "GET",
		URL:            srv.URL,
		Headers:        map[string]string{"X-Token": "{token}"},
		SaveResponseTo: "resp",
	}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	result, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("unexpected output %#v", out)
	}
	if result["status_code"] != 200 || result["success"] != true {
		t.Fatalf("got %#v", result)
	}
	data, ok := result["data"].(map[string]any)
	if !ok || data["temp"] != 21.5 {
		t.Fatalf("body not parsed: %#v", result["data"])
	}

	// saved response is addressable with dot paths
	if got := ResolveText(run, "{resp.data.temp}"); got != "21.5" {
		t.Fatalf("got %q", got)
	}
}

func TestHTTPRequest_NonSuccessStatusCompletes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	run := newTestRunContext(nil)
	exec := newHTTPRequestExecutor(srv.Client())

	out, err := exec.Execute(context.Background(), run, httpAction(t, HTTPRequestConfig{Method: "GET", URL: srv.URL}))
	if err != nil {
		t.Fatalf("non-2xx should not fail the action: %v", err)
	}
	result := out.(map[string]any)
	if result["status_code"] != 500 || result["success"] != false {
		t.Fatalf("got %#v", result)
	}
	if result["body"] != "boom" {
		t.Fatalf("got body %#v", result["body"])
	}
}

func TestHTTPRequest_TransportErrorFails(t *testing.T) {
	run := newTestRunContext(nil)
	exec := newHTTPRequestExecutor(nil)

	_, err := exec.Execute(context.Background(), run, httpAction(t, HTTPRequestConfig{
		Method:    "GET",
		URL:       "http://127.0.0.1:1",
		TimeoutMS: 500,
	}))
	if err == nil {
		t.Fatalf("expected transport error")
	}
}

func TestHTTPRequest_ResolvesURLAndBody(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(b)
		gotBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	run := newTestRunContext(nil)
	run.SetVar("id", "42")
	run.SetVar("payload", `{"on":true}`)
	exec := newHTTPRequestExecutor(srv.Client())

	_, err := exec.Execute(context.Background(), run, httpAction(t, HTTPRequestConfig{
		Method: "POST",
		URL:    srv.URL + "/devices/{id}",
		Body:   "{payload}",
	}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if gotPath != "/devices/42" {
		t.Fatalf("url not resolved: %q", gotPath)
	}
	if gotBody != `{"on":true}` {
		t.Fatalf("body not resolved: %q", gotBody)
	}
}
