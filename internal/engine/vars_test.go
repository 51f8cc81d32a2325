package engine

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// fakeSystem counts lookups so tests can prove short-circuit behavior.
type fakeSystem struct {
	clipboard      string
	network        string
	battery        int
	clipboardCalls int
}

func (f *fakeSystem) ClipboardText() (string, error) {
	f.clipboardCalls++
	return f.clipboard, nil
}

func (f *fakeSystem) NetworkType() string { return f.network }
func (f *fakeSystem) BatteryLevel() int   { return f.battery }

func newTestRunContext(sys SystemSource) *RunContext {
	if sys == nil {
		sys = &fakeSystem{network: "wifi", battery: 80}
	}
	return NewRunContext(1, uuid.New(), TriggerManual, sys)
}

func TestResolve_LiteralPassthrough(t *testing.T) {
	run := newTestRunContext(nil)
	if got := ResolveText(run, "no placeholders here"); got != "no placeholders here" {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestResolve_Substitution(t *testing.T) {
	run := newTestRunContext(nil)
	run.SetVar("name", "world")
	if got := ResolveText(run, "hello {name}!"); got != "hello world!" {
		t.Fatalf("got %q", got)
	}
}

func TestResolve_UnresolvableStaysVerbatim(t *testing.T) {
	run := newTestRunContext(nil)
	if got := ResolveText(run, "value: {missing}"); got != "value: {missing}" {
		t.Fatalf("got %q", got)
	}
}

func TestResolve_UnresolvableWarns(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	run := newTestRunContext(nil)
	ResolveText(run, "value: {missing}")
	ResolveText(run, "{alsoMissing}")

	out := buf.String()
	if !strings.Contains(out, "variable not found") || !strings.Contains(out, "missing") {
		t.Fatalf("expected lookup miss warning, got %q", out)
	}
	if !strings.Contains(out, "alsoMissing") {
		t.Fatalf("expected bare placeholder warning, got %q", out)
	}
}

func TestResolve_PreservesNativeValueForBarePlaceholder(t *testing.T) {
	run := newTestRunContext(nil)
	run.SetVar("count", float64(5))
	r := Resolve(run, "{count}")
	if n, ok := r.Value.(float64); !ok || n != 5 {
		t.Fatalf("expected native 5, got %#v", r.Value)
	}
	if r.Text != "5" {
		t.Fatalf("expected text 5, got %q", r.Text)
	}
}

func TestResolve_NonStringSplicesAsJSON(t *testing.T) {
	run := newTestRunContext(nil)
	run.SetVar("user", map[string]any{"name": "ann"})
	if got := ResolveText(run, "u={user}"); got != `u={"name":"ann"}` {
		t.Fatalf("got %q", got)
	}
}

func TestResolve_DotPathIntoObjectAndArray(t *testing.T) {
	run := newTestRunContext(nil)
	run.SetVar("resp", map[string]any{
		"items": []any{map[string]any{"id": float64(7)}},
	})
	r := Resolve(run, "{resp.items.0.id}")
	if n, ok := r.Value.(float64); !ok || n != 7 {
		t.Fatalf("expected 7, got %#v", r.Value)
	}
}

func TestResolve_RecursiveExpansion(t *testing.T) {
	run := newTestRunContext(nil)
	run.SetVar("greeting", "hello {name}")
	run.SetVar("name", "bob")
	if got := ResolveText(run, "{greeting}"); got != "hello bob" {
		t.Fatalf("got %q", got)
	}
}

func TestResolve_DepthCutoffFlagged(t *testing.T) {
	run := newTestRunContext(nil)
	run.SetVar("a", "{b}")
	run.SetVar("b", "{a}")
	r := Resolve(run, "{a}")
	if !r.DepthExceeded {
		t.Fatalf("expected depth exceeded flag")
	}
}

func TestResolve_SystemVariables(t *testing.T) {
	sys := &fakeSystem{clipboard: "copied", network: "mobile", battery: 42}
	run := newTestRunContext(sys)

	if got := ResolveText(run, "{clipboard}"); got != "copied" {
		t.Fatalf("clipboard: got %q", got)
	}
	if got := ResolveText(run, "{network_type}"); got != "mobile" {
		t.Fatalf("network: got %q", got)
	}
	if got := ResolveText(run, "{battery_level}"); got != "42" {
		t.Fatalf("battery: got %q", got)
	}

	date := ResolveText(run, "{date}")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		t.Fatalf("date format: %q", date)
	}
	clock := ResolveText(run, "{time}")
	if _, err := time.Parse("15:04:05", clock); err != nil {
		t.Fatalf("time format: %q", clock)
	}
}

func TestResolve_RunShadowsGlobal(t *testing.T) {
	run := newTestRunContext(nil)
	run.SeedVariables(map[string]any{"who": "global"}, nil)
	if got := ResolveText(run, "{who}"); got != "global" {
		t.Fatalf("got %q", got)
	}
	run.SetVar("who", "run")
	if got := ResolveText(run, "{who}"); got != "run" {
		t.Fatalf("got %q", got)
	}
}

func TestTokenize_UnterminatedBraceIsLiteral(t *testing.T) {
	run := newTestRunContext(nil)
	if got := ResolveText(run, "broken {oops"); got != "broken {oops" {
		t.Fatalf("got %q", got)
	}
}
