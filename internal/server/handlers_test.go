package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"aimtrainer/internal/db"
	"aimtrainer/internal/events"
	"aimtrainer/internal/round"
	"aimtrainer/internal/settings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/jonboulle/clockwork"
)

func newTestServer(t *testing.T, withDB bool) (*Server, *httptest.Server, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	opts := Options{Clock: clock, AllowedOrigins: []string{"*"}}
	if withDB {
		database, err := db.Connect("sqlite://:memory:")
		if err != nil {
			t.Fatalf("Connect() error: %v", err)
		}
		if err := database.Migrate(); err != nil {
			t.Fatalf("Migrate() error: %v", err)
		}
		t.Cleanup(func() { database.Close() })
		opts.DB = database
	}

	srv := New(opts)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, ts, clock
}

func newClientWithJar(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// register creates a profile and returns its id from the cookie.
func register(t *testing.T, client *http.Client, baseURL string) string {
	t.Helper()
	resp, err := client.PostForm(baseURL+"/profile/register", url.Values{"name": {"Alice"}})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("register status = %d, want %d", resp.StatusCode, http.StatusSeeOther)
	}

	u, _ := url.Parse(baseURL)
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == profileCookie {
			return c.Value
		}
	}
	t.Fatal("profile_id cookie not set after register")
	return ""
}

func postJSON(t *testing.T, client *http.Client, target string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = strings.NewReader(string(data))
	}
	resp, err := client.Post(target, "application/json", r)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeSnapshot(t *testing.T, resp *http.Response) round.Snapshot {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, body %q", resp.StatusCode, body)
	}
	var s round.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	return s
}

func TestHandleHome(t *testing.T) {
	_, ts, _ := newTestServer(t, false)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `action="/profile/register"`) {
		t.Error("unregistered home page should show the register form")
	}
}

func TestHandleRegister(t *testing.T) {
	srv, ts, _ := newTestServer(t, true)
	client := newClientWithJar(t)

	id := register(t, client, ts.URL)

	p, err := srv.DB.GetProfile(context.Background(), id)
	if err != nil {
		t.Fatalf("GetProfile() error: %v", err)
	}
	if p.Username != "Alice" {
		t.Errorf("username = %q, want Alice", p.Username)
	}

	resp, err := client.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `id="area"`) {
		t.Error("registered home page should show the play area")
	}
}

func TestHandleRegister_EmptyName(t *testing.T) {
	_, ts, _ := newTestServer(t, false)
	client := newClientWithJar(t)

	resp, err := client.PostForm(ts.URL+"/profile/register", url.Values{"name": {"  "}})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestPlayRoutes_NotRegistered(t *testing.T) {
	_, ts, _ := newTestServer(t, false)

	cases := []struct {
		method, path string
	}{
		{http.MethodGet, "/play/state"},
		{http.MethodPost, "/play/start"},
		{http.MethodPost, "/play/hit/1"},
		{http.MethodPost, "/play/miss"},
		{http.MethodGet, "/settings"},
		{http.MethodGet, "/sessions"},
	}
	for _, tc := range cases {
		req, _ := http.NewRequest(tc.method, ts.URL+tc.path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest || !strings.Contains(string(body), "Not Registered") {
			t.Errorf("%s %s = %d %q, want 400 Not Registered", tc.method, tc.path, resp.StatusCode, body)
		}
	}
}

func TestPlay_StateStartHitMiss(t *testing.T) {
	_, ts, _ := newTestServer(t, false)
	client := newClientWithJar(t)
	register(t, client, ts.URL)

	resp, err := client.Get(ts.URL + "/play/state")
	if err != nil {
		t.Fatal(err)
	}
	s := decodeSnapshot(t, resp)
	if s.Phase != round.PhaseIdle || s.TimeLeft != settings.Default().GameTime {
		t.Fatalf("initial state = %+v, want idle with default time", s)
	}

	s = decodeSnapshot(t, postJSON(t, client, ts.URL+"/play/start", nil))
	if s.Phase != round.PhasePlaying || s.Target == nil {
		t.Fatalf("after start = %+v, want playing with a target", s)
	}

	hitID := s.Target.ID
	s = decodeSnapshot(t, postJSON(t, client, fmt.Sprintf("%s/play/hit/%d", ts.URL, hitID), nil))
	if s.Score != 1 || s.Misses != 0 {
		t.Fatalf("after hit score/misses = %d/%d, want 1/0", s.Score, s.Misses)
	}
	if s.Target == nil || s.Target.ID == hitID {
		t.Fatal("hit should move the target")
	}

	// The old target is gone, so clicking it again is a miss.
	s = decodeSnapshot(t, postJSON(t, client, fmt.Sprintf("%s/play/hit/%d", ts.URL, hitID), nil))
	if s.Score != 1 || s.Misses != 1 {
		t.Fatalf("stale hit score/misses = %d/%d, want 1/1", s.Score, s.Misses)
	}

	s = decodeSnapshot(t, postJSON(t, client, ts.URL+"/play/miss", nil))
	if s.Misses != 2 {
		t.Fatalf("misses = %d, want 2", s.Misses)
	}
	if want := round.Accuracy(1, 2); s.Accuracy != want {
		t.Errorf("accuracy = %v, want %v", s.Accuracy, want)
	}
}

func TestPlay_InvalidTargetID(t *testing.T) {
	_, ts, _ := newTestServer(t, false)
	client := newClientWithJar(t)
	register(t, client, ts.URL)

	resp := postJSON(t, client, ts.URL+"/play/hit/abc", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestPlay_Resize(t *testing.T) {
	_, ts, _ := newTestServer(t, false)
	client := newClientWithJar(t)
	register(t, client, ts.URL)

	resp := postJSON(t, client, ts.URL+"/play/resize", map[string]float64{"w": 0, "h": 100})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("zero width status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}

	decodeSnapshot(t, postJSON(t, client, ts.URL+"/play/start", nil))
	s := decodeSnapshot(t, postJSON(t, client, ts.URL+"/play/resize", map[string]float64{"w": 100, "h": 80}))
	if s.Target == nil {
		t.Fatal("playing snapshot should have a target")
	}
	size := float64(s.Target.Size)
	if s.Target.X < 0 || s.Target.X > 100-size || s.Target.Y < 0 || s.Target.Y > 80-size {
		t.Errorf("target %+v outside resized 100x80 area", *s.Target)
	}
}

func TestSettings_Validation(t *testing.T) {
	_, ts, _ := newTestServer(t, false)
	client := newClientWithJar(t)
	register(t, client, ts.URL)

	bad := []settings.Settings{
		{TargetSize: 10, TargetSpeed: 1000, GameTime: 30},
		{TargetSize: 40, TargetSpeed: 3000, GameTime: 30},
		{TargetSize: 40, TargetSpeed: 1000, GameTime: 5},
	}
	for _, s := range bad {
		resp := postJSON(t, client, ts.URL+"/settings", s)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("POST /settings %+v status = %d, want 400", s, resp.StatusCode)
		}
	}

	resp, err := client.Post(ts.URL+"/settings", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", resp.StatusCode)
	}
}

func TestSettings_SaveAndApply(t *testing.T) {
	srv, ts, _ := newTestServer(t, true)
	client := newClientWithJar(t)
	id := register(t, client, ts.URL)

	want := settings.Settings{TargetSize: 60, TargetSpeed: 800, GameTime: 15}
	resp := postJSON(t, client, ts.URL+"/settings", want)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	saved, err := srv.DB.GetSettings(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSettings() error: %v", err)
	}
	if saved != want {
		t.Errorf("saved = %+v, want %+v", saved, want)
	}

	resp, err = client.Get(ts.URL + "/play/state")
	if err != nil {
		t.Fatal(err)
	}
	s := decodeSnapshot(t, resp)
	if s.Settings != want || s.TimeLeft != 15 {
		t.Errorf("idle state = %+v, want new settings and timeLeft 15", s)
	}
}

func TestSettings_PendingWhilePlaying(t *testing.T) {
	_, ts, _ := newTestServer(t, false)
	client := newClientWithJar(t)
	register(t, client, ts.URL)

	decodeSnapshot(t, postJSON(t, client, ts.URL+"/play/start", nil))

	next := settings.Settings{TargetSize: 20, TargetSpeed: 500, GameTime: 10}
	resp := postJSON(t, client, ts.URL+"/settings", next)
	resp.Body.Close()

	resp, err := client.Get(ts.URL + "/play/state")
	if err != nil {
		t.Fatal(err)
	}
	s := decodeSnapshot(t, resp)
	if s.Settings != settings.Default() {
		t.Errorf("running round settings = %+v, want unchanged defaults", s.Settings)
	}

	resp, err = client.Get(ts.URL + "/settings")
	if err != nil {
		t.Fatal(err)
	}
	var got settings.Settings
	json.NewDecoder(resp.Body).Decode(&got)
	resp.Body.Close()
	if got != next {
		t.Errorf("GET /settings = %+v, want pending %+v", got, next)
	}

	s = decodeSnapshot(t, postJSON(t, client, ts.URL+"/play/start", nil))
	if s.Settings != next || s.TimeLeft != 10 {
		t.Errorf("restarted round = %+v, want pending settings applied", s)
	}
}

// TestFullRound plays a 10 second round with 3 hits and 2 misses and checks
// the result is stored.
func TestFullRound(t *testing.T) {
	srv, ts, clock := newTestServer(t, true)
	client := newClientWithJar(t)
	id := register(t, client, ts.URL)

	resp := postJSON(t, client, ts.URL+"/settings", settings.Settings{TargetSize: 40, TargetSpeed: 2000, GameTime: 10})
	resp.Body.Close()

	sess := srv.Sessions.Get(id)
	if sess == nil {
		t.Fatal("session should exist after settings change")
	}
	sub := sess.Broadcaster.Subscribe()
	defer sess.Broadcaster.Unsubscribe(sub)

	s := decodeSnapshot(t, postJSON(t, client, ts.URL+"/play/start", nil))
	for range 3 {
		s = decodeSnapshot(t, postJSON(t, client, fmt.Sprintf("%s/play/hit/%d", ts.URL, s.Target.ID), nil))
	}
	for range 2 {
		s = decodeSnapshot(t, postJSON(t, client, ts.URL+"/play/miss", nil))
	}

	var last events.Event
	for range 10 {
		clock.Advance(time.Second)
		last = waitForEvent(t, sub, events.TypeTick)
	}
	if last.TimeLeft != 0 {
		t.Errorf("final tick TimeLeft = %d, want 0", last.TimeLeft)
	}
	ended := waitForEvent(t, sub, events.TypeEnded)
	if ended.Score != 3 || ended.Misses != 2 || ended.Accuracy != 60 {
		t.Errorf("ended = %+v, want score 3, misses 2, accuracy 60", ended)
	}

	resp, err := client.Get(ts.URL + "/play/state")
	if err != nil {
		t.Fatal(err)
	}
	s = decodeSnapshot(t, resp)
	if s.Phase != round.PhaseEnded || s.TimeLeft != 0 {
		t.Errorf("state = %+v, want ended with 0 left", s)
	}

	var list []sessionResponse
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := client.Get(ts.URL + "/sessions")
		if err != nil {
			t.Fatal(err)
		}
		list = nil
		json.NewDecoder(resp.Body).Decode(&list)
		resp.Body.Close()
		if len(list) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(list) != 1 {
		t.Fatalf("sessions = %d, want 1", len(list))
	}
	if list[0].Score != 3 || list[0].Misses != 2 || list[0].Accuracy != 60 {
		t.Errorf("stored session = %+v", list[0])
	}
}

func waitForEvent(t *testing.T, ch chan events.Event, typ events.Type) events.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatal("event channel closed")
			}
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q event", typ)
		}
	}
}

func TestSessions_NoDatabase(t *testing.T) {
	_, ts, _ := newTestServer(t, false)
	client := newClientWithJar(t)
	register(t, client, ts.URL)

	resp, err := client.Get(ts.URL + "/sessions")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("body = %q, want []", body)
	}
}

func TestSessions_InvalidLimit(t *testing.T) {
	_, ts, _ := newTestServer(t, true)
	client := newClientWithJar(t)
	register(t, client, ts.URL)

	resp, err := client.Get(ts.URL + "/sessions?limit=-1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleEvents(t *testing.T) {
	_, ts, _ := newTestServer(t, false)
	client := newClientWithJar(t)
	register(t, client, ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/play/events", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if line != "event: state\n" {
		t.Fatalf("first line = %q, want state event", line)
	}
	reader.ReadString('\n') // data
	reader.ReadString('\n') // blank

	decodeSnapshot(t, postJSON(t, client, ts.URL+"/play/start", nil))

	line, err = reader.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if line != "event: state\n" {
		t.Fatalf("after start line = %q, want state event", line)
	}
	data, _ := reader.ReadString('\n')
	var ev events.Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(data, "data: ")), &ev); err != nil {
		t.Fatalf("decoding event: %v", err)
	}
	if ev.Phase != string(round.PhasePlaying) || ev.Target == nil {
		t.Errorf("start event = %+v, want playing with target", ev)
	}
}

func TestHandleWS(t *testing.T) {
	srv, ts, _ := newTestServer(t, false)
	client := newClientWithJar(t)
	register(t, client, ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/play/ws", &websocket.DialOptions{
		HTTPClient: client,
	})
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.CloseNow()

	readUntil := func(typ events.Type) events.Event {
		t.Helper()
		for {
			var ev events.Event
			if err := wsjson.Read(ctx, conn, &ev); err != nil {
				t.Fatalf("read: %v", err)
			}
			if ev.Type == typ {
				return ev
			}
		}
	}

	first := readUntil(events.TypeState)
	if first.Phase != string(round.PhaseIdle) {
		t.Fatalf("initial state phase = %q, want idle", first.Phase)
	}
	if srv.Hub.Count() != 1 {
		t.Errorf("hub count = %d, want 1", srv.Hub.Count())
	}

	if err := wsjson.Write(ctx, conn, map[string]any{"t": "start"}); err != nil {
		t.Fatal(err)
	}
	started := readUntil(events.TypeState)
	if started.Phase != string(round.PhasePlaying) || started.Target == nil {
		t.Fatalf("start event = %+v", started)
	}

	if err := wsjson.Write(ctx, conn, map[string]any{"t": "hit", "id": started.Target.ID}); err != nil {
		t.Fatal(err)
	}
	hit := readUntil(events.TypeHit)
	if hit.Score != 1 {
		t.Errorf("hit score = %d, want 1", hit.Score)
	}

	if err := wsjson.Write(ctx, conn, map[string]any{"t": "miss"}); err != nil {
		t.Fatal(err)
	}
	miss := readUntil(events.TypeMiss)
	if miss.Misses != 1 || miss.Score != 1 {
		t.Errorf("miss event = %+v, want 1/1", miss)
	}

	if err := wsjson.Write(ctx, conn, map[string]any{"t": "bogus"}); err != nil {
		t.Fatal(err)
	}
	var errMsg struct {
		Type  string `json:"t"`
		Error string `json:"error"`
	}
	if err := wsjson.Read(ctx, conn, &errMsg); err != nil {
		t.Fatal(err)
	}
	if errMsg.Type != "error" {
		t.Errorf("got %+v, want error message", errMsg)
	}
}

func TestHandleWS_NotRegistered(t *testing.T) {
	_, ts, _ := newTestServer(t, false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/play/ws", nil)
	if err == nil {
		t.Fatal("Dial() should fail without a profile")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("response = %v, want 400", resp)
	}
}

func TestHandleHealth(t *testing.T) {
	_, ts, _ := newTestServer(t, true)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v, want 200 ok", resp.StatusCode, body)
	}
}

func TestHandleMetrics(t *testing.T) {
	_, ts, _ := newTestServer(t, false)
	client := newClientWithJar(t)
	register(t, client, ts.URL)
	decodeSnapshot(t, postJSON(t, client, ts.URL+"/play/start", nil))

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "aimtrainer_rounds_started_total 1") {
		t.Errorf("metrics missing rounds started:\n%s", body)
	}
	if !strings.Contains(string(body), "aimtrainer_live_sessions 1") {
		t.Errorf("metrics missing live session gauge:\n%s", body)
	}
}
