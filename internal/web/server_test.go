package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sweeney/motor-valve/internal/controller"
	"github.com/sweeney/motor-valve/internal/logic"
	"github.com/sweeney/motor-valve/internal/status"
)

type queue struct {
	cmds []controller.Command
	full bool
}

func (q *queue) submit(cmd controller.Command) bool {
	if q.full {
		return false
	}
	q.cmds = append(q.cmds, cmd)
	return true
}

func newTestServer(t *testing.T) (*httptest.Server, *status.Tracker, *queue) {
	t.Helper()
	clock := logic.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	tr := status.NewTracker(clock, status.Config{
		PollMs:      50,
		HeartbeatMs: 900000,
		Broker:      "tcp://192.168.1.200:1883",
		TopicPrefix: "pool/valves",
		HTTPAddr:    ":8080",
	})
	tr.UpdateValves([]logic.Snapshot{{
		Label:        "solar",
		Status:       logic.StatusHalfOpen,
		Phase:        logic.PhaseIdle,
		CurrentAngle: 45,
		TargetAngle:  45,
		StartAngle:   0,
		MaxAngle:     90,
	}})

	q := &queue{}
	srv := New(":0", tr, q.submit)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr, q
}

func post(t *testing.T, url string) (*http.Response, commandResponse) {
	t.Helper()
	resp, err := http.Post(url, "text/plain", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body commandResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr, _ := newTestServer(t)
	tr.SetMQTTConnected(true)

	resp, err := http.Get(ts.URL + "/index.json")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var sj status.StatusJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sj))
	require.True(t, sj.Status.MQTT.Connected)
	require.Equal(t, "tcp://192.168.1.200:1883", sj.Status.MQTT.Broker)
	require.Len(t, sj.Status.Valves, 1)
	require.Equal(t, "solar", sj.Status.Valves[0].Name)
	require.Equal(t, 45, sj.Status.Valves[0].CurrentAngle)
	require.EqualValues(t, 50, sj.Status.Config.PollMs)
}

func TestHTMLEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	for _, path := range []string{"/", "/index.html"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"), path)
		require.Contains(t, string(body), `action="/valves/solar/close"`)
		require.Contains(t, string(body), "HALFOPEN")
		require.NotContains(t, string(body), "<th>Network</th>")
	}
}

func TestHTMLShowsNetwork(t *testing.T) {
	ts, tr, _ := newTestServer(t)
	tr.SetNetwork(&status.Network{Type: "wifi", Status: "connected", IP: "192.168.1.40", Gateway: "192.168.1.1", WifiStatus: "up", SSID: "garden"})

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	require.Contains(t, string(body), "wifi connected")
	require.Contains(t, string(body), "192.168.1.40 via 192.168.1.1")
	require.Contains(t, string(body), "garden (up)")
}

func TestValveEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/valves/solar")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var v status.ValveJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	require.Equal(t, "HALFOPEN", v.Status)
	require.Equal(t, 90, v.MaxAngle)
}

func TestValveEndpointUnknown(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/valves/pump")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nonexistent")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCommandEndpointsRequirePost(t *testing.T) {
	ts, _, q := newTestServer(t)

	resp, err := http.Get(ts.URL + "/valves/solar/close")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	require.Empty(t, q.cmds)
}

func TestActionCommand(t *testing.T) {
	ts, tr, q := newTestServer(t)

	resp, body := post(t, ts.URL+"/valves/solar/CLOSE")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, "solar close", body.Accepted)
	require.Equal(t, []controller.Command{{Valve: "solar", Action: controller.ActionClose, Source: "http"}}, q.cmds)
	require.Zero(t, tr.Snapshot().Counts.Rejected)
}

func TestAngleCommand(t *testing.T) {
	ts, _, q := newTestServer(t)

	resp, body := post(t, ts.URL+"/valves/solar/angle/30")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, "solar angle 30", body.Accepted)
	require.Len(t, q.cmds, 1)
	require.Equal(t, controller.ActionAngle, q.cmds[0].Action)
	require.Equal(t, 30, q.cmds[0].Angle)
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
		code int
	}{
		{"unknown action", "/valves/solar/spin", http.StatusBadRequest},
		{"angle without value", "/valves/solar/angle", http.StatusBadRequest},
		{"non-numeric angle", "/valves/solar/angle/wide", http.StatusBadRequest},
		{"unknown valve", "/valves/pump/open", http.StatusNotFound},
		{"unknown valve angle", "/valves/pump/angle/10", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, tr, q := newTestServer(t)

			resp, body := post(t, ts.URL+tt.path)
			require.Equal(t, tt.code, resp.StatusCode)
			require.NotEmpty(t, body.Error)
			require.Empty(t, q.cmds)
			require.Equal(t, 1, tr.Snapshot().Counts.Rejected)
		})
	}
}

func TestQueueFull(t *testing.T) {
	ts, tr, q := newTestServer(t)
	q.full = true

	resp, body := post(t, ts.URL+"/valves/solar/open")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Contains(t, body.Error, "queue full")

	counts := tr.Snapshot().Counts
	require.Equal(t, 1, counts.Rejected)
	require.Equal(t, 0, counts.Commands)
}

func TestFormPostRedirectsToIndex(t *testing.T) {
	ts, _, q := newTestServer(t)

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/valves/solar/halfopen", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get("Location"))
	require.Len(t, q.cmds, 1)
}

func TestReadOnlyServerRejectsCommands(t *testing.T) {
	clock := logic.NewFakeClock(time.Now())
	tr := status.NewTracker(clock, status.Config{})
	tr.UpdateValves([]logic.Snapshot{{Label: "solar", MaxAngle: 90}})
	ts := httptest.NewServer(New(":0", tr, nil).Handler())
	defer ts.Close()

	resp, _ := post(t, ts.URL+"/valves/solar/open")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
