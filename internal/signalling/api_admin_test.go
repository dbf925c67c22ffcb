package signalling

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/api"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withCredential(c *config.AppConfig) {
	cred := "secret"
	c.Security.AdminCredential = &cred
}

func adminRequest(t *testing.T, s *Server, method, path string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.SetBasicAuth("admin", "secret")
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestAdminApiRequiresCredential(t *testing.T) {
	s := newTestServer(t, withCredential)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/streams", nil)
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/streams", nil)
	req.SetBasicAuth("admin", "wrong")
	resp, err = s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminApiStreamsAndSessions(t *testing.T) {
	s := newTestServer(t, withCredential)
	pub, pubSock := register(t, s)

	status, body := adminRequest(t, s, http.MethodGet, "/api/admin/streams")
	require.Equal(t, http.StatusOK, status)
	var streams []api.Stream
	require.NoError(t, json.Unmarshal(body, &streams))
	assert.Empty(t, streams)

	s.processClientMessage(pub, []byte(`{"event":"message","transaction":"t1","body":{"request":"publish","name":"cam"}}`))
	pubSock.nextServerMessage(t, eventFor("t1"))

	status, body = adminRequest(t, s, http.MethodGet, "/api/admin/streams")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &streams))
	require.Len(t, streams, 1)
	assert.Equal(t, "cam", streams[0].Name)
	assert.Equal(t, string(pub.Handle), streams[0].Owner)

	status, body = adminRequest(t, s, http.MethodGet, "/api/admin/streams/cam")
	require.Equal(t, http.StatusOK, status)
	var stream api.Stream
	require.NoError(t, json.Unmarshal(body, &stream))
	assert.Equal(t, "session", stream.Kind)

	status, body = adminRequest(t, s, http.MethodGet, "/api/admin/streams/nope")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Stream not found", string(body))

	status, body = adminRequest(t, s, http.MethodGet, "/api/admin/sessions/"+string(pub.Handle))
	require.Equal(t, http.StatusOK, status)
	var session api.Session
	require.NoError(t, json.Unmarshal(body, &session))
	assert.Equal(t, "publisher", session.Role)

	status, _ = adminRequest(t, s, http.MethodGet, "/api/admin/sessions/nope")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = adminRequest(t, s, http.MethodGet, "/api/admin/connections")
	require.Equal(t, http.StatusOK, status)
	var conns connectionsStatus
	require.NoError(t, json.Unmarshal(body, &conns))
	assert.Equal(t, connectionsStatus{Sessions: 1}, conns)

	status, body = adminRequest(t, s, http.MethodDelete, "/api/admin/sessions/"+string(pub.Handle))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Ok", string(body))
	assert.True(t, pubSock.closed.Load())

	status, _ = adminRequest(t, s, http.MethodDelete, "/api/admin/sessions/"+string(pub.Handle))
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAdminApiWatchdog(t *testing.T) {
	s := newTestServer(t, withCredential)
	pub, pubSock := register(t, s)
	s.processClientMessage(pub, []byte(`{"event":"message","transaction":"t1","body":{"request":"publish","name":"cam"}}`))
	pubSock.nextServerMessage(t, eventFor("t1"))
	s.processClientMessage(pub, []byte(`{"event":"message","transaction":"t2","body":{"request":"unpublish"}}`))
	pubSock.nextServerMessage(t, eventFor("t2"))

	status, body := adminRequest(t, s, http.MethodGet, "/api/admin/watchdog")
	require.Equal(t, http.StatusOK, status)
	var w watchdogStatus
	require.NoError(t, json.Unmarshal(body, &w))
	assert.Equal(t, 1, w.Pending)
}

func TestMetricsAndUpgradeRoutes(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = s.app.Test(httptest.NewRequest(http.MethodGet, "/ws/session", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestIsAdminIpAddr(t *testing.T) {
	s := newTestServer(t, func(c *config.AppConfig) {
		c.Security.AdminsNetworks = nil
		withCredential(c)
	})
	ok, err := s.isAdminIpAddr("10.0.0.1:5000")
	require.NoError(t, err)
	assert.False(t, ok)

	cfg := *s.cfg()
	cfg.Security.AdminsNetworks = append(cfg.Security.AdminsNetworks, mustPrefix(t, "10.0.0.0/8"))
	s.ApplyConfig(&cfg)

	ok, err = s.isAdminIpAddr("10.0.0.1:5000")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.isAdminIpAddr("[::ffff:10.1.2.3]:80")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.isAdminIpAddr("not an addr")
	assert.Error(t, err)

	assert.True(t, s.checkAdminCredential("secret"))
	assert.False(t, s.checkAdminCredential(""))
}
