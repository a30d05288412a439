package httpapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, token string) (*Server, *httptest.Server) {
	t.Helper()

	s := NewServer("127.0.0.1:0", token, "repbot", map[string]string{"~pwm_out": "/motors/pwm"}, "application/json")
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func post(t *testing.T, url, token, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	if len(token) > 0 {
		req.Header.Set(tokenHeader, token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServiceCall(t *testing.T) {
	s, ts := newTestServer(t, "")

	require.NoError(t, s.Serve("~enable", func(ctx context.Context, request []byte) ([]byte, error) {
		assert.Equal(t, `{"enabled":true}`, string(request))
		return []byte(`{"success":true}`), nil
	}))
	require.NoError(t, s.Serve("~config_io", func(ctx context.Context, request []byte) ([]byte, error) {
		return nil, errors.New("failed to decode config_io request")
	}))

	resp := post(t, ts.URL+"/services/repbot/enable", "", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, `{"success":true}`, string(body))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	resp = post(t, ts.URL+"/services/repbot/config_io", "", `{`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, ts.URL+"/services/repbot/missing", "", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInboundTopic(t *testing.T) {
	s, ts := newTestServer(t, "")

	received := make(chan string, 1)
	require.NoError(t, s.Subscribe("~pwm_out", func(payload []byte) {
		received <- string(payload)
	}))

	resp := post(t, ts.URL+"/topics/motors/pwm", "", `{"channel":1,"value":10}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, `{"channel":1,"value":10}`, <-received)
}

func TestLatchedTopic(t *testing.T) {
	s, ts := newTestServer(t, "")

	pub, err := s.Advertise("~digital_in")
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/topics/repbot/digital_in")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.NoError(t, pub.Publish([]byte(`{"channel":3,"value":1}`)))

	resp, err = http.Get(ts.URL + "/topics/repbot/digital_in")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"channel":3,"value":1}`, string(body))

	resp2, err := http.Get(ts.URL + "/topics/repbot/analog_in")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestToken(t *testing.T) {
	s, ts := newTestServer(t, "secret")
	require.NoError(t, s.Serve("~enable", func(ctx context.Context, request []byte) ([]byte, error) {
		return []byte(`{"success":true}`), nil
	}))

	tests := []struct {
		token string
		want  int
	}{
		{"wrong", http.StatusUnauthorized},
		{"SECRET", http.StatusUnauthorized},
		{"", http.StatusUnauthorized},
		{"secret", http.StatusOK},
	}

	for _, tt := range tests {
		resp := post(t, ts.URL+"/services/repbot/enable", tt.token, `{}`)
		assert.Equal(t, tt.want, resp.StatusCode, "token %q", tt.token)
	}
}

func TestConnectServes(t *testing.T) {
	s := NewServer("127.0.0.1:0", "", "repbot", nil, "application/json")
	require.NoError(t, s.Serve("~enable", func(ctx context.Context, request []byte) ([]byte, error) {
		return []byte(`ok`), nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Connect(ctx))

	resp := post(t, "http://"+s.Addr()+"/services/repbot/enable", "", `{}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
