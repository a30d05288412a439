// Package params provides the parameter stores a session reads its startup
// parameters from.
package params

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const defaultHttpTimeout = 2 * time.Second
const maxParamBodySize = 64 << 10

var ErrNotFound = errors.New("parameter not found")

type Store interface {
	Get(ctx context.Context, key string) (string, error)
}

// Map is a fixed set of parameters, keyed by resolved name.
type Map map[string]string

func (m Map) Get(ctx context.Context, key string) (string, error) {
	value, ok := m[key]
	if !ok {
		return "", errors.Wrapf(ErrNotFound, "key %s", key)
	}
	return value, nil
}

// Chain asks each store in turn and returns the first value found.
type Chain []Store

func (c Chain) Get(ctx context.Context, key string) (value string, err error) {
	err = errors.Wrapf(ErrNotFound, "key %s", key)
	for _, store := range c {
		var storeErr error
		value, storeErr = store.Get(ctx, key)
		if storeErr == nil {
			return value, nil
		}
		err = storeErr
	}
	return "", err
}

// HTTPStore reads parameters from a server answering
// GET <Host>/params/<key> with the plain text value.
type HTTPStore struct {
	Host    string
	Token   string
	Timeout time.Duration
}

func NewHTTPStore(host, token string) *HTTPStore {
	return &HTTPStore{
		Host:    host,
		Token:   token,
		Timeout: defaultHttpTimeout,
	}
}

func (hs *HTTPStore) Get(ctx context.Context, key string) (string, error) {
	reqUrl, err := url.Parse(hs.Host)
	if err != nil {
		return "", errors.Wrap(err, "param server: failed to parse Host url")
	}
	reqUrl = reqUrl.JoinPath("params", strings.TrimPrefix(key, "/"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqUrl.String(), nil)
	if err != nil {
		return "", errors.Wrap(err, "param server: error preparing request")
	}
	if len(hs.Token) > 0 {
		req.Header.Add("repbot-token", hs.Token)
	}

	var netClient = &http.Client{
		Timeout: hs.Timeout,
	}
	if netClient.Timeout <= 0 {
		netClient.Timeout = defaultHttpTimeout
	}

	response, err := netClient.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "param server: request for %s failed", key)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return "", errors.Wrapf(ErrNotFound, "key %s", key)
	}
	if response.StatusCode >= 300 {
		return "", errors.Errorf("param server: unexpected response code %d for %s", response.StatusCode, key)
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, maxParamBodySize))
	if err != nil {
		return "", errors.Wrap(err, "param server: reading response failed")
	}
	return strings.TrimSpace(string(body)), nil
}
