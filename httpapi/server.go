package httpapi

import (
	"context"
	"crypto/subtle"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/hubertat/repbot"
	"github.com/hubertat/repbot/names"
)

const httpTimeoutsMs = 3000
const maxBodySize = 1 << 20
const tokenHeader = "repbot-token"

// Server exposes the bridge topics and services over plain HTTP:
//
//	POST /services/<name>  call a service, the reply is the body
//	POST /topics/<name>    deliver an inbound message
//	GET  /topics/<name>    last payload published on an outbound topic
type Server struct {
	Token    string
	HttpAddr string

	node        string
	remaps      map[string]string
	contentType string
	logger      *log.Logger

	mu       sync.RWMutex
	handlers map[string]repbot.MessageHandler
	services map[string]repbot.ServiceHandler
	latest   map[string][]byte
	outbound map[string]bool

	router   *httprouter.Router
	server   *http.Server
	listener net.Listener
}

func NewServer(addr, token, node string, remaps map[string]string, contentType string) *Server {
	s := &Server{
		Token:       token,
		HttpAddr:    addr,
		node:        node,
		remaps:      remaps,
		contentType: contentType,
		logger:      repbot.NewLogger("http"),
		handlers:    make(map[string]repbot.MessageHandler),
		services:    make(map[string]repbot.ServiceHandler),
		latest:      make(map[string][]byte),
		outbound:    make(map[string]bool),
	}

	s.router = httprouter.New()
	s.router.POST("/services/*name", s.handleService)
	s.router.POST("/topics/*name", s.handleInbound)
	s.router.GET("/topics/*name", s.handleLatest)

	return s
}

func (s *Server) String() string {
	return "http"
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) resolve(name string) string {
	return names.Resolve(s.node, name, s.remaps)
}

func (s *Server) Subscribe(name string, handler repbot.MessageHandler) error {
	topic := s.resolve(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.handlers[topic]; taken {
		return errors.Errorf("topic %s already subscribed", topic)
	}
	s.handlers[topic] = handler
	return nil
}

type latchedPublisher struct {
	topic  string
	server *Server
}

func (lp *latchedPublisher) Publish(payload []byte) error {
	lp.server.mu.Lock()
	lp.server.latest[lp.topic] = append([]byte(nil), payload...)
	lp.server.mu.Unlock()
	return nil
}

// Advertise returns a publisher keeping the last payload for GET requests.
func (s *Server) Advertise(name string) (repbot.Publisher, error) {
	topic := s.resolve(name)

	s.mu.Lock()
	s.outbound[topic] = true
	s.mu.Unlock()
	return &latchedPublisher{topic: topic, server: s}, nil
}

func (s *Server) Serve(name string, handler repbot.ServiceHandler) error {
	service := s.resolve(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.services[service]; taken {
		return errors.Errorf("service %s already served", service)
	}
	s.services[service] = handler
	return nil
}

// Connect starts listening. The server shuts down when ctx ends.
func (s *Server) Connect(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.HttpAddr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.HttpAddr)
	}
	s.listener = ln

	httpTimeout := httpTimeoutsMs * time.Millisecond
	s.server = &http.Server{
		Handler:           s.router,
		ReadTimeout:       httpTimeout,
		ReadHeaderTimeout: httpTimeout,
		WriteTimeout:      2 * httpTimeout,
		IdleTimeout:       2 * httpTimeout,
	}

	go func() {
		err := s.server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http api listening", "addr", ln.Addr().String())
	return nil
}

// Addr is the bound address once connected.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.HttpAddr
	}
	return s.listener.Addr().String()
}

func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	if len(s.Token) == 0 {
		return true
	}
	if subtle.ConstantTimeCompare([]byte(r.Header.Get(tokenHeader)), []byte(s.Token)) != 1 {
		http.Error(w, "token mismatch", http.StatusUnauthorized)
		return false
	}
	return true
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func (s *Server) handleService(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if !s.authorized(w, r) {
		return
	}

	name := p.ByName("name")
	s.mu.RLock()
	service, found := s.services[name]
	s.mu.RUnlock()
	if !found {
		http.Error(w, "service not found", http.StatusNotFound)
		return
	}

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	reply, err := service(r.Context(), body)
	if err != nil {
		s.logger.Warn("service call failed", "service", name, "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", s.contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(reply)
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if !s.authorized(w, r) {
		return
	}

	name := p.ByName("name")
	s.mu.RLock()
	handler, found := s.handlers[name]
	s.mu.RUnlock()
	if !found {
		http.Error(w, "topic not found", http.StatusNotFound)
		return
	}

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	handler(body)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if !s.authorized(w, r) {
		return
	}

	name := p.ByName("name")
	s.mu.RLock()
	payload, hasPayload := s.latest[name]
	advertised := s.outbound[name]
	s.mu.RUnlock()

	if !advertised {
		http.Error(w, "topic not found", http.StatusNotFound)
		return
	}
	if !hasPayload {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", s.contentType)
	w.Write(payload)
}
