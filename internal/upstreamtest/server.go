// Package upstreamtest runs an in-process remote API for tests. It speaks
// the login, refresh and logout contract of every session domain and
// serves bearer-protected API routes, so gateway and client flows can be
// exercised end to end.
package upstreamtest

import (
	"net/http/httptest"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/99minutos/storefront-gateway/internal/core/domain"
)

const defaultAccessTTL = 15 * time.Minute

// Option configures a Server.
type Option func(*Server)

// WithAccessTTL sets the lifetime of issued access tokens.
func WithAccessTTL(d time.Duration) Option {
	return func(s *Server) { s.accessTTL = d }
}

// WithCustomerRefresh makes customer logins return a refresh token.
func WithCustomerRefresh() Option {
	return func(s *Server) { s.customerRefresh = true }
}

// WithRotation invalidates a refresh token after its first use and hands
// out a new one.
func WithRotation() Option {
	return func(s *Server) { s.rotate = true }
}

// WithRefreshDelay holds every refresh answer for d, widening the window in
// which concurrent callers pile up.
func WithRefreshDelay(d time.Duration) Option {
	return func(s *Server) { s.refreshDelay = d }
}

type account struct {
	id     string
	email  string
	name   string
	hash   []byte
	domain domain.Domain
}

type refreshGrant struct {
	domain  domain.Domain
	userID  string
	revoked bool
}

// Server is the fake remote API. The zero value is not usable; call New.
type Server struct {
	*httptest.Server

	secret          []byte
	accessTTL       time.Duration
	customerRefresh bool
	rotate          bool
	refreshDelay    time.Duration

	mu            sync.Mutex
	accounts      map[domain.Domain]map[string]*account
	grants        map[string]*refreshGrant
	generation    map[domain.Domain]int
	refreshStatus map[domain.Domain]int
	refreshCalls  map[domain.Domain]int
	logoutCalls   map[domain.Domain]int
	apiCalls      map[domain.Domain]int
}

// New starts a Server. Callers must Close it.
func New(opts ...Option) *Server {
	s := &Server{
		secret:        []byte(uuid.NewString()),
		accessTTL:     defaultAccessTTL,
		accounts:      make(map[domain.Domain]map[string]*account),
		grants:        make(map[string]*refreshGrant),
		generation:    make(map[domain.Domain]int),
		refreshStatus: make(map[domain.Domain]int),
		refreshCalls:  make(map[domain.Domain]int),
		logoutCalls:   make(map[domain.Domain]int),
		apiCalls:      make(map[domain.Domain]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	for _, d := range domain.All {
		prefix := d.Policy().APIPrefix
		e.POST(prefix+"/login", s.login(d))
		e.POST(prefix+"/refresh", s.refresh(d))
		e.POST(prefix+"/logout", s.logout(d))

		api := e.Group(apiPrefix(d), Bearer(s.secret, s.currentGeneration), RequireDomain(d))
		api.Any("/*", s.serveAPI(d))
	}
	return e
}

func apiPrefix(d domain.Domain) string {
	if d == domain.Customer {
		return "/api"
	}
	return d.Policy().RoutePrefix + "/api"
}

// AddUser registers an account in d and returns its id.
func (s *Server) AddUser(d domain.Domain, email, password, name string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accounts[d] == nil {
		s.accounts[d] = make(map[string]*account)
	}
	a := &account{id: uuid.NewString(), email: email, name: name, hash: hash, domain: d}
	s.accounts[d][email] = a
	return a.id
}

// ExpireAccess makes every access token issued so far in d answer 401.
func (s *Server) ExpireAccess(d domain.Domain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation[d]++
}

// RevokeRefresh invalidates every refresh token of d.
func (s *Server) RevokeRefresh(d domain.Domain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.grants {
		if g.domain == d {
			g.revoked = true
		}
	}
}

// FailRefresh makes refresh calls of d answer status. Zero restores normal
// behaviour.
func (s *Server) FailRefresh(d domain.Domain, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshStatus[d] = status
}

// RefreshCalls returns how many refresh requests d received.
func (s *Server) RefreshCalls(d domain.Domain) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls[d]
}

// LogoutCalls returns how many logout requests d received.
func (s *Server) LogoutCalls(d domain.Domain) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logoutCalls[d]
}

// APICalls returns how many authenticated API requests of d were served.
func (s *Server) APICalls(d domain.Domain) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiCalls[d]
}

// RefreshValid reports whether token is a live refresh token.
func (s *Server) RefreshValid(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[token]
	return ok && !g.revoked
}

func (s *Server) currentGeneration(d domain.Domain) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation[d]
}

func (s *Server) issueAccess(d domain.Domain, a *account) (string, error) {
	s.mu.Lock()
	gen := s.generation[d]
	s.mu.Unlock()

	claims := jwt.MapClaims{
		"sub":   a.id,
		"email": a.email,
		"dom":   string(d),
		"gen":   gen,
		"jti":   uuid.NewString(),
		"exp":   time.Now().Add(s.accessTTL).Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.secret)
}

// issueRefresh must be called with s.mu held.
func (s *Server) issueRefresh(d domain.Domain, userID string) string {
	token := uuid.NewString()
	s.grants[token] = &refreshGrant{domain: d, userID: userID}
	return token
}

func (s *Server) findByID(d domain.Domain, id string) *account {
	for _, a := range s.accounts[d] {
		if a.id == id {
			return a
		}
	}
	return nil
}

// envelope mirrors the remote API's nested answer shape.
type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Data    any               `json:"data,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func fail(c echo.Context, status int, msg string) error {
	return c.JSON(status, envelope{Success: false, Message: msg})
}
