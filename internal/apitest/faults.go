package apitest

import (
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
)

// Routes are written as "METHOD /path" with echo parameters, for example
// "PUT /cart/items/:id".

type fault struct {
	status    int
	message   string
	drop      bool
	remaining int // -1 = forever
}

type faults struct {
	mu     sync.Mutex
	rules  map[string]*fault
	hooks  map[string]func()
	counts map[string]int
}

func newFaults() faults {
	return faults{
		rules:  make(map[string]*fault),
		hooks:  make(map[string]func()),
		counts: make(map[string]int),
	}
}

func routeKey(c echo.Context) string {
	return c.Request().Method + " " + strings.TrimPrefix(c.Path(), apiPrefix)
}

// take returns the fault to apply to this call, if any
func (f *faults) take(route string) (fault, func(), bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.counts[route]++
	hook := f.hooks[route]

	rule, ok := f.rules[route]
	if !ok {
		return fault{}, hook, false
	}
	out := *rule
	if rule.remaining > 0 {
		rule.remaining--
		if rule.remaining == 0 {
			delete(f.rules, route)
		}
	}
	return out, hook, true
}

func (s *Server) faultMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		rule, hook, ok := s.faults.take(routeKey(c))
		if hook != nil {
			hook()
		}
		if !ok {
			return next(c)
		}
		if rule.drop {
			conn, _, err := c.Response().Hijack()
			if err != nil {
				return err
			}
			return conn.Close()
		}
		return jsonError(c, rule.status, rule.message)
	}
}

func (s *Server) setFault(route string, f fault) {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	s.faults.rules[route] = &f
}

// FailNext makes the next call to route answer with status and message
func (s *Server) FailNext(route string, status int, message string) {
	s.setFault(route, fault{status: status, message: message, remaining: 1})
}

// FailAlways makes every call to route fail
func (s *Server) FailAlways(route string, status int, message string) {
	s.setFault(route, fault{status: status, message: message, remaining: -1})
}

// DropAlways closes the connection for every call to route, which the client sees as a network error. A dropped GET may be counted twice:
// the transport retries idempotent requests once on a reused connection.
func (s *Server) DropAlways(route string) {
	s.setFault(route, fault{drop: true, remaining: -1})
}

// Hook runs fn before each call to route is handled. fn may block.
func (s *Server) Hook(route string, fn func()) {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	if fn == nil {
		delete(s.faults.hooks, route)
		return
	}
	s.faults.hooks[route] = fn
}

// Calls returns how many requests reached route, failed ones included
func (s *Server) Calls(route string) int {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	return s.faults.counts[route]
}
