// Package stub is an in-process imitation of the MsgBlast backend. It
// implements every contract the client consumes, with knobs to script
// failure scenarios, and backs integration tests and local development.
package stub

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/msgblast/msgblast-go/internal/api"
)

const (
	maxLoginAttempts = 3
	lockoutSeconds   = 60
)

// Account is a registered user.
type Account struct {
	Email    string
	Password string
	Username string
	Verified bool
}

// Instance is one provisioned messaging device.
type Instance struct {
	ID            string
	Status        api.ConnectionState
	Authenticated bool
	QRCode        string
	Owner         string
}

type session struct {
	email    string
	deviceID string
}

// Server holds the scriptable backend state.
type Server struct {
	mu sync.Mutex

	accounts  map[string]Account
	sessions  map[string]session
	instances map[string]*Instance

	failedLogins map[string]int
	lockedUntil  map[string]time.Time

	// qrFailures makes the next N QR fetches answer 500, for exercising
	// the client's retry.
	qrFailures int

	// revokedMessage, when set, turns every authenticated root call into
	// a 401 forced logout carrying this message.
	revokedMessage string
	revoked        bool

	hasSubscription bool
	usage           api.SubscriptionDetails

	sendCount int
}

// New creates a stub backend with one verified default account.
func New() *Server {
	s := &Server{
		accounts:     make(map[string]Account),
		sessions:     make(map[string]session),
		instances:    make(map[string]*Instance),
		failedLogins: make(map[string]int),
		lockedUntil:  make(map[string]time.Time),

		hasSubscription: true,
		usage: api.SubscriptionDetails{
			Current: api.PackageUsage{
				Package:           "Starter",
				TotalMessages:     5000,
				MessagesRemaining: 5000,
				DaysRemaining:     30,
			},
			PackageStats: map[string]int64{"Starter": 1},
		},
	}
	s.AddAccount(Account{
		Email:    "user@example.com",
		Password: "password123",
		Username: "user",
		Verified: true,
	})
	return s
}

// AddAccount registers an account.
func (s *Server) AddAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.Email] = a
}

// AddInstance registers an instance with an initial link state.
func (s *Server) AddInstance(id string, status api.ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[id] = &Instance{
		ID:     id,
		Status: status,
		QRCode: "qr-" + uuid.NewString(),
	}
	if status == api.StateConnected {
		s.instances[id].Authenticated = true
	}
}

// SetInstanceStatus scripts the link state reported by /status.
func (s *Server) SetInstanceStatus(id string, status api.ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst, ok := s.instances[id]; ok {
		inst.Status = status
		inst.Authenticated = status == api.StateConnected
	}
}

// FailQR makes the next n QR fetches answer 500.
func (s *Server) FailQR(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qrFailures = n
}

// RevokeSessions scripts a server-directed forced logout: every
// subsequent authenticated call answers 401 with forceLogout and message.
func (s *Server) RevokeSessions(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked = true
	s.revokedMessage = message
}

// SetSubscription scripts the entitlement gate.
func (s *Server) SetSubscription(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasSubscription = active
}

// SendCount returns how many batch dispatches were accepted.
func (s *Server) SendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendCount
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
