package stub

import (
	"encoding/csv"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/msgblast/msgblast-go/internal/api"
)

// Router mounts the full MsgBlast API surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/login", s.handleLogin)
	r.Get("/sample.csv", s.handleSampleCSV)

	r.Group(func(r chi.Router) {
		r.Use(s.rootAuth)
		r.Get("/check-session", s.handleCheckSession)
		r.Post("/logout", s.handleLogout)
		r.Get("/user-instance", s.handleUserInstance)
		r.Post("/save-instance", s.handleSaveInstance)
	})

	r.Route("/{instanceID}", func(r chi.Router) {
		r.Use(s.instanceAuth)
		r.Get("/status", s.handleStatus)
		r.Get("/qrcode", s.handleQRCode)
		r.Post("/reset", s.handleReset)
		r.Post("/upload-csv", s.handleUploadCSV)
		r.Post("/upload-media", s.handleUploadMedia)
		r.Post("/send-media", s.handleSendMedia)
		r.Get("/check-subscription", s.handleCheckSubscription)
		r.Get("/subscription", s.handleSubscription)
	})

	return r
}

func bearerToken(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// rootAuth guards the session-level endpoints. Rejections carry the
// forced-logout envelope the client's interceptor acts on.
func (s *Server) rootAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		s.mu.Lock()
		_, ok := s.sessions[token]
		revoked := s.revoked
		message := s.revokedMessage
		if revoked {
			delete(s.sessions, token)
		}
		s.mu.Unlock()

		if !ok || revoked {
			if message == "" {
				message = "Session expired. Please login again."
			}
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, api.Error{ForceLogout: true, Message: message})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// instanceAuth guards the per-instance endpoints, which answer 403 for a
// bad token.
func (s *Server) instanceAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		s.mu.Lock()
		_, ok := s.sessions[token]
		s.mu.Unlock()
		if !ok {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, api.Error{Message: "invalid or expired token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, api.Error{Message: "invalid request body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if until, ok := s.lockedUntil[req.Email]; ok {
		remaining := int(time.Until(until).Seconds())
		if remaining > 0 {
			render.Status(r, http.StatusTooManyRequests)
			render.JSON(w, r, api.Error{RemainingTime: remaining})
			return
		}
		delete(s.lockedUntil, req.Email)
		delete(s.failedLogins, req.Email)
	}

	account, ok := s.accounts[req.Email]
	if !ok || account.Password != req.Password {
		s.failedLogins[req.Email]++
		if s.failedLogins[req.Email] >= maxLoginAttempts {
			s.lockedUntil[req.Email] = time.Now().Add(lockoutSeconds * time.Second)
			render.Status(r, http.StatusTooManyRequests)
			render.JSON(w, r, api.Error{RemainingTime: lockoutSeconds})
			return
		}
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, api.Error{Message: "invalid email or password"})
		return
	}

	delete(s.failedLogins, req.Email)

	verified := "yes"
	if !account.Verified {
		verified = "no"
	}

	token := uuid.NewString()
	if account.Verified {
		s.sessions[token] = session{email: req.Email, deviceID: r.Header.Get("x-device-id")}
	}

	render.JSON(w, r, api.LoginResponse{
		Token:    token,
		Username: account.Username,
		Email:    account.Email,
		Verified: verified,
	})
}

func (s *Server) handleCheckSession(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, struct{}{})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	render.JSON(w, r, struct{}{})
}

func (s *Server) handleUserInstance(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	email := s.sessions[token].email
	for _, inst := range s.instances {
		if inst.Owner == email {
			render.JSON(w, r, api.UserInstanceResponse{HasInstance: true, InstanceID: inst.ID})
			return
		}
	}
	render.JSON(w, r, api.UserInstanceResponse{HasInstance: false})
}

func (s *Server) handleSaveInstance(w http.ResponseWriter, r *http.Request) {
	var req api.SaveInstanceRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil || len(req.InstanceID) < 4 {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, api.Error{Message: "instance_id must be at least 4 characters"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.instances[req.InstanceID]; exists {
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, api.Error{Message: "instance already exists"})
		return
	}
	s.instances[req.InstanceID] = &Instance{
		ID:     req.InstanceID,
		Status: api.StateConnecting,
		QRCode: "qr-" + uuid.NewString(),
		Owner:  req.RegisterID,
	}
	render.JSON(w, r, struct{}{})
}

func (s *Server) instance(r *http.Request) *Instance {
	return s.instances[chi.URLParam(r, "instanceID")]
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst := s.instance(r)
	if inst == nil {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, api.StatusResponse{Success: false, Message: "instance not found"})
		return
	}
	render.JSON(w, r, api.StatusResponse{
		Success:   true,
		Connected: inst.Status == api.StateConnected,
		Status:    inst.Status,
	})
}

func (s *Server) handleQRCode(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.qrFailures > 0 {
		s.qrFailures--
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, api.Error{Message: "QR generation in progress"})
		return
	}
	inst := s.instance(r)
	if inst == nil {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, api.Error{Message: "instance not found"})
		return
	}
	if inst.Authenticated {
		render.JSON(w, r, api.QRCodeResponse{IsAuthenticated: true})
		return
	}
	render.JSON(w, r, api.QRCodeResponse{QRCode: inst.QRCode})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst := s.instance(r)
	if inst == nil {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, api.Error{Message: "instance not found"})
		return
	}
	inst.Authenticated = false
	inst.Status = api.StateConnecting
	inst.QRCode = "qr-" + uuid.NewString()
	render.JSON(w, r, struct{}{})
}

func (s *Server) handleUploadCSV(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, api.Error{Message: "missing file field"})
		return
	}
	defer file.Close()

	resp, err := parseRecipientCSV(file)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, api.Error{Message: err.Error()})
		return
	}
	render.JSON(w, r, resp)
}

// parseRecipientCSV parses an uploaded table into the header-keyed rows
// the real backend returns.
func parseRecipientCSV(r io.Reader) (*api.CSVUploadResponse, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, errEmptyCSV
	}

	headers := records[0]
	resp := &api.CSVUploadResponse{Headers: headers}
	phoneIdx := -1
	for i, h := range headers {
		if h == "phone_numbers" {
			phoneIdx = i
		}
	}
	if phoneIdx < 0 {
		return nil, errMissingPhoneColumn
	}

	for _, record := range records[1:] {
		row := make(map[string]any, len(headers))
		for i, h := range headers {
			if i < len(record) {
				row[h] = record[i]
			}
		}
		resp.Data = append(resp.Data, row)
		if phoneIdx < len(record) && record[phoneIdx] != "" {
			resp.PhoneNumbers = append(resp.PhoneNumbers, record[phoneIdx])
		}
	}
	return resp, nil
}

func (s *Server) handleUploadMedia(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, api.Error{Message: "missing file field"})
		return
	}
	defer file.Close()
	render.JSON(w, r, api.MediaUploadResponse{
		Success:  true,
		FilePath: "/uploads/" + header.Filename,
	})
}

func (s *Server) handleSendMedia(w http.ResponseWriter, r *http.Request) {
	var req api.SendMediaRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, api.Error{Message: "invalid request body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasSubscription {
		render.JSON(w, r, api.SendMediaResponse{Success: false, Message: "no active subscription"})
		return
	}

	n := int64(len(req.Messages))
	s.sendCount++
	s.usage.Current.MessagesSent += n
	s.usage.Current.MessagesRemaining -= n
	s.usage.Current.SuccessfulMessages += n
	s.usage.AllTime.TotalMessages += n
	s.usage.AllTime.MessagesSent += n
	s.usage.AllTime.SuccessfulMessages += n

	render.JSON(w, r, api.SendMediaResponse{Success: true, Message: "messages queued"})
}

func (s *Server) handleCheckSubscription(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	render.JSON(w, r, api.CheckSubscriptionResponse{
		Success:         true,
		HasSubscription: s.hasSubscription,
	})
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	render.JSON(w, r, api.SubscriptionResponse{Success: true, Data: s.usage})
}
