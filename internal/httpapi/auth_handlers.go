package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"officeflow.org/internal/audit"
	"officeflow.org/internal/auth"
)

const forgotPasswordMessage = "If an account exists with that email, a password reset link has been sent"

type accountView struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Email       string      `json:"email"`
	Role        auth.Role   `json:"role"`
	Permissions auth.Matrix `json:"permissions"`
	MFAEnabled  bool        `json:"mfaEnabled"`
	IsActive    bool        `json:"isActive"`
	LastLogin   *time.Time  `json:"lastLogin,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	Token       string      `json:"token,omitempty"`
}

func newAccountView(acc *auth.Account) accountView {
	return accountView{
		ID:          acc.ID,
		Name:        acc.Name,
		Email:       acc.Email,
		Role:        acc.Role,
		Permissions: auth.Normalize(acc.Permissions, acc.Role),
		MFAEnabled:  acc.MFAEnabled,
		IsActive:    acc.Active,
		LastLogin:   acc.LastLogin,
		CreatedAt:   acc.CreatedAt,
	}
}

func sessionView(s *auth.Session) accountView {
	v := newAccountView(s.Account)
	v.Token = s.Token
	return v
}

type mfaChallengeView struct {
	MFARequired bool   `json:"mfaRequired"`
	UserID      string `json:"userId"`
}

type messageView struct {
	Message string `json:"message"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	MFAToken string `json:"mfaToken"`
}

type profileRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	session, err := a.svc.Register(r.Context(), auth.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.register", map[string]any{
		"account_id": session.Account.ID,
		"role":       string(session.Account.Role),
	})
	writeJSON(w, http.StatusCreated, sessionView(session))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if a.throttled(w, r, "login") {
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.svc.Login(r.Context(), auth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		MFAToken: req.MFAToken,
	})
	if err != nil {
		event := "auth.login.failed"
		if errors.Is(err, auth.ErrAccountLocked) {
			event = "auth.login.locked"
		}
		_ = audit.LogEvent(r.Context(), event, map[string]any{
			"email":  auth.NormalizeEmail(req.Email),
			"reason": err.Error(),
		})
		handleAuthError(w, r, err)
		return
	}
	if res.MFARequired {
		_ = audit.LogEvent(r.Context(), "auth.login.mfa_required", map[string]any{"account_id": res.AccountID})
		writeJSON(w, http.StatusOK, mfaChallengeView{MFARequired: true, UserID: res.AccountID})
		return
	}
	if res.BackupCodeUsed {
		_ = audit.LogEvent(r.Context(), "auth.mfa.backup_code_used", map[string]any{"account_id": res.AccountID})
	}
	_ = audit.LogEvent(r.Context(), "auth.login.success", map[string]any{"account_id": res.AccountID})
	if err := a.throttle.Reset(r.Context(), "login", throttleKey(r)); err != nil {
		a.logger.Warn("throttle reset failed", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, sessionView(res.Session))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	writeJSON(w, http.StatusOK, messageView{Message: "Logged out successfully"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.AccountIDFromContext(r.Context())
	acc, err := a.svc.Profile(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(acc))
}

func (a *API) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id, _ := auth.AccountIDFromContext(r.Context())
	acc, err := a.svc.UpdateProfile(r.Context(), id, auth.ProfileUpdate{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.profile.update", map[string]any{
		"name_changed":     req.Name != "",
		"email_changed":    req.Email != "",
		"password_changed": req.Password != "",
	})
	writeJSON(w, http.StatusOK, newAccountView(acc))
}

type mfaSetupView struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioningUri"`
	QRCode          string `json:"qrCode"`
	ManualEntryKey  string `json:"manualEntryKey"`
}

type backupCodesView struct {
	Message     string   `json:"message,omitempty"`
	BackupCodes []string `json:"backupCodes"`
}

func (a *API) handleMFASetup(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.AccountIDFromContext(r.Context())
	enrollment, err := a.svc.SetupMFA(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.mfa.setup", nil)
	writeJSON(w, http.StatusOK, mfaSetupView{
		Secret:          enrollment.Secret,
		ProvisioningURI: enrollment.ProvisioningURI,
		QRCode:          enrollment.QRCode,
		ManualEntryKey:  enrollment.Secret,
	})
}

func (a *API) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id, _ := auth.AccountIDFromContext(r.Context())
	codes, err := a.svc.VerifyMFASetup(r.Context(), id, req.Token)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.mfa.enabled", nil)
	writeJSON(w, http.StatusOK, backupCodesView{Message: "MFA enabled successfully", BackupCodes: codes})
}

func (a *API) handleMFADisable(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.AccountIDFromContext(r.Context())
	if err := a.svc.DisableMFA(r.Context(), id); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.mfa.disabled", nil)
	writeJSON(w, http.StatusOK, messageView{Message: "MFA disabled successfully"})
}

func (a *API) handleBackupCodes(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id, _ := auth.AccountIDFromContext(r.Context())
	codes, err := a.svc.RegenerateBackupCodes(r.Context(), id, req.Password)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.mfa.backup_codes", map[string]any{"count": len(codes)})
	writeJSON(w, http.StatusOK, backupCodesView{BackupCodes: codes})
}

func (a *API) handleBackupCodesRemaining(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.AccountIDFromContext(r.Context())
	n, err := a.svc.BackupCodesRemaining(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"remaining": n})
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if a.throttled(w, r, "forgot") {
		return
	}
	var req forgotPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	a.svc.RequestPasswordReset(r.Context(), req.Email)
	_ = audit.LogEvent(r.Context(), "auth.password.reset_requested", nil)
	writeJSON(w, http.StatusOK, messageView{Message: forgotPasswordMessage})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id, err := a.svc.ResetPassword(r.Context(), req.Token, req.Password)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.reset", map[string]any{"account_id": id})
	writeJSON(w, http.StatusOK, messageView{Message: "Password has been reset successfully"})
}

func throttleKey(r *http.Request) string { return "ip:" + clientIP(r) }

// throttled reports whether the request was rejected by the Redis throttle.
// Redis failures are logged and the request proceeds.
func (a *API) throttled(w http.ResponseWriter, r *http.Request, scope string) bool {
	ok, retry, err := a.throttle.Allow(r.Context(), scope, throttleKey(r))
	if err != nil {
		a.logger.Warn("throttle unavailable", zap.String("scope", scope), zap.Error(err))
		return false
	}
	if ok {
		return false
	}
	secs := int(retry.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, r, http.StatusTooManyRequests, "Too many attempts. Please try again later.")
	return true
}
