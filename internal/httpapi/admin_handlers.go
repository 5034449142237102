package httpapi

import (
	"net/http"

	"officeflow.org/internal/audit"
	"officeflow.org/internal/auth"
)

type adminUpdateRequest struct {
	Name        *string     `json:"name"`
	Email       *string     `json:"email"`
	Role        *string     `json:"role"`
	Permissions auth.Matrix `json:"permissions"`
	IsActive    *bool       `json:"isActive"`
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	accounts, err := a.svc.ListAccounts(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	out := make([]accountView, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, newAccountView(acc))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	acc, err := a.svc.Account(r.Context(), r.PathValue("id"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(acc))
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req adminUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")
	acc, err := a.svc.UpdateAccount(r.Context(), id, auth.AdminUpdate{
		Name:        req.Name,
		Email:       req.Email,
		Role:        req.Role,
		Permissions: req.Permissions,
		Active:      req.IsActive,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	fields := map[string]any{
		"target_id":           id,
		"role":                string(acc.Role),
		"is_active":           acc.Active,
		"permissions_changed": req.Permissions != nil || req.Role != nil,
	}
	_ = audit.LogEvent(r.Context(), "admin.account.update", fields)
	writeJSON(w, http.StatusOK, newAccountView(acc))
}

func (a *API) handleUnlockUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	acc, err := a.svc.Unlock(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.account.unlock", map[string]any{"target_id": id})
	writeJSON(w, http.StatusOK, newAccountView(acc))
}
