package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"oidcp/internal/auth"
	"oidcp/internal/authorize"
	"oidcp/internal/discovery"
	"oidcp/internal/oidc/models"
	"oidcp/pkg/oautherr"
)

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, r, oautherr.InvalidRequest("malformed request"))
		return
	}

	var ssoCookie string
	if c, err := r.Cookie(auth.CookieName); err == nil {
		ssoCookie = c.Value
	}

	outcome, err := h.authorize.Authorize(r.Context(), r.Form, ssoCookie)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if outcome.Challenge != nil {
		http.Redirect(w, r, h.challengeLocation(outcome.Challenge), http.StatusFound)
		return
	}

	if outcome.Redirect.Cookie != nil {
		http.SetCookie(w, outcome.Redirect.Cookie)
	}
	http.Redirect(w, r, outcome.Redirect.Location, http.StatusFound)
}

// challengeLocation sends the user agent to the login surface with the
// original authorization query replayed so the flow can resume after login.
// The client's policy and logo URLs ride along for the login page to render.
func (h *Handler) challengeLocation(c *authorize.Challenge) string {
	params := url.Values{}
	for k, v := range c.Query {
		params[k] = v
	}
	if c.AsUser != "" {
		params.Set("as_user", c.AsUser)
	}
	if c.PolicyURL != "" {
		params.Set("policy_url", c.PolicyURL)
	}
	if c.LogoURL != "" {
		params.Set("logo_url", c.LogoURL)
	}
	return h.loginURL + "?" + params.Encode()
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, r, oautherr.InvalidRequest("malformed request body"))
		return
	}

	req := models.ParseTokenRequest(r.PostForm)
	if req.ClientID == "" {
		// client_secret_basic
		if id, secret, ok := r.BasicAuth(); ok {
			req.ClientID = id
			req.ClientSecret = secret
		}
	}

	resp, err := h.token.Exchange(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	bearer := bearerToken(r)
	if bearer == "" {
		h.writeError(w, r, oautherr.FailedAuthentication("missing access token"))
		return
	}

	resp, err := h.userinfo.UserInfo(r.Context(), bearer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", resp.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	_, _ = w.Write(resp.Body)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, oautherr.InvalidRequest("malformed registration body"))
		return
	}

	resp, err := h.registrar.Register(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleReadRegistration(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	resp, err := h.registrar.ReadRegistration(r.Context(), bearerToken(r), clientID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleProviderConfig(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, discovery.Metadata(h.issuer))
}

func (h *Handler) handleWebFinger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := discovery.Discover(q.Get("resource"), q.Get("rel"), h.issuer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleJWKS(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.pipeline.PublicJWKS())
}

// bearerToken pulls the access token from the Authorization header or, for
// form-encoded POSTs, the access_token parameter.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil {
			return r.PostForm.Get("access_token")
		}
	}
	return ""
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("could not write response body")
	}
}

// writeError renders a protocol error. Errors carrying a trusted redirect
// URI go back through the user agent; everything else is a JSON body.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rerr *oautherr.RedirectError
	if errors.As(err, &rerr) {
		http.Redirect(w, r, rerr.Location(), http.StatusFound)
		return
	}

	perr := oautherr.AsError(err)
	if perr == nil {
		h.log.Error().Err(err).Msg("unclassified error reached transport")
		perr = oautherr.ServerError("internal error")
	}
	h.writeJSON(w, perr.Status, models.ErrorResponse{
		Error:            perr.Code,
		ErrorDescription: perr.Description,
	})
}
