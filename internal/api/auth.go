package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/roadwatch/roadwatch/internal/backend"
)

// RegisterAuth registers the sign-in routes. The backend token never
// reaches the browser; it stays in the server-side session keyed by an
// opaque cookie.
func (h *APIHandler) RegisterAuth(api huma.API) {
	huma.Post(api, "/api/v1/auth/login", h.Login, huma.OperationTags("auth"))
	huma.Post(api, "/api/v1/auth/register", h.Register, huma.OperationTags("auth"))
	huma.Post(api, "/api/v1/auth/logout", h.Logout, huma.OperationTags("auth"))
	huma.Get(api, "/api/v1/auth/me", h.Me, huma.OperationTags("auth"))
}

type UserBody struct {
	User backend.User `json:"user" doc:"Signed-in account"`
}

type AuthOutput struct {
	SetCookie http.Cookie `header:"Set-Cookie"`
	Body      UserBody
}

type LoginInput struct {
	Body struct {
		Email    string `json:"email" required:"true" format:"email" doc:"Account email"`
		Password string `json:"password" required:"true" minLength:"8" doc:"Account password"`
	}
}

// Login exchanges credentials for a session cookie.
func (h *APIHandler) Login(ctx context.Context, input *LoginInput) (*AuthOutput, error) {
	s, err := h.svc.Backend.Login(ctx, input.Body.Email, input.Body.Password)
	if err != nil {
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
			return nil, huma.Error401Unauthorized("Invalid email or password")
		}
		return nil, huma.Error502BadGateway("sign-in failed", err)
	}

	sess := h.svc.Sessions.Create(s.Token, s.User)
	return &AuthOutput{
		SetCookie: *h.svc.Sessions.Cookie(sess),
		Body:      UserBody{User: s.User},
	}, nil
}

type RegisterInput struct {
	Body struct {
		Name     string `json:"name" required:"true" minLength:"1" maxLength:"80" doc:"Display name"`
		Email    string `json:"email" required:"true" format:"email" doc:"Account email"`
		Password string `json:"password" required:"true" minLength:"8" doc:"Account password"`
	}
}

// Register creates an account and signs it in.
func (h *APIHandler) Register(ctx context.Context, input *RegisterInput) (*AuthOutput, error) {
	s, err := h.svc.Backend.Register(ctx, input.Body.Name, input.Body.Email, input.Body.Password)
	if err != nil {
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
			msg := apiErr.Message
			if msg == "" {
				msg = "Registration was rejected"
			}
			return nil, huma.Error422UnprocessableEntity(msg)
		}
		return nil, huma.Error502BadGateway("registration failed", err)
	}

	sess := h.svc.Sessions.Create(s.Token, s.User)
	return &AuthOutput{
		SetCookie: *h.svc.Sessions.Cookie(sess),
		Body:      UserBody{User: s.User},
	}, nil
}

type SessionCookieInput struct {
	Session string `cookie:"roadwatch_session" doc:"Sign-in session cookie"`
}

type LogoutOutput struct {
	SetCookie http.Cookie `header:"Set-Cookie"`
	Body      MessageBody
}

// Logout drops the server-side session and clears the cookie. Signing
// out while already signed out succeeds.
func (h *APIHandler) Logout(ctx context.Context, input *SessionCookieInput) (*LogoutOutput, error) {
	if input.Session != "" {
		h.svc.Sessions.Delete(input.Session)
	}
	return &LogoutOutput{
		SetCookie: *h.svc.Sessions.Cookie(nil),
		Body:      MessageBody{Message: "Signed out"},
	}, nil
}

// Me returns the account behind the session cookie. The backend is
// asked to confirm the token, so an upstream revocation signs the
// browser out here too; when the backend is merely unreachable the
// session's cached copy answers.
func (h *APIHandler) Me(ctx context.Context, input *SessionCookieInput) (*struct{ Body UserBody }, error) {
	sess := h.session(input.Session)
	if sess == nil {
		return nil, huma.Error401Unauthorized("Not signed in")
	}

	user, err := h.svc.Backend.Me(ctx, sess.Token)
	if err != nil {
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			h.svc.Sessions.Delete(sess.ID)
			return nil, huma.Error401Unauthorized("Your session expired, sign in again")
		}
		return &struct{ Body UserBody }{Body: UserBody{User: sess.User}}, nil
	}
	return &struct{ Body UserBody }{Body: UserBody{User: user}}, nil
}
