package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/models"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/tberrors"
)

type userContextKey struct{}

const tokenLifetime = 24 * time.Hour

// UserFromContext returns the authenticated user, or nil outside the auth
// gate.
func UserFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(userContextKey{}).(*models.User)
	return user
}

func generateJWT(secret, email string, now time.Time) (string, error) {
	token := jwt.New(jwt.SigningMethodHS256)
	claims := token.Claims.(jwt.MapClaims)
	claims["email"] = email
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(tokenLifetime).Unix()
	return token.SignedString([]byte(secret))
}

func parseJWT(secret, tokenString string) (string, error) {
	parsedToken, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("could not parse claims")
	}
	email, ok := claims["email"].(string)
	if !ok || email == "" {
		return "", fmt.Errorf("token carries no email claim")
	}
	return email, nil
}

// requiresLogin wraps a handler behind the bearer-token gate. The token is
// verified, the user loaded by email (archived users are rejected by the
// lookup) and attached to the request context.
func (s *Server) requiresLogin(handler httpErrorFunc) httpErrorFunc {
	return func(res http.ResponseWriter, req *http.Request) error {
		tokenString := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
		if tokenString == "" {
			return tberrors.NewForbidden("no token provided")
		}
		email, err := parseJWT(s.options.JWTSecret, tokenString)
		if err != nil {
			return tberrors.Wrap(err, tberrors.KindForbidden, "invalid token")
		}
		user, err := s.users.GetUserByEmail(req.Context(), email)
		if err != nil {
			return tberrors.NewForbidden("no active user for %s", email)
		}

		ctx := context.WithValue(req.Context(), userContextKey{}, user)
		return handler(res, req.WithContext(ctx))
	}
}

// CodeExchanger swaps an OAuth authorization code for a token. The real
// implementation talks to the identity provider; tests fake it.
type CodeExchanger interface {
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

type oauthExchanger struct {
	config *oauth2.Config
}

func NewOAuthExchanger(config *oauth2.Config) CodeExchanger {
	return &oauthExchanger{config: config}
}

func (e *oauthExchanger) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return e.config.Exchange(ctx, code, oauth2.AccessTypeOffline)
}

type authRequest struct {
	Code string `json:"code"`
}

type authResponse struct {
	AccessToken string `json:"access_token"`
}

// login exchanges the authorization code, resolves the user by the identity
// token's email and issues the tracker's own bearer token. The provider's
// refresh token, when present, is stored encrypted for continuity.
func (s *Server) login(ctx context.Context, req *http.Request) (*authResponse, error) {
	if s.exchanger == nil {
		return nil, tberrors.NewForbidden("login is not configured on this deployment")
	}
	body, err := getRequestBody[authRequest](req)
	if err != nil {
		return nil, err
	}
	if body.Code == "" {
		return nil, tberrors.NewInvalidInput("code is required")
	}

	token, err := s.exchanger.Exchange(ctx, body.Code)
	if err != nil {
		return nil, tberrors.Wrap(err, tberrors.KindForbidden, "code exchange failed")
	}

	email, googleID, err := identityClaims(token)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, tberrors.NewForbidden("no active user for %s", email)
	}

	if token.RefreshToken != "" {
		if err := s.users.StoreRefreshToken(ctx, user.ID, token.RefreshToken); err != nil {
			log.Ctx(ctx).Error().Err(err).Uint("UserID", user.ID).Msg("failed to store refresh token")
		}
	}
	if googleID != "" && user.GoogleID == "" {
		if err := s.users.SetGoogleID(ctx, user.ID, googleID); err != nil {
			log.Ctx(ctx).Error().Err(err).Uint("UserID", user.ID).Msg("failed to store identity id")
		}
	}

	accessToken, err := generateJWT(s.options.JWTSecret, user.Email, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	return &authResponse{AccessToken: accessToken}, nil
}

// identityClaims pulls email and subject out of the provider's identity
// token. The token arrived over the code exchange's TLS channel, so only its
// shape is checked here.
func identityClaims(token *oauth2.Token) (email, subject string, err error) {
	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return "", "", tberrors.NewForbidden("identity token missing from exchange response")
	}
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(raw, claims); err != nil {
		return "", "", tberrors.Wrap(err, tberrors.KindForbidden, "cannot parse identity token")
	}
	email, _ = claims["email"].(string)
	if email == "" {
		return "", "", tberrors.NewForbidden("identity token carries no email")
	}
	subject, _ = claims["sub"].(string)
	return email, subject, nil
}
