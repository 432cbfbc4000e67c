// Package auth implements the authentication step of an update-like request.
//
// The server offers its mechanisms and realm in auth-request; the client
// answers with auth-response naming one mechanism and its token.
package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/crypto/bcrypt"
)

// Mechanism names.
const (
	MechAnonymous = "ANONYMOUS"
	MechPlain     = "PLAIN"
)

var (
	// ErrDenied indicates the client's credentials were not accepted.
	ErrDenied = errors.New("authentication denied")

	// ErrUnsupportedMechanism indicates the client chose a mechanism that was not offered.
	ErrUnsupportedMechanism = errors.New("unsupported authentication mechanism")
)

// Authenticator decides who a client is.
type Authenticator interface {
	// Mechanisms returns the offered mechanisms in order of preference.
	Mechanisms() []string

	// Realm names the protection space credentials apply to.
	Realm() string

	// Authenticate checks the token for mech and returns the user name.
	Authenticate(ctx context.Context, mech, token string) (string, error)
}

// AnonymousUser is the user name given to anonymous clients.
const AnonymousUser = "anonymous"

// Static authenticates against a fixed table of bcrypt password hashes.
type Static struct {
	realm     string
	anonymous bool
	users     map[string][]byte
}

// NewStatic creates a Static authenticator. users maps user names to bcrypt
// hashes. With no users, anonymous access is the only mechanism.
func NewStatic(realm string, anonymous bool, users map[string]string) (*Static, error) {
	s := &Static{realm: realm, anonymous: anonymous, users: make(map[string][]byte, len(users))}
	for name, hash := range users {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("invalid password hash for user %q: %w", name, err)
		}
		s.users[name] = []byte(hash)
	}
	if !anonymous && len(s.users) == 0 {
		return nil, errors.New("anonymous access is disabled and no users are configured")
	}
	return s, nil
}

// Mechanisms offers PLAIN when users are configured and ANONYMOUS when allowed.
func (s *Static) Mechanisms() []string {
	var mechs []string
	if len(s.users) > 0 {
		mechs = append(mechs, MechPlain)
	}
	if s.anonymous {
		mechs = append(mechs, MechAnonymous)
	}
	return mechs
}

func (s *Static) Realm() string {
	return s.realm
}

// Users returns the configured user names, sorted.
func (s *Static) Users() []string {
	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Authenticate accepts ANONYMOUS with any token when allowed, and PLAIN with
// a base64 "authzid NUL user NUL password" token matching a configured user.
func (s *Static) Authenticate(ctx context.Context, mech, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch mech {
	case MechAnonymous:
		if !s.anonymous {
			return "", fmt.Errorf("%w: %s", ErrUnsupportedMechanism, mech)
		}
		return AnonymousUser, nil

	case MechPlain:
		if len(s.users) == 0 {
			return "", fmt.Errorf("%w: %s", ErrUnsupportedMechanism, mech)
		}
		user, password, err := DecodePlain(token)
		if err != nil {
			return "", err
		}
		hash, ok := s.users[user]
		if !ok {
			return "", fmt.Errorf("%w: unknown user %q", ErrDenied, user)
		}
		if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
			return "", fmt.Errorf("%w: bad password for %q", ErrDenied, user)
		}
		return user, nil

	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMechanism, mech)
	}
}

// EncodePlain builds a PLAIN token.
func EncodePlain(user, password string) string {
	return base64.StdEncoding.EncodeToString([]byte("\x00" + user + "\x00" + password))
}

// DecodePlain splits a PLAIN token into user and password. The
// authorization identity must be empty or equal to the user.
func DecodePlain(token string) (user, password string, err error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", "", fmt.Errorf("%w: malformed PLAIN token: %w", ErrDenied, err)
	}
	parts := bytes.Split(raw, []byte{0})
	if len(parts) != 3 || len(parts[1]) == 0 {
		return "", "", fmt.Errorf("%w: malformed PLAIN token", ErrDenied)
	}
	if len(parts[0]) > 0 && !bytes.Equal(parts[0], parts[1]) {
		return "", "", fmt.Errorf("%w: cannot act as %q", ErrDenied, parts[0])
	}
	return string(parts[1]), string(parts[2]), nil
}

// HashPassword returns the bcrypt hash stored in the configuration file.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
