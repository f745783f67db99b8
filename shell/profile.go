package shell

import (
	"context"

	"github.com/MrEthical07/linkauth"
)

// UserSource returns the signed-in user, or nil.
type UserSource interface {
	User(ctx context.Context) (*linkauth.User, error)
}

// Profile is what the profile page renders.
type Profile struct {
	ID       string
	Email    string
	Metadata map[string]any
}

// ProfileView guards the profile page on the client side.
type ProfileView struct {
	Users      UserSource
	Nav        Navigator
	SignInPath string
}

// Mount returns the profile to render. Without a user it navigates to the
// sign-in page and returns nil; a lookup error does the same and is returned.
func (v ProfileView) Mount(ctx context.Context) (*Profile, error) {
	signIn := v.SignInPath
	if signIn == "" {
		signIn = "/sign-in"
	}

	user, err := v.Users.User(ctx)
	if err != nil || user == nil {
		v.Nav.Navigate(signIn)
		return nil, err
	}

	meta := make(map[string]any, len(user.Metadata))
	for k, val := range user.Metadata {
		meta[k] = val
	}
	return &Profile{ID: user.ID, Email: user.Email, Metadata: meta}, nil
}
