package google

import (
	oauth2api "google.golang.org/api/oauth2/v2"
)

// ProviderName identifies profiles created by this package.
const ProviderName = "google"

// Profile is the signed-in user's public profile as exposed by /api/user.
type Profile struct {
	Provider    string         `json:"provider"`
	ID          string         `json:"id"`
	DisplayName string         `json:"displayName"`
	Name        ProfileName    `json:"name"`
	Emails      []ProfileEmail `json:"emails,omitempty"`
	Photos      []ProfilePhoto `json:"photos,omitempty"`
}

// ProfileName holds the structured name parts.
type ProfileName struct {
	FamilyName string `json:"familyName,omitempty"`
	GivenName  string `json:"givenName,omitempty"`
}

// ProfileEmail is an email address attached to the profile.
type ProfileEmail struct {
	Value    string `json:"value"`
	Verified bool   `json:"verified"`
}

// ProfilePhoto is an avatar URL.
type ProfilePhoto struct {
	Value string `json:"value"`
}

// PrimaryEmail returns the first email address, or "".
func (p *Profile) PrimaryEmail() string {
	if p == nil || len(p.Emails) == 0 {
		return ""
	}
	return p.Emails[0].Value
}

// ProfileFromUserinfo converts a userinfo response into a Profile.
func ProfileFromUserinfo(u *oauth2api.Userinfo) *Profile {
	if u == nil {
		return nil
	}

	p := &Profile{
		Provider:    ProviderName,
		ID:          u.Id,
		DisplayName: u.Name,
		Name: ProfileName{
			FamilyName: u.FamilyName,
			GivenName:  u.GivenName,
		},
	}
	if u.Email != "" {
		verified := u.VerifiedEmail != nil && *u.VerifiedEmail
		p.Emails = []ProfileEmail{{Value: u.Email, Verified: verified}}
	}
	if u.Picture != "" {
		p.Photos = []ProfilePhoto{{Value: u.Picture}}
	}
	return p
}
