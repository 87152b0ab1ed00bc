package onvif

import (
	"context"
	"errors"
	"fmt"

	"github.com/camtap/camtap/pkg/core"
	"github.com/camtap/camtap/pkg/creds"
)

// MediaClient is the part of Client the negotiator needs.
type MediaClient interface {
	GetMediaProfiles(ctx context.Context) ([]Profile, error)
	GetStreamURI(ctx context.Context, token string, transport Transport) (string, error)
}

// Selector picks one profile from a non-empty list.
type Selector func(profiles []Profile) (*Profile, error)

// FirstProfile selects the first profile the device reports.
func FirstProfile(profiles []Profile) (*Profile, error) {
	return &profiles[0], nil
}

// ProfileByToken selects the profile with token or fails with
// InvalidProfile.
func ProfileByToken(token string) Selector {
	return func(profiles []Profile) (*Profile, error) {
		for i := range profiles {
			if profiles[i].Token == token {
				return &profiles[i], nil
			}
		}
		return nil, core.NewError("onvif: select profile", "", core.ErrInvalidProfile, fmt.Errorf("no profile %q", token))
	}
}

// StreamTarget is the negotiated stream. URI never holds credentials,
// AuthenticatedURI is only set on copies made by WithCredentials.
type StreamTarget struct {
	Profile          Profile   `json:"profile"`
	Transport        Transport `json:"transport"`
	URI              string    `json:"uri"`
	AuthenticatedURI string    `json:"-"`
}

// WithCredentials returns a copy with AuthenticatedURI set.
func (t StreamTarget) WithCredentials(user *creds.Credentials) (StreamTarget, error) {
	s, err := creds.Inject(t.URI, user)
	if err != nil {
		return StreamTarget{}, err
	}
	t.AuthenticatedURI = s
	return t, nil
}

func (t StreamTarget) String() string {
	return t.Profile.Token + " " + t.URI
}

// Negotiate asks the device for profiles, picks one with sel (FirstProfile
// when nil) and resolves its RTSP unicast stream address.
func Negotiate(ctx context.Context, client MediaClient, sel Selector) (*StreamTarget, error) {
	const op = "onvif: negotiate"

	if client == nil {
		return nil, core.NewError(op, "", core.ErrInvalidArgument, errors.New("nil client"))
	}
	if sel == nil {
		sel = FirstProfile
	}

	profiles, err := client.GetMediaProfiles(ctx)
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, core.NewError(op, "", core.ErrNoProfilesAvailable, nil)
	}

	profile, err := sel(profiles)
	if err != nil {
		return nil, err
	}

	uri, err := client.GetStreamURI(ctx, profile.Token, TransportRTSP)
	if err != nil {
		return nil, err
	}

	// credentials come from the caller, never from the device
	uri = creds.Strip(uri)

	return &StreamTarget{Profile: *profile, Transport: TransportRTSP, URI: uri}, nil
}
