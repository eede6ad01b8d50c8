// Package session holds the SDK's single mutable identity record and the
// Uninitialized -> Initializing -> Ready state machine around it.
//
// Session is not safe for concurrent use on its own; the owner serialises access.
package session

import (
	"errors"
	"fmt"

	"github.com/Wuchinator/monetai-go/internal/remote"
)

type Phase int

const (
	Uninitialized Phase = iota
	Initializing
	Ready
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

var (
	ErrAttemptInFlight = errors.New("an initialization attempt is already in flight")

	ErrStaleAttempt = errors.New("attempt no longer owns the session")

	ErrIllegalTransition = errors.New("illegal session transition")
)

// Identity is the sdkKey/userId pair an attempt or a session is bound to.
type Identity struct {
	SDKKey string
	UserID string
}

func (id Identity) Validate() error {
	if id.SDKKey == "" {
		return remote.ErrInvalidSDKKey
	}
	if id.UserID == "" {
		return remote.ErrInvalidUserID
	}
	return nil
}

// Attempt identifies one initialization attempt. Results are applied only
// while the attempt's generation is still current.
type Attempt struct {
	Identity   Identity
	Generation uint64
}

type Session struct {
	phase      Phase
	identity   Identity
	exposure   *int
	campaign   *remote.Campaign
	group      *remote.TestGroup
	orgID      int
	generation uint64
}

func (s *Session) Phase() Phase {
	return s.phase
}

func (s *Session) Initialized() bool {
	return s.phase == Ready
}

func (s *Session) Identity() Identity {
	return s.identity
}

// HasIdentity reports whether sdkKey/userId are set, tentatively or for good.
func (s *Session) HasIdentity() bool {
	return s.identity.SDKKey != "" && s.identity.UserID != ""
}

func (s *Session) ExposureTimeSec() (int, bool) {
	if s.exposure == nil {
		return 0, false
	}
	return *s.exposure, true
}

func (s *Session) Campaign() *remote.Campaign {
	return s.campaign
}

func (s *Session) Group() *remote.TestGroup {
	return s.group
}

func (s *Session) OrganizationID() int {
	return s.orgID
}

// Begin starts a new attempt. The identity is stored tentatively; a
// failed attempt leaves it behind for the next Begin to overwrite.
func (s *Session) Begin(id Identity) (Attempt, error) {
	if err := id.Validate(); err != nil {
		return Attempt{}, err
	}

	switch s.phase {
	case Initializing:
		return Attempt{}, ErrAttemptInFlight
	case Ready:
		return Attempt{}, fmt.Errorf("%w: begin from %s", ErrIllegalTransition, s.phase)
	}

	s.generation++
	s.phase = Initializing
	s.identity = id

	return Attempt{Identity: id, Generation: s.generation}, nil
}

// Owns reports whether a is still the session's current attempt.
func (s *Session) Owns(a Attempt) bool {
	return s.phase == Initializing && s.generation == a.Generation
}

// Established records what the backend returned for a. The session stays in
// Initializing until MarkReady so queued events can drain first.
func (s *Session) Established(a Attempt, orgID int, group *remote.TestGroup, campaign *remote.Campaign) error {
	if !s.Owns(a) {
		return ErrStaleAttempt
	}

	s.orgID = orgID
	s.group = group
	s.campaign = campaign
	s.exposure = nil
	if campaign != nil {
		exposure := campaign.ExposureTimeSec
		s.exposure = &exposure
	}
	return nil
}

func (s *Session) MarkReady(a Attempt) error {
	if !s.Owns(a) {
		return ErrStaleAttempt
	}
	s.phase = Ready
	return nil
}

// Abandon returns a failed attempt to Uninitialized. It is a no-op for stale attempts.
func (s *Session) Abandon(a Attempt) {
	if s.Owns(a) {
		s.phase = Uninitialized
	}
}

// Reset wipes every field and invalidates any attempt still in flight.
func (s *Session) Reset() {
	s.generation++
	s.phase = Uninitialized
	s.identity = Identity{}
	s.exposure = nil
	s.campaign = nil
	s.group = nil
	s.orgID = 0
}
