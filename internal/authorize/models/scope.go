package models

// Scope names an account journey a client may start.
type Scope string

const (
	ScopeAccountDelete  Scope = "account-delete"
	ScopePasskeyCreate  Scope = "passkey-create"
	ScopeTestingJourney Scope = "testing-journey"
)

// journeyEntryPaths maps each recognized scope to the first step of its journey.
var journeyEntryPaths = map[Scope]string{
	ScopeAccountDelete:  "/delete-account/enter-password",
	ScopePasskeyCreate:  "/passkey-create/create",
	ScopeTestingJourney: "/testing-journey/step-1",
}

// ParseScope returns the scope if it is globally recognized.
func ParseScope(s string) (Scope, bool) {
	sc := Scope(s)
	_, ok := journeyEntryPaths[sc]
	return sc, ok
}

// JourneyPath is the internal path that starts the scope's journey.
func (s Scope) JourneyPath() string {
	return journeyEntryPaths[s]
}

func (s Scope) String() string { return string(s) }
