package bridge

import (
	"fmt"
	"strings"
)

// BridgeID namespaces one bridge. Both domains of a page use the same id,
// typically the extension id.
type BridgeID string

// Domain identifies which side of the page an endpoint runs in.
type Domain string

const (
	Isolated Domain = "ISOLATED"
	Main     Domain = "MAIN"
)

// Counterpart returns the domain an endpoint talks to.
func (d Domain) Counterpart() Domain {
	switch d {
	case Isolated:
		return Main
	case Main:
		return Isolated
	default:
		return ""
	}
}

// Valid reports whether d is ISOLATED or MAIN.
func (d Domain) Valid() bool {
	return d == Isolated || d == Main
}

func (d Domain) String() string {
	return string(d)
}

// ParseDomain accepts a domain name in any case.
func ParseDomain(s string) (Domain, error) {
	d := Domain(strings.ToUpper(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("unknown domain %q", s)
	}
	return d, nil
}

// DetectDomain maps the host's privilege signal to a domain: code that can
// reach the extension runtime is ISOLATED, page code is MAIN.
func DetectDomain(privileged bool) Domain {
	if privileged {
		return Isolated
	}
	return Main
}

// Drop reasons recorded when the identity filter rejects a frame.
const (
	dropMalformed = "malformed"
	dropForeign   = "foreign_bridge"
	dropOwnDomain = "own_domain"
	dropUnknown   = "unknown_domain"
)

// admit applies the inbound identity filter. It returns an empty reason for
// envelopes sent by the counterpart under the same bridge id.
func admit(id BridgeID, self Domain, env *Envelope) string {
	switch {
	case env.BridgeID != id:
		return dropForeign
	case env.DomainTag == self:
		return dropOwnDomain
	case env.DomainTag != self.Counterpart():
		return dropUnknown
	}
	return ""
}
