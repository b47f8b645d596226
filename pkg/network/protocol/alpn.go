package protocol

import (
	"errors"
	"fmt"
	"strings"
)

const (
	protocolPrefix = "dispersal"

	// CurrentVersion is the wire version spoken by this module.
	CurrentVersion = "0"
)

var ErrInvalidProtocol = errors.New("invalid ALPN protocol")

// ProtocolID is the ALPN identifier "dispersal/<version>".
type ProtocolID struct {
	Version string
}

func NewProtocolID(version string) ProtocolID {
	if version == "" {
		version = CurrentVersion
	}
	return ProtocolID{Version: version}
}

func (p ProtocolID) String() string {
	return protocolPrefix + "/" + p.Version
}

// ParseProtocolID parses an ALPN string produced by ProtocolID.String.
func ParseProtocolID(s string) (ProtocolID, error) {
	prefix, version, ok := strings.Cut(s, "/")
	if !ok || prefix != protocolPrefix {
		return ProtocolID{}, fmt.Errorf("%w: %q", ErrInvalidProtocol, s)
	}
	if version == "" || strings.Contains(version, "/") {
		return ProtocolID{}, fmt.Errorf("%w: bad version in %q", ErrInvalidProtocol, s)
	}
	return ProtocolID{Version: version}, nil
}
