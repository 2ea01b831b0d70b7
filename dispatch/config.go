package dispatch

import (
	"time"

	"github.com/quicrelay/qdispatch/transport"
)

// Config is the dispatcher's construction-time configuration. Every field
// here is explicit and loaded through viper's mapstructure binding in
// cmd/qdispatchd; none of it is a process-global flag.
type Config struct {
	MaxConnections            int `mapstructure:"max_connections"`
	MaxConnectionsWithoutChlo int `mapstructure:"max_connections_without_chlo"`
	MaxPacketsPerConnection   int `mapstructure:"max_packets_per_connection"`

	ConnectionLifeSpan time.Duration `mapstructure:"connection_life_span"`

	ExpectedServerConnectionIDLength       int  `mapstructure:"expected_server_connection_id_length"`
	AllowShortInitialServerConnectionIDs   bool `mapstructure:"allow_short_initial_server_connection_ids"`
	UpdateExpectedCIDLengthFromFirstPacket bool `mapstructure:"update_expected_server_connection_id_length_from_first_packet"`
	LengthPrefixedConnectionIDs            bool `mapstructure:"length_prefixed_connection_ids"`

	SupportedVersions []uint32 `mapstructure:"supported_versions"`
	SupportedALPNs    []string `mapstructure:"supported_alpns"`

	// AcceptNewConnections gates whether an unknown connection ID with a
	// version flag may start a new connection at all.
	AcceptNewConnections bool `mapstructure:"accept_new_connections"`

	// NewSessionsAllowedPerEventLoop is the session-creation budget the
	// owner replenishes on each ProcessBufferedChlos call.
	NewSessionsAllowedPerEventLoop int `mapstructure:"new_sessions_allowed_per_event_loop"`

	// MinClientInitialPacketLength is the anti-amplification floor applied
	// to inbound Initial packets.
	MinClientInitialPacketLength int `mapstructure:"min_client_initial_packet_length"`

	// MinPacketSizeForVersionNegotiation gates whether a too-small unknown-
	// version packet is even worth replying to.
	MinPacketSizeForVersionNegotiation int `mapstructure:"min_packet_size_for_version_negotiation"`
}

// DefaultConfig returns the values spec.md §6 names as defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections:                         10000,
		MaxConnectionsWithoutChlo:               300,
		MaxPacketsPerConnection:                 100,
		ConnectionLifeSpan:                      100 * time.Millisecond,
		ExpectedServerConnectionIDLength:        8,
		AllowShortInitialServerConnectionIDs:    false,
		UpdateExpectedCIDLengthFromFirstPacket:  false,
		LengthPrefixedConnectionIDs:             true,
		SupportedVersions:                       []uint32{transport.Version1},
		SupportedALPNs:                          []string{"h3"},
		AcceptNewConnections:                    true,
		NewSessionsAllowedPerEventLoop:          16,
		MinClientInitialPacketLength:            1200,
		MinPacketSizeForVersionNegotiation:      1200,
	}
}

// SupportedVersions and SupportedALPNs are read by SelectAlpn and the
// version gate below; IsSupportedVersion exposes the membership test to
// tests that want to exercise it directly.
func (c Config) IsSupportedVersion(version uint32) bool {
	return c.isSupportedVersion(version)
}

func (c Config) isSupportedVersion(version uint32) bool {
	for _, v := range c.SupportedVersions {
		if v == version {
			return true
		}
	}
	return false
}
