package capability

// Channel selects how a capability refresh is requested.
type Channel string

const (
	// ChannelDirect probes the contact directly (OPTIONS-style exchange).
	ChannelDirect Channel = "DIRECT"
	// ChannelPresence discovers capabilities through an anonymous
	// presence fetch.
	ChannelPresence Channel = "PRESENCE"
)

// RefreshRequired reports whether a capability record refreshed at
// lastRefresh is due for another refresh at now. Both timestamps are
// milliseconds since epoch; expirySeconds is the configured validity
// window. A now earlier than lastRefresh means the clock moved
// backwards; the record is treated as stale.
func RefreshRequired(lastRefresh, now, expirySeconds int64) bool {
	if now < lastRefresh {
		return true
	}
	return now > lastRefresh+expirySeconds*1000
}

// SelectChannel picks the refresh channel for a cached record. Contacts
// without any cached record never reach this selector: they are always
// probed directly as new contacts.
func SelectChannel(rec Record) Channel {
	if rec.PresenceDiscovery {
		return ChannelPresence
	}
	return ChannelDirect
}
