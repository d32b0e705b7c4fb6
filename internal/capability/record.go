package capability

import "slices"

// TimestampNever marks a capability timestamp that has never been set.
const TimestampNever int64 = -1

// Record is the last known feature-support snapshot for a contact, plus
// the timestamps of the last probe request and the last completed
// refresh (milliseconds since epoch). Records move around by value: the
// Store hands out snapshots and is the only mutator of the cached copy.
type Record struct {
	ImageSharing             bool
	VideoSharing             bool
	ImSession                bool
	FileTransfer             bool
	GeolocationPush          bool
	IPVoiceCall              bool
	IPVideoCall              bool
	PresenceDiscovery        bool
	SocialPresence           bool
	FileTransferHTTP         bool
	FileTransferThumbnail    bool
	FileTransferStoreForward bool
	GroupChatStoreForward    bool
	SIPAutomata              bool

	Extensions []string

	TimestampOfLastRequest int64
	TimestampOfLastRefresh int64
}

// NewRecord returns an empty record with both timestamps unset.
func NewRecord() Record {
	return Record{
		TimestampOfLastRequest: TimestampNever,
		TimestampOfLastRefresh: TimestampNever,
	}
}

// clone returns a copy that shares no state with the receiver.
func (r Record) clone() Record {
	c := r
	c.Extensions = slices.Clone(r.Extensions)
	return c
}

// AnySupported reports whether the record asserts at least one feature.
func (r Record) AnySupported() bool {
	return r.ImageSharing || r.VideoSharing || r.ImSession || r.FileTransfer ||
		r.GeolocationPush || r.IPVoiceCall || r.IPVideoCall ||
		r.PresenceDiscovery || r.SocialPresence || r.FileTransferHTTP ||
		r.FileTransferThumbnail || r.FileTransferStoreForward ||
		r.GroupChatStoreForward || r.SIPAutomata || len(r.Extensions) > 0
}

// Masked returns a copy whose feature flags are constrained by the
// contact's registration state: a flag may only stay asserted if the
// contact was registered when it was observed. The store-and-forward
// flags survive an offline contact when the corresponding always-on
// setting is enabled.
func (r Record) Masked(registered, imStoreForwardAlwaysOn, ftStoreForwardAlwaysOn bool) Record {
	if registered {
		return r.clone()
	}
	masked := NewRecord()
	masked.TimestampOfLastRequest = r.TimestampOfLastRequest
	masked.TimestampOfLastRefresh = r.TimestampOfLastRefresh
	masked.FileTransferStoreForward = r.FileTransferStoreForward && ftStoreForwardAlwaysOn
	masked.GroupChatStoreForward = r.GroupChatStoreForward && imStoreForwardAlwaysOn
	return masked
}
