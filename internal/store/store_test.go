package store

import (
	"path/filepath"
	"testing"

	"rcsd/internal/capability"
	"rcsd/internal/contact"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestContactUpsertKeepsDisplayName(t *testing.T) {
	db := testDB(t)
	id := contact.MustParse("+5511999990001")

	if err := db.UpsertContact(id, "Alice"); err != nil {
		t.Fatal(err)
	}
	// An empty display name must not clobber the stored one.
	if err := db.UpsertContact(id, ""); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetContact(id)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.DisplayName != "Alice" {
		t.Errorf("got %+v, want display name Alice", c)
	}

	// Non-existent contact.
	c, err = db.GetContact(contact.MustParse("+5511999990002"))
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Error("expected nil for missing contact")
	}
}

func TestBlockedRoundTrip(t *testing.T) {
	db := testDB(t)
	id := contact.MustParse("+5511999990001")

	// Unknown contacts are not blocked.
	blocked, err := db.IsBlocked(id)
	if err != nil {
		t.Fatal(err)
	}
	if blocked {
		t.Error("unknown contact reported blocked")
	}

	// Blocking must work even before the contact exists.
	if err := db.SetBlocked(id, true); err != nil {
		t.Fatal(err)
	}
	if blocked, _ = db.IsBlocked(id); !blocked {
		t.Error("contact not blocked after SetBlocked(true)")
	}

	if err := db.SetBlocked(id, false); err != nil {
		t.Fatal(err)
	}
	if blocked, _ = db.IsBlocked(id); blocked {
		t.Error("contact still blocked after SetBlocked(false)")
	}
}

func TestAllContactsSkipsUnparsableRows(t *testing.T) {
	db := testDB(t)
	good := contact.MustParse("+5511999990001")

	if err := db.UpsertContact(good, "Alice"); err != nil {
		t.Fatal(err)
	}
	// A row written by an older build or by hand.
	if _, err := db.Exec(
		`INSERT INTO contacts (number, updated_at) VALUES (?, 0)`, "not-a-number"); err != nil {
		t.Fatal(err)
	}

	ids, err := db.AllContacts()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != good {
		t.Errorf("AllContacts = %v, want just %s", ids, good)
	}
}

func TestCapabilitiesRoundTrip(t *testing.T) {
	db := testDB(t)
	id := contact.MustParse("+5511999990001")

	// Never queried.
	rec, err := db.LoadCapabilities(id)
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Fatal("expected nil record for a never-queried contact")
	}

	in := capability.NewRecord()
	in.ImageSharing = true
	in.PresenceDiscovery = true
	in.GroupChatStoreForward = true
	in.Extensions = []string{"+g.custom.a", "+g.custom.b"}
	in.TimestampOfLastRequest = 1000
	in.TimestampOfLastRefresh = 2000
	if err := db.SaveCapabilities(id, in); err != nil {
		t.Fatal(err)
	}

	out, err := db.LoadCapabilities(id)
	if err != nil {
		t.Fatal(err)
	}
	if out == nil {
		t.Fatal("record missing after save")
	}
	if !out.ImageSharing || !out.PresenceDiscovery || !out.GroupChatStoreForward {
		t.Errorf("flags lost in round trip: %+v", out)
	}
	if out.VideoSharing || out.SIPAutomata {
		t.Errorf("flags invented in round trip: %+v", out)
	}
	if len(out.Extensions) != 2 || out.Extensions[0] != "+g.custom.a" {
		t.Errorf("extensions = %v", out.Extensions)
	}
	if out.TimestampOfLastRequest != 1000 || out.TimestampOfLastRefresh != 2000 {
		t.Errorf("timestamps = %d/%d, want 1000/2000",
			out.TimestampOfLastRequest, out.TimestampOfLastRefresh)
	}
}

func TestCapabilitiesTouchTimestamps(t *testing.T) {
	db := testDB(t)
	id := contact.MustParse("+5511999990001")

	if err := db.SaveCapabilities(id, capability.NewRecord()); err != nil {
		t.Fatal(err)
	}
	if err := db.TouchLastRequest(id, 111); err != nil {
		t.Fatal(err)
	}
	if err := db.TouchLastRefresh(id, 222); err != nil {
		t.Fatal(err)
	}

	rec, err := db.LoadCapabilities(id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.TimestampOfLastRequest != 111 || rec.TimestampOfLastRefresh != 222 {
		t.Errorf("timestamps = %d/%d, want 111/222",
			rec.TimestampOfLastRequest, rec.TimestampOfLastRefresh)
	}
}

func TestSaveCapabilitiesMarksRcsCapable(t *testing.T) {
	db := testDB(t)
	id := contact.MustParse("+5511999990001")

	// An empty record proves nothing about the contact.
	if err := db.SaveCapabilities(id, capability.NewRecord()); err != nil {
		t.Fatal(err)
	}
	c, _ := db.GetContact(id)
	if c == nil {
		t.Fatal("contact row not created by capability save")
	}
	if c.RcsCapable {
		t.Error("empty record marked contact rcs capable")
	}

	rec := capability.NewRecord()
	rec.ImSession = true
	if err := db.SaveCapabilities(id, rec); err != nil {
		t.Fatal(err)
	}
	if c, _ = db.GetContact(id); !c.RcsCapable {
		t.Error("capable record did not mark contact rcs capable")
	}

	// The flag never downgrades, even when a later (masked) record is
	// empty again.
	if err := db.SaveCapabilities(id, capability.NewRecord()); err != nil {
		t.Fatal(err)
	}
	if c, _ = db.GetContact(id); !c.RcsCapable {
		t.Error("rcs capable flag downgraded by an empty record")
	}
}

func TestSharingLog(t *testing.T) {
	db := testDB(t)

	s := &Sharing{
		SharingID:   "share-1",
		Contact:     "+5511999990001",
		Kind:        "IMAGE",
		Direction:   "TERMINATING",
		State:       "INVITED",
		ContentName: "photo.jpg",
		ContentMime: "image/jpeg",
		ContentSize: 1024,
		CreatedAt:   1000,
	}
	if err := db.AddSharing(s); err != nil {
		t.Fatal(err)
	}
	if err := db.SetSharingState("share-1", "STARTED", ""); err != nil {
		t.Fatal(err)
	}
	if err := db.SetSharingProgress("share-1", 512); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetSharing("share-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != "STARTED" || got.Transferred != 512 {
		t.Errorf("state/progress = %s/%d, want STARTED/512", got.State, got.Transferred)
	}
	if got.ContentName != "photo.jpg" || got.ContentSize != 1024 {
		t.Errorf("content metadata lost: %+v", got)
	}

	if err := db.AddSharing(&Sharing{
		SharingID: "share-2", Contact: "+5511999990002", Kind: "GEOLOC",
		Direction: "ORIGINATING", State: "INITIATING", CreatedAt: 2000,
	}); err != nil {
		t.Fatal(err)
	}

	hist, err := db.SharingHistory(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 {
		t.Fatalf("history rows = %d, want 2", len(hist))
	}
	if hist[0].SharingID != "share-2" {
		t.Errorf("history not newest-first: %s", hist[0].SharingID)
	}

	n, err := db.SharingCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("SharingCount = %d, want 2", n)
	}
}

func TestGroupChatLog(t *testing.T) {
	db := testDB(t)

	gc := &GroupChat{
		ChatID:         "chat-1",
		ContributionID: "contrib-1",
		Contact:        "+5511999990001",
		Subject:        "weekend plans",
		Participants:   []string{"+5511999990001", "+5511999990002"},
		Direction:      "OUTGOING",
		State:          "INITIATING",
	}
	if err := db.AddGroupChat(gc); err != nil {
		t.Fatal(err)
	}
	if err := db.SetGroupChatState("chat-1", "STARTED", ""); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetGroupChat("chat-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("group chat row missing")
	}
	if got.State != "STARTED" {
		t.Errorf("state = %s, want STARTED", got.State)
	}
	if len(got.Participants) != 2 || got.Participants[1] != "+5511999990002" {
		t.Errorf("participants = %v", got.Participants)
	}
	if got.Subject != "weekend plans" || got.ContributionID != "contrib-1" {
		t.Errorf("row lost fields: %+v", got)
	}

	missing, err := db.GetGroupChat("nope")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("expected nil for missing chat id")
	}
}

func TestAddMessageDeduplicates(t *testing.T) {
	db := testDB(t)

	m := &Message{
		MessageID: "m1", ChatID: "chat-1", Contact: "+5511999990001",
		Direction: "INCOMING", MimeType: "text/plain", Body: "hello", Timestamp: 1000,
	}
	if err := db.AddMessage(m); err != nil {
		t.Fatal(err)
	}
	if err := db.AddMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.Messages("chat-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1 (retransmission not deduplicated)", len(msgs))
	}
	if msgs[0].Body != "hello" || msgs[0].MimeType != "text/plain" {
		t.Errorf("message row = %+v", msgs[0])
	}

	n, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("MessageCount = %d, want 1", n)
	}
}
