package registry

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAddAndListMembers(t *testing.T) {
	r := New()

	r.AddMember("room-1", Member{ID: "s1", Name: "Ada", Color: "red"})
	r.AddMember("room-1", Member{ID: "s2", Name: "Bob", Color: "blue"})
	r.AddMember("room-2", Member{ID: "s3", Name: "Cy", Color: "green"})

	want := map[string]Member{
		"s1": {ID: "s1", Name: "Ada", Color: "red"},
		"s2": {ID: "s2", Name: "Bob", Color: "blue"},
	}
	if diff := cmp.Diff(want, r.ListMembers("room-1")); diff != "" {
		t.Errorf("Members mismatch (-want +got):\n%s", diff)
	}

	if r.MemberCount() != 3 {
		t.Errorf("Expected 3 members, got %d", r.MemberCount())
	}
}

func TestAddMemberReplacesSameSession(t *testing.T) {
	r := New()
	r.AddMember("room", Member{ID: "s1", Name: "first"})
	r.AddMember("room", Member{ID: "s1", Name: "second"})

	members := r.ListMembers("room")
	if len(members) != 1 {
		t.Fatalf("Expected 1 member, got %d", len(members))
	}
	if members["s1"].Name != "second" {
		t.Errorf("Expected latest attributes, got %q", members["s1"].Name)
	}
}

func TestRoomOutlivesMembers(t *testing.T) {
	r := New()
	r.AddMember("room", Member{ID: "s1"})

	if !r.RemoveMember("room", "s1") {
		t.Fatal("RemoveMember should report true for a member")
	}
	if r.RemoveMember("room", "s1") {
		t.Error("Second removal should report false")
	}
	if !r.RoomExists("room") {
		t.Error("Room should still exist with zero members")
	}
	if len(r.ListMembers("room")) != 0 {
		t.Error("Room should have no members")
	}
}

func TestEnsureAndUnknownRooms(t *testing.T) {
	r := New()

	if r.RoomExists("nowhere") {
		t.Error("Unknown room should not exist")
	}
	if got := r.ListMembers("nowhere"); len(got) != 0 {
		t.Errorf("Unknown room should list no members, got %v", got)
	}
	if r.RemoveMember("nowhere", "s1") {
		t.Error("Removing from an unknown room should report false")
	}

	r.Ensure("empty")
	if diff := cmp.Diff(map[string]int{"empty": 0}, r.Counts()); diff != "" {
		t.Errorf("Counts mismatch (-want +got):\n%s", diff)
	}
}

func TestListMembersIsCopy(t *testing.T) {
	r := New()
	r.AddMember("room", Member{ID: "s1"})

	members := r.ListMembers("room")
	delete(members, "s1")

	if _, ok := r.Member("room", "s1"); !ok {
		t.Error("Mutating the listing must not affect the registry")
	}
}

func TestConcurrentMembership(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%26)) + string(rune('a'+i/26))
			r.AddMember("room", Member{ID: id})
			r.ListMembers("room")
		}(i)
	}
	wg.Wait()

	if r.MemberCount() != 50 {
		t.Errorf("Expected 50 members, got %d", r.MemberCount())
	}
}
