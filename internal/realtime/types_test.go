package realtime

import "testing"

func TestParseRoomKey(t *testing.T) {
	tests := []struct {
		in      string
		want    RoomKey
		wantErr bool
	}{
		{in: "project:p1", want: ProjectRoom("p1")},
		{in: "document:doc-42", want: DocumentRoom("doc-42")},
		{in: "document:a:b", want: RoomKey{Kind: RoomDocument, ID: "a:b"}},
		{in: "workspace:w1", wantErr: true},
		{in: "project:", wantErr: true},
		{in: "project", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseRoomKey(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRoomKey(%q) accepted bad input", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRoomKey(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRoomKey(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if got.String() != tt.in {
			t.Errorf("round trip: %q -> %q", tt.in, got.String())
		}
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []Status{StatusOnline, StatusAway, StatusOffline} {
		if !ValidStatus(s) {
			t.Errorf("ValidStatus(%s) = false", s)
		}
	}
	if ValidStatus("busy") || ValidStatus("") {
		t.Error("ValidStatus accepted an unknown status")
	}
}
