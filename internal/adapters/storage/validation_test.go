package storage

import (
	"strings"
	"testing"
	"time"
)

func TestValidateObjectKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{key: "maintenance/2025/06/02/abc.json"},
		{key: "", wantErr: true},
		{key: "/maintenance/abc.json", wantErr: true},
		{key: "maintenance/../secrets.json", wantErr: true},
		{key: "maintenance//abc.json", wantErr: true},
		{key: "maintenance\\abc.json", wantErr: true},
		{key: strings.Repeat("a", maxObjectKeyLength+1), wantErr: true},
	}
	for _, tt := range tests {
		err := ValidateObjectKey(tt.key)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ValidateObjectKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
	}
}

func TestNewestFirst(t *testing.T) {
	base := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	objs := []ObjectInfo{
		{Key: "a", LastModified: base},
		{Key: "c", LastModified: base.Add(time.Hour)},
		{Key: "b", LastModified: base},
	}
	got := newestFirst(objs, 0)
	if got[0].Key != "c" || got[1].Key != "b" || got[2].Key != "a" {
		t.Fatalf("unexpected order %+v", got)
	}
	if got := newestFirst(objs, 2); len(got) != 2 || got[0].Key != "c" {
		t.Fatalf("expected limit to keep the two newest, got %+v", got)
	}
}
