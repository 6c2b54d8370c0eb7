package drm

import (
	"errors"
	"testing"
)

func testConnector() *Object {
	return &Object{
		ID:   31,
		Type: TypeConnector,
		Props: PropertyTable{
			{Name: "EDID", ID: 1},
			{Name: "DPMS", ID: 2},
			{Name: "CRTC_ID", ID: 20},
		},
	}
}

func TestPropertyLookup(t *testing.T) {
	obj := testConnector()

	tests := []struct {
		name    string
		prop    string
		wantID  uint32
		wantErr bool
	}{
		{name: "first entry", prop: "EDID", wantID: 1},
		{name: "middle entry", prop: "DPMS", wantID: 2},
		{name: "last entry", prop: "CRTC_ID", wantID: 20},
		{name: "absent property", prop: "OUT_FENCE_PTR", wantErr: true},
		{name: "case sensitive", prop: "crtc_id", wantErr: true},
		{name: "empty name", prop: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := obj.Property(tt.prop)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Property(%q) succeeded, want error", tt.prop)
				}
				var cfgErr *ConfigurationError
				if !errors.As(err, &cfgErr) {
					t.Fatalf("Property(%q) error = %v, want ConfigurationError", tt.prop, err)
				}
				if cfgErr.Property != tt.prop || cfgErr.ObjectID != obj.ID {
					t.Errorf("ConfigurationError = %+v, want property %q on object %d", cfgErr, tt.prop, obj.ID)
				}
				return
			}
			if err != nil {
				t.Fatalf("Property(%q) failed: %v", tt.prop, err)
			}
			if id != tt.wantID {
				t.Errorf("Property(%q) = %d, want %d", tt.prop, id, tt.wantID)
			}
		})
	}
}

func TestPropertyLookupIdempotent(t *testing.T) {
	obj := testConnector()

	first, err := obj.Property("CRTC_ID")
	if err != nil {
		t.Fatalf("Property failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		id, err := obj.Property("CRTC_ID")
		if err != nil {
			t.Fatalf("repeated Property failed: %v", err)
		}
		if id != first {
			t.Fatalf("repeated Property = %d, want %d", id, first)
		}
	}
}

func TestAddUnknownPropertyLeavesRequestUnchanged(t *testing.T) {
	sess := newFakeSession(1920, 1080)
	b := NewBuilder(sess)

	req := b.Begin()
	if err := b.Add(req, sess.Connector(), "CRTC_ID", 1); err != nil {
		t.Fatalf("Add known property failed: %v", err)
	}
	before := req.Len()

	err := b.Add(req, sess.Connector(), "NO_SUCH_PROP", 1)
	if err == nil {
		t.Fatal("Add with unknown property succeeded, want error")
	}
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Add error = %v, want ConfigurationError", err)
	}
	if req.Len() != before {
		t.Errorf("request changed on failed Add: %d triples, want %d", req.Len(), before)
	}
}
