package models

import (
	"encoding/json"
	"testing"
)

func TestCoordUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Coord
		wantErr bool
	}{
		{name: "lon lat pair", in: "[-6.26,53.35]", want: Coord{Lon: -6.26, Lat: 53.35}},
		{name: "empty array", in: "[]", wantErr: true},
		{name: "single element", in: "[1]", wantErr: true},
		{name: "three elements", in: "[1,2,3]", wantErr: true},
		{name: "object", in: `{"lon":1,"lat":2}`, wantErr: true},
		{name: "strings", in: `["-6.26","53.35"]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Coord
			err := json.Unmarshal([]byte(tt.in), &c)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s, decoded %+v", tt.in, c)
				}
				return
			}
			if err != nil {
				t.Fatalf("unmarshal %s: %v", tt.in, err)
			}
			if c != tt.want {
				t.Fatalf("got %+v, want %+v", c, tt.want)
			}
		})
	}
}

func TestCoordMarshalShape(t *testing.T) {
	b, err := json.Marshal(Coord{Lon: -6.26, Lat: 53.35})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != "[-6.26,53.35]" {
		t.Fatalf("expected [lon,lat] array, got %s", b)
	}
}
