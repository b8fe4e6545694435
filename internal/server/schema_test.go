package server

import "testing"

func TestValidateFrame(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{
			name: "valid join",
			raw:  `{"type":"join","payload":{"boardId":"b1","displayName":"A","lastVersion":3}}`,
		},
		{
			name:    "join without boardId",
			raw:     `{"type":"join","payload":{"displayName":"A"}}`,
			wantErr: true,
		},
		{
			name: "valid operation",
			raw:  `{"type":"operation","payload":{"id":"op1","type":"move","elementId":"e1","parentVersion":2,"data":{"x":5}}}`,
		},
		{
			name:    "operation with unknown type",
			raw:     `{"type":"operation","payload":{"type":"teleport","parentVersion":0}}`,
			wantErr: true,
		},
		{
			name:    "operation with negative parentVersion",
			raw:     `{"type":"operation","payload":{"type":"move","parentVersion":-1}}`,
			wantErr: true,
		},
		{
			name: "valid cursor",
			raw:  `{"type":"cursor","payload":{"position":{"x":1.5,"y":-2}}}`,
		},
		{
			name:    "cursor missing coordinates",
			raw:     `{"type":"cursor","payload":{"position":{"x":1.5}}}`,
			wantErr: true,
		},
		{
			name: "valid selection",
			raw:  `{"type":"selection","payload":{"elementIds":["e1","e2"]}}`,
		},
		{
			name: "bare ping",
			raw:  `{"type":"ping"}`,
		},
		{
			name: "leave",
			raw:  `{"type":"leave","payload":{"boardId":"b1"}}`,
		},
		{
			name:    "missing type",
			raw:     `{"payload":{}}`,
			wantErr: true,
		},
		{
			name:    "not an object",
			raw:     `[1,2,3]`,
			wantErr: true,
		},
		{
			name:    "not JSON",
			raw:     `hello`,
			wantErr: true,
		},
		{
			name: "unknown type passes envelope",
			raw:  `{"type":"mystery","payload":{"anything":true}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFrame([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Errorf("validateFrame() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
