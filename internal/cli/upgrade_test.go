package cli

import (
	"testing"
)

func TestParseUpgradeRequest(t *testing.T) {
	tests := []struct {
		name        string
		source      string
		target      string
		extraAddons string
		wantSource  string
		wantTarget  string
		wantAddons  string
		wantErr     error
	}{
		{
			name:       "local dump source",
			source:     "./source.dump",
			target:     "17.0",
			wantSource: "./source.dump",
			wantTarget: "17.0",
			wantErr:    nil,
		},
		{
			name:       "remote zip source",
			source:     "https://example.com/db.zip",
			target:     "16.0",
			wantSource: "https://example.com/db.zip",
			wantTarget: "16.0",
			wantErr:    nil,
		},
		{
			name:        "with extra addons",
			source:      "./source.dump",
			target:      "15.0",
			extraAddons: "./custom_addons.zip",
			wantSource:  "./source.dump",
			wantTarget:  "15.0",
			wantAddons:  "./custom_addons.zip",
			wantErr:     nil,
		},
		{
			name:       "source with whitespace",
			source:     "  ./source.dump  ",
			target:     "17.0",
			wantSource: "./source.dump",
			wantTarget: "17.0",
			wantErr:    nil,
		},
		{
			name:       "target with whitespace",
			source:     "./source.dump",
			target:     "  17.0  ",
			wantSource: "./source.dump",
			wantTarget: "17.0",
			wantErr:    nil,
		},
		{
			name:    "empty source",
			source:  "",
			target:  "17.0",
			wantErr: ErrSourceRequired,
		},
		{
			name:    "empty target",
			source:  "./source.dump",
			target:  "",
			wantErr: ErrTargetRequired,
		},
		{
			name:    "unsupported target",
			source:  "./source.dump",
			target:  "9.0",
			wantErr: ErrInvalidTarget,
		},
		{
			name:    "both empty",
			source:  "",
			target:  "",
			wantErr: ErrSourceRequired,
		},
		{
			name:    "whitespace only source",
			source:  "   ",
			target:  "17.0",
			wantErr: ErrSourceRequired,
		},
		{
			name:    "whitespace only target",
			source:  "./source.dump",
			target:  "   ",
			wantErr: ErrTargetRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseUpgradeRequest(tt.source, tt.target, tt.extraAddons)

			if tt.wantErr != nil {
				if err == nil {
					t.Errorf("ParseUpgradeRequest() expected error %v, got nil", tt.wantErr)
					return
				}
				if err != tt.wantErr {
					t.Errorf("ParseUpgradeRequest() error = %v, want %v", err, tt.wantErr)
				}
				return
			}

			if err != nil {
				t.Errorf("ParseUpgradeRequest() unexpected error: %v", err)
				return
			}

			if req.Source != tt.wantSource {
				t.Errorf("ParseUpgradeRequest() source = %v, want %v", req.Source, tt.wantSource)
			}
			if req.TargetMajor != tt.wantTarget {
				t.Errorf("ParseUpgradeRequest() target = %v, want %v", req.TargetMajor, tt.wantTarget)
			}
			if req.ExtraAddons != tt.wantAddons {
				t.Errorf("ParseUpgradeRequest() extraAddons = %v, want %v", req.ExtraAddons, tt.wantAddons)
			}
		})
	}
}

func TestUpgradeRequestStruct(t *testing.T) {
	req := &UpgradeRequest{
		Source:      "./source.dump",
		TargetMajor: "17.0",
	}

	if req.Source != "./source.dump" {
		t.Errorf("Source = %v, want ./source.dump", req.Source)
	}
	if req.TargetMajor != "17.0" {
		t.Errorf("TargetMajor = %v, want 17.0", req.TargetMajor)
	}
}
