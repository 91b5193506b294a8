package submit

import "testing"

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"remote ignores override", Config{Mode: ModeRemote, OverrideEndpoint: "http://x"}, RemoteEndpoint},
		{"remote without override", Config{Mode: ModeRemote}, RemoteEndpoint},
		{"local without override", Config{Mode: ModeLocal, OverrideEndpoint: ""}, DefaultLocalEndpoint},
		{"local with override", Config{Mode: ModeLocal, OverrideEndpoint: "http://x"}, "http://x"},
		{"unset mode falls back to remote", Config{OverrideEndpoint: "http://x"}, RemoteEndpoint},
		{"unknown mode falls back to remote", Config{Mode: "carrier-pigeon"}, RemoteEndpoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.cfg); got != tt.want {
				t.Errorf("Resolve(%+v) = %q, want %q", tt.cfg, got, tt.want)
			}
		})
	}

	t.Run("repeated calls agree", func(t *testing.T) {
		cfg := Config{Mode: ModeLocal, OverrideEndpoint: "http://192.168.1.4:8000/islr/predict"}
		first := Resolve(cfg)
		second := Resolve(cfg)
		if first != second {
			t.Errorf("expected identical results, got %q and %q", first, second)
		}
		if cfg.OverrideEndpoint != "http://192.168.1.4:8000/islr/predict" {
			t.Error("Resolve must not modify its input")
		}
	})
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"online", ModeRemote, false},
		{"remote", ModeRemote, false},
		{" Offline ", ModeLocal, false},
		{"local", ModeLocal, false},
		{"", "", true},
		{"hybrid", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
