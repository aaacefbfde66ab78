package tasks

import (
	"testing"
)

func TestNewTaskValidation(t *testing.T) {
	cases := []struct {
		name    string
		target  TargetDescriptor
		command string
		wantErr bool
	}{
		{
			name:    "pressable without url",
			target:  TargetDescriptor{ID: "site-1", Kind: KindPressable},
			command: "wp option get siteurl --format=json",
			wantErr: false,
		},
		{
			name:    "wpcom without url",
			target:  TargetDescriptor{ID: "example.wordpress.com", Kind: KindWPCOM},
			command: "wp plugin list --format=json",
			wantErr: false,
		},
		{
			name:    "custom requires url",
			target:  TargetDescriptor{ID: "legacy-1", Kind: KindCustom},
			command: "wp core version",
			wantErr: true,
		},
		{
			name:    "custom with url",
			target:  TargetDescriptor{ID: "legacy-1", Kind: KindCustom, URL: "legacy.example.com:22"},
			command: "wp core version",
			wantErr: false,
		},
		{
			name:    "unknown kind",
			target:  TargetDescriptor{ID: "site-1", Kind: "vps"},
			command: "uptime",
			wantErr: true,
		},
		{
			name:    "missing id",
			target:  TargetDescriptor{Kind: KindPressable},
			command: "uptime",
			wantErr: true,
		},
		{
			name:    "empty command",
			target:  TargetDescriptor{ID: "site-1", Kind: KindPressable},
			command: "",
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task, err := NewTask(tc.target, tc.command)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got task %+v", task)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if task.ID != tc.target.ID {
				t.Errorf("task ID = %q, want %q", task.ID, tc.target.ID)
			}
		})
	}
}

func TestParseTargetKind(t *testing.T) {
	for _, valid := range []string{"pressable", "wpcom", "custom"} {
		if _, err := ParseTargetKind(valid); err != nil {
			t.Errorf("ParseTargetKind(%q) = %v, want nil", valid, err)
		}
	}
	if _, err := ParseTargetKind("jurassic"); err == nil {
		t.Error("ParseTargetKind accepted an unknown kind")
	}
}

func TestParseErrorKindCollapsesUnknown(t *testing.T) {
	if got := ParseErrorKind("timeout"); got != ErrTimeout {
		t.Errorf("ParseErrorKind(timeout) = %q", got)
	}
	if got := ParseErrorKind("disk_on_fire"); got != ErrUnknown {
		t.Errorf("ParseErrorKind(disk_on_fire) = %q, want unknown", got)
	}
}

func TestFailureError(t *testing.T) {
	f := Failure{TaskID: "site-1", Kind: ErrTimeout, Detail: "deadline exceeded"}
	want := "task site-1: timeout: deadline exceeded"
	if f.Error() != want {
		t.Errorf("Error() = %q, want %q", f.Error(), want)
	}
}
