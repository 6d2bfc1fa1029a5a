package validation

import "testing"

func TestValidateUUID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid UUID", "550e8400-e29b-41d4-a716-446655440000", false},
		{"valid UUID uppercase", "550E8400-E29B-41D4-A716-446655440000", false},
		{"empty", "", true},
		{"not a UUID", "not-a-uuid", true},
		{"path traversal attempt", "../../../etc/passwd", true},
		{"sql injection attempt", "'; DROP TABLE sessions; --", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUUID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUUID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateMessageID(t *testing.T) {
	if err := ValidateMessageID("550e8400-e29b-41d4-a716-446655440000"); err != nil {
		t.Errorf("unexpected error for valid message id: %v", err)
	}
	if err := ValidateMessageID(""); err == nil {
		t.Error("expected error for empty message id")
	}
}

func TestValidateSessionID(t *testing.T) {
	if err := ValidateSessionID("550e8400-e29b-41d4-a716-446655440000"); err != nil {
		t.Errorf("unexpected error for valid session id: %v", err)
	}
	if err := ValidateSessionID("not-a-uuid"); err == nil {
		t.Error("expected error for malformed session id")
	}
}

func TestValidatePromiseID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"execute flow", "exec:550e8400-e29b-41d4-a716-446655440000", false},
		{"input flow", "550e8400-e29b-41d4-a716-446655440000:input:660e8400-e29b-41d4-a716-446655440000", false},
		{"empty", "", true},
		{"unrelated string", "not-a-promise-id", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePromiseID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePromiseID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}
