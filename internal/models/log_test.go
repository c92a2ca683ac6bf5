package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"TRACE", LevelTrace, false},
		{"debug", LevelDebug, false},
		{"Info", LevelInfo, false},
		{"WARN", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"ERROR", LevelError, false},
		{"err", LevelError, false},
		{"FATAL", LevelFatal, false},
		{"critical", LevelFatal, false},
		{" error ", LevelError, false},
		{"verbose", LevelUnknown, true},
		{"", LevelUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLevel_Ordering(t *testing.T) {
	ordered := []Level{LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal}
	for i := 1; i < len(ordered); i++ {
		if !(ordered[i] > ordered[i-1]) {
			t.Errorf("%v should be more severe than %v", ordered[i], ordered[i-1])
		}
		if !ordered[i].AtLeast(ordered[i-1]) {
			t.Errorf("%v.AtLeast(%v) = false, want true", ordered[i], ordered[i-1])
		}
		if ordered[i-1].AtLeast(ordered[i]) {
			t.Errorf("%v.AtLeast(%v) = true, want false", ordered[i-1], ordered[i])
		}
	}
}

func TestLevel_JSON(t *testing.T) {
	rec := LogRecord{ID: "r1", Level: LevelWarn, Message: "disk low"}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded["level"] != "WARN" {
		t.Errorf("level = %v, want WARN", decoded["level"])
	}

	var back LogRecord
	if err := json.Unmarshal([]byte(`{"id":"r2","level":"error"}`), &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back.Level != LevelError {
		t.Errorf("Level = %v, want ERROR", back.Level)
	}

	if err := json.Unmarshal([]byte(`{"level":"loud"}`), &back); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestLogRecord_String(t *testing.T) {
	rec := &LogRecord{
		Timestamp:   time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Level:       LevelError,
		ServiceName: "payments",
		Message:     "charge failed",
	}

	want := "2024-01-15T10:30:00Z [ERROR] payments: charge failed"
	if got := rec.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if !rec.IsError() {
		t.Error("IsError() = false, want true")
	}
}

func TestCanonicalField(t *testing.T) {
	tests := []struct {
		input   string
		want    Field
		wantErr bool
	}{
		{"", FieldMessage, false},
		{"message", FieldMessage, false},
		{"loggerName", FieldLoggerName, false},
		{"logger_name", FieldLoggerName, false},
		{"exceptionClass", FieldExceptionClass, false},
		{"stackTrace", FieldStackTrace, false},
		{"host", FieldHostName, false},
		{"ipAddress", FieldIPAddress, false},
		{"correlationId", FieldCorrelationID, false},
		{"customFields", FieldCustomFields, false},
		{"severity", FieldLevel, false},
		{"nonexistent", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := CanonicalField(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CanonicalField(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("CanonicalField(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseEnums(t *testing.T) {
	if tt, err := ParseTrapType("frequency"); err != nil || tt != TrapTypeFrequency {
		t.Errorf("ParseTrapType = %v, %v", tt, err)
	}
	if _, err := ParseTrapType("CORRELATION"); err == nil {
		t.Error("expected error for unknown trap type")
	}
	if ct, err := ParseConditionType("frequency_threshold"); err != nil || ct != ConditionFrequencyThreshold {
		t.Errorf("ParseConditionType = %v, %v", ct, err)
	}
	if _, err := ParseConditionType("SIMILARITY"); err == nil {
		t.Error("expected error for unknown condition type")
	}
	if s, err := ParseSeverity("HIGH"); err != nil || s != SeverityHigh {
		t.Errorf("ParseSeverity = %v, %v", s, err)
	}
	if _, err := ParseSeverity("urgent"); err == nil {
		t.Error("expected error for unknown severity")
	}
	if st, err := ParseAlertStatus("acknowledged"); err != nil || st != AlertStatusAcknowledged {
		t.Errorf("ParseAlertStatus = %v, %v", st, err)
	}
	if _, err := ParseAlertStatus("SNOOZED"); err == nil {
		t.Error("expected error for unknown status")
	}
}
