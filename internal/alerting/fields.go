package alerting

import (
	"github.com/good-yellow-bee/logtrap/internal/models"
)

// FieldValue extracts the value of a field from a record.
// Unknown fields and empty values are reported as absent.
func FieldValue(record *models.LogRecord, field models.Field) (string, bool) {
	if record == nil {
		return "", false
	}

	var value string
	switch field {
	case models.FieldMessage:
		value = record.Message
	case models.FieldLoggerName:
		value = record.LoggerName
	case models.FieldThreadName:
		value = record.ThreadName
	case models.FieldExceptionClass:
		value = record.ExceptionClass
	case models.FieldExceptionMessage:
		value = record.ExceptionMessage
	case models.FieldStackTrace:
		value = record.StackTrace
	case models.FieldServiceName:
		value = record.ServiceName
	case models.FieldHostName:
		value = record.HostName
	case models.FieldIPAddress:
		value = record.IPAddress
	case models.FieldCorrelationID:
		value = record.CorrelationID
	case models.FieldCustomFields:
		value = record.CustomFields
	case models.FieldLevel:
		if record.Level.Valid() {
			value = record.Level.String()
		}
	default:
		// Stored conditions are canonical; tolerate raw aliases anyway.
		canonical, err := models.CanonicalField(string(field))
		if err != nil || canonical == field {
			return "", false
		}
		return FieldValue(record, canonical)
	}

	if value == "" {
		return "", false
	}
	return value, true
}
