package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyArmID      = "arm_id"
	KeySessionID  = "session_id"
	KeyStage      = "stage"
	KeyImage      = "image"
	KeyServo      = "servo"
	KeyPulseWidth = "pulse_width"
	KeyPin        = "pin"
	KeyHost       = "host"
	KeyPath       = "path"
	KeyBucket     = "bucket"
	KeyCommand    = "command"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func ArmID(id string) slog.Attr       { return slog.String(KeyArmID, id) }
func SessionID(id string) slog.Attr   { return slog.String(KeySessionID, id) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func Image(name string) slog.Attr     { return slog.String(KeyImage, name) }
func Servo(idx int) slog.Attr         { return slog.Int(KeyServo, idx) }
func PulseWidth(pw int) slog.Attr     { return slog.Int(KeyPulseWidth, pw) }
func Pin(pin int) slog.Attr           { return slog.Int(KeyPin, pin) }
func Host(h string) slog.Attr         { return slog.String(KeyHost, h) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Bucket(b string) slog.Attr       { return slog.String(KeyBucket, b) }
func Command(c string) slog.Attr      { return slog.String(KeyCommand, c) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
