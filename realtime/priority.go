package realtime

// Priority is a connection's declared delivery priority. It is tracked
// per connection and reported through Conn.Priority, but no broadcast
// path consults it for ordering or admission.
type Priority string

// Recognized priority values. Connections start at PriorityNormal.
const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
)

// ParsePriority maps a wire value to a Priority. Only the exact
// uppercase forms are recognized.
func ParsePriority(s string) (Priority, bool) {
	switch Priority(s) {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return Priority(s), true
	default:
		return "", false
	}
}
