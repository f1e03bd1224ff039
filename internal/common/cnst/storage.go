package cnst

// Durable store keys. Each holds one JSON-encoded document; corrupt or
// missing entries are treated as absent.
const (
	StoreKeyNotificationPrefix = "notification:" // + JobKind
	StoreKeyTimeFilter         = "timeFilter"
	StoreKeyEventFilter        = "eventFilter"
	StoreKeyPollingRate        = "pollingRate"
	StoreKeyServiceTab         = "serviceTab"
)

// NotificationKey returns the durable store key for a job kind's snapshot.
func NotificationKey(kind JobKind) string {
	return StoreKeyNotificationPrefix + string(kind)
}
