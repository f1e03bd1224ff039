package cnst

// Push event names as sent by the server hub. The contract is not versioned;
// consumers must tolerate missing fields in any payload.
const (
	EventDownloadsRefresh = "DownloadsRefresh"

	EventProcessingProgress     = "ProcessingProgress"
	EventFastProcessingComplete = "FastProcessingComplete"
	EventBulkProcessingComplete = "BulkProcessingComplete"

	EventLogRemovalProgress = "LogRemovalProgress"
	EventLogRemovalComplete = "LogRemovalComplete"

	EventGameRemovalProgress = "GameRemovalProgress"
	EventGameRemovalComplete = "GameRemovalComplete"

	EventServiceRemovalProgress = "ServiceRemovalProgress"
	EventServiceRemovalComplete = "ServiceRemovalComplete"

	EventCorruptionRemovalStarted  = "CorruptionRemovalStarted"
	EventCorruptionRemovalComplete = "CorruptionRemovalComplete"

	EventGameDetectionStarted  = "GameDetectionStarted"
	EventGameDetectionComplete = "GameDetectionComplete"

	EventCacheClearProgress = "CacheClearProgress"
	EventCacheClearComplete = "CacheClearComplete"

	EventDatabaseResetProgress = "DatabaseResetProgress"

	EventDepotMappingStarted  = "DepotMappingStarted"
	EventDepotMappingProgress = "DepotMappingProgress"
	EventDepotMappingComplete = "DepotMappingComplete"

	EventEventCreated  = "EventCreated"
	EventEventUpdated  = "EventUpdated"
	EventEventDeleted  = "EventDeleted"
	EventEventsCleared = "EventsCleared"

	EventDownloadTagged = "DownloadTagged"

	EventUserPreferencesUpdated = "UserPreferencesUpdated"
	EventUserPreferencesReset   = "UserPreferencesReset"

	EventSteamSessionError = "SteamSessionError"
	EventSteamAutoLogout   = "SteamAutoLogout"

	EventGuestPollingRateUpdated        = "GuestPollingRateUpdated"
	EventDefaultGuestPollingRateChanged = "DefaultGuestPollingRateChanged"
	EventGuestDurationUpdated           = "GuestDurationUpdated"
)
