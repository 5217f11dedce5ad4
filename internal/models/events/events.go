package events

// Topics the engine publishes to.
const (
	TopicTransactionRecorded  = "budget.transaction.recorded"
	TopicAuthorizationDecided = "budget.authorization.decided"
	TopicAlertRaised          = "budget.alert.raised"
	TopicAnomalyDetected      = "budget.anomaly.detected"
)
