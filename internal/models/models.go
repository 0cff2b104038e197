// Package models contains the JSON shapes shared between the HTTP handlers
// and the client library.
package models

// RedrivePolicy pairs the receive bound with the dead letter target.
// Both fields are always set together.
type RedrivePolicy struct {
	MaxReceives     int32  `json:"max_receives"`
	DeadLetterQueue string `json:"dead_letter_queue"`
}

// QueueConfig is the request body for queue create and update.
// All durations are whole seconds.
type QueueConfig struct {
	RedrivePolicy        *RedrivePolicy `json:"redrive_policy"`
	RetentionTimeout     int64          `json:"retention_timeout"`
	VisibilityTimeout    int64          `json:"visibility_timeout"`
	MessageDelay         int64          `json:"message_delay"`
	MessageDeduplication bool           `json:"message_deduplication"`
}

// QueueConfigOutput is a queue's configuration as returned by the API.
type QueueConfigOutput struct {
	Name                 string         `json:"name"`
	RedrivePolicy        *RedrivePolicy `json:"redrive_policy"`
	RetentionTimeout     int64          `json:"retention_timeout"`
	VisibilityTimeout    int64          `json:"visibility_timeout"`
	MessageDelay         int64          `json:"message_delay"`
	MessageDeduplication bool           `json:"message_deduplication"`
}

// QueueStatus reports live message counts for a queue.
type QueueStatus struct {
	Messages         int64 `json:"messages"`
	VisibleMessages  int64 `json:"visible_messages"`
	OldestMessageAge int64 `json:"oldest_message_age"`
}

// QueueDescription combines a queue's configuration with its status.
type QueueDescription struct {
	QueueConfigOutput
	Status QueueStatus `json:"status"`
}

// QueuesResponse is the paged queue listing.
type QueuesResponse struct {
	Total  int64               `json:"total"`
	Queues []QueueConfigOutput `json:"queues"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
