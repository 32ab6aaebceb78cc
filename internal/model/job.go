package model

// DeliveryJob is the unit of work carried by the queue: one attempt of one
// event to one subscription.
type DeliveryJob struct {
	SubscriptionID string  `json:"subscription_id"`
	TenantID       string  `json:"tenant_id"`
	Event          string  `json:"event"`
	Payload        Payload `json:"payload"`
	AttemptNumber  int     `json:"attempt_number"`
}

// Envelope is the JSON body POSTed to subscriber endpoints. Field order is
// fixed so the signed bytes are deterministic.
type Envelope struct {
	Event     string  `json:"event"`
	Data      Payload `json:"data"`
	WebhookID string  `json:"webhook_id"`
	Timestamp string  `json:"timestamp"`
	Attempt   int     `json:"attempt"`
}
