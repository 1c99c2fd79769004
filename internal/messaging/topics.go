package messaging

const (
	// TopicOrderConfirmed carries domain.OrderConfirmedEvent, keyed by order number.
	TopicOrderConfirmed = "order.confirmed"
	// TopicPaymentIncident carries domain.PaymentIncidentEvent, keyed by order number.
	TopicPaymentIncident = "payment.incident"
)

const (
	headerContentType = "content-type"
	contentTypeJSON   = "application/json"
)
