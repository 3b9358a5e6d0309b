package webhooks

const AllEvents = "*"

const (
	EventOrderCreated        = "order.created"
	EventOrderUpdated        = "order.updated"
	EventOrderCancelled      = "order.cancelled"
	EventOrderShipped        = "order.shipped"
	EventOrderDelivered      = "order.delivered"
	EventProductCreated      = "product.created"
	EventProductUpdated      = "product.updated"
	EventProductDeleted      = "product.deleted"
	EventCustomerCreated     = "customer.created"
	EventCustomerUpdated     = "customer.updated"
	EventCustomerDeleted     = "customer.deleted"
	EventPaymentCreated      = "payment.created"
	EventPaymentUpdated      = "payment.updated"
	EventCouponUsed          = "coupon.used"
	EventSpecialOfferApplied = "special_offer.applied"
	EventShipmentCreated     = "shipment.created"
	EventShipmentUpdated     = "shipment.updated"
	EventReviewCreated       = "review.created"
	eventUnknown             = "unknown"
)

// KnownEvents lists the event types a subscription can name, without the
// wildcard.
func KnownEvents() []string {
	return []string{
		EventOrderCreated,
		EventOrderUpdated,
		EventOrderCancelled,
		EventOrderShipped,
		EventOrderDelivered,
		EventProductCreated,
		EventProductUpdated,
		EventProductDeleted,
		EventCustomerCreated,
		EventCustomerUpdated,
		EventCustomerDeleted,
		EventPaymentCreated,
		EventPaymentUpdated,
		EventCouponUsed,
		EventSpecialOfferApplied,
		EventShipmentCreated,
		EventShipmentUpdated,
		EventReviewCreated,
	}
}
