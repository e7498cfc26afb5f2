package ctxkey

// Keys stored on the gin context by middleware for downstream handlers.
const (
	RequestId      = "request_id"
	KeyRequestBody = "key_request_body"

	UserId             = "user_id"
	ApiKeyId           = "api_key_id"
	UserTier           = "user_tier"
	IsTrial            = "is_trial"
	IsAdmin            = "is_admin"
	BypassAuth         = "bypass_auth"
	SubscriptionActive = "subscription_active"

	RequestModel    = "request_model"
	RouterDirective = "router_directive"

	ClientRequestPayloadLogged = "client_request_payload_logged"
)
