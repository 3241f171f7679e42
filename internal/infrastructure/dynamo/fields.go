package dynamo

// DynamoDB attribute names used in update and condition expressions.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldState      = "state"
	fieldExternalID = "external_id"
	fieldExpiresAt  = "expires_at"
	fieldChannelRef = "channel_ref"
)
