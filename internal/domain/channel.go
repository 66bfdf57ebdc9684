package domain

// Channel names a delivery destination with its own formatting and transport rules.
type Channel string

const (
	ChannelSlack    Channel = "slack"
	ChannelTelegram Channel = "telegram"
	ChannelSMS      Channel = "sms"
	ChannelInApp    Channel = "inapp"
)

// Style influences generation guidance only; the fallback narrative ignores it.
type Style string

const (
	StyleConcise  Style = "concise"
	StyleDetailed Style = "detailed"
	StyleFriendly Style = "friendly"
)
