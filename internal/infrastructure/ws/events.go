package ws

// Inbound event types a participant may send.
const (
	ChatMessageEvent           = "chat_message"
	ProposeDescriptionEvent    = "propose_description"
	EditDescriptionEvent       = "edit_description"
	ApproveDescriptionEvent    = "approve_description"
	ConfirmSellerReadyEvent    = "confirm_seller_ready"
	LockFundsEvent             = "buyer_lock_funds"
	ProductDeliveredEvent      = "product_delivered"
	TransactionSuccessfulEvent = "transaction_successfull"
	InitDisputeEvent           = "init_dispute"
	FinalizeSubmissionEvent    = "finalize_submission"
	PingEvent                  = "ping"
)

// Outbound event types.
const (
	ConnectedEvent    = "connected"
	StateUpdateEvent  = "state_update"
	AdminMessageEvent = "admin_message"
	ErrorEvent        = "error"
	PongEvent         = "pong"
)

// Close codes sent when a connection is refused or dropped by the server.
const (
	CloseNotFound     = 4004
	ClosePrecondition = 4009
	CloseRoomFull     = 4029
	CloseInternal     = 4500
)
