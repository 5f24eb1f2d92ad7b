package logging

type Category string
type SubCategory string
type ExtraKey string

const (
	General         Category = "General"
	IO              Category = "IO"
	Internal        Category = "Internal"
	Redis           Category = "Redis"
	RabbitMQ        Category = "RabbitMQ"
	Postgres        Category = "Postgres"
	Mongo           Category = "Mongo"
	Validation      Category = "Validation"
	RequestResponse Category = "RequestResponse"
	Prometheus      Category = "Prometheus"
	Escrow          Category = "Escrow"
	Contract        Category = "Contract"
	Ledger          Category = "Ledger"
	Dispute         Category = "Dispute"
	Presence        Category = "Presence"
	Websocket       Category = "Websocket"
)

const (
	// General
	Startup         SubCategory = "Startup"
	Shutdown        SubCategory = "Shutdown"
	RateLimiting    SubCategory = "RateLimiting"
	ExternalService SubCategory = "ExternalService"

	// Escrow
	Action    SubCategory = "Action"
	Sweep     SubCategory = "Sweep"
	Settle    SubCategory = "Settle"
	Broadcast SubCategory = "Broadcast"
	Connect   SubCategory = "Connect"

	// Storage
	Migration SubCategory = "Migration"
	Commit    SubCategory = "Commit"
	Select    SubCategory = "Select"
	Insert    SubCategory = "Insert"
	Delete    SubCategory = "Delete"

	// Messaging
	Publish SubCategory = "Publish"
	Consume SubCategory = "Consume"

	// HTTP
	Request  SubCategory = "Request"
	Dispatch SubCategory = "Dispatch"
)

const (
	AppName      ExtraKey = "AppName"
	LoggerName   ExtraKey = "Logger"
	ClientIp     ExtraKey = "ClientIp"
	HostIp       ExtraKey = "HostIp"
	Method       ExtraKey = "Method"
	StatusCode   ExtraKey = "StatusCode"
	BodySize     ExtraKey = "BodySize"
	Path         ExtraKey = "Path"
	Latency      ExtraKey = "Latency"
	RequestBody  ExtraKey = "RequestBody"
	ResponseBody ExtraKey = "ResponseBody"
	ErrorMessage ExtraKey = "ErrorMessage"
	RoomPhrase   ExtraKey = "RoomPhrase"
	ActorID      ExtraKey = "ActorId"
	ActionType   ExtraKey = "ActionType"
	ContractID   ExtraKey = "ContractId"
	Decision     ExtraKey = "Decision"
	Count        ExtraKey = "Count"
)
