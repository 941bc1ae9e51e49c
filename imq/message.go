package imq

// Channel is a logical channel name. The values are part of the wire
// contract between the control process and its peers.
type Channel string

const (
	// ChanCreate asks the control process for a new worker. Payload: CreateRequest.
	ChanCreate Channel = "create"
	// ChanCreated acknowledges ChanCreate. Payload: the worker id.
	ChanCreated Channel = "created"
	// ChanCreateFailed reports that the worker's context died before it was ready.
	// Payload: error text.
	ChanCreateFailed Channel = "create-failed"
	// ChanMessage is a generic passthrough into a context. Payload: Envelope.
	ChanMessage Channel = "message"
	// ChanExecute starts the task. Payload: execute parameters.
	ChanExecute Channel = "execute"
	// ChanClose asks a context to tear down. No payload.
	ChanClose Channel = "close"
	// ChanUpdate carries task progress to the control process.
	ChanUpdate Channel = "update"
	// ChanEnd carries the final task payload to the control process.
	ChanEnd Channel = "end"
	// ChanError carries a task error to the control process.
	ChanError Channel = "error"
)

// Role tells which side of the protocol an endpoint plays.
type Role string

const (
	RoleControl   Role = "control"
	RoleRequester Role = "requester"
	RoleContext   Role = "context"
)

// Address identifies an endpoint on a Broker.
type Address string

// ControlAddress is where the control process listens.
const ControlAddress Address = "control"

// Message is a unit of delivery between endpoints.
type Message struct {
	To        Address
	From      Address
	Channel   Channel
	WorkerID  string
	RequestID string
	Payload   interface{}
}

// CreateRequest is the payload of ChanCreate.
type CreateRequest struct {
	TaskFile string `json:"taskFile"`
	Debug    bool   `json:"debug"`
}

// Envelope is the payload of ChanMessage.
type Envelope struct {
	Channel string      `json:"channel"`
	Payload interface{} `json:"payload"`
}

// HandlerFunc handles a message delivered on a channel.
type HandlerFunc func(msg *Message)
