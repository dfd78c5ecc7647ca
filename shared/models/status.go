package models

// StatusCode is the closed set of outcomes returned by every state-changing
// operation. UserNotExists, UserIdAlreadyExists and DifferentPassword refine
// Failure for callers that need the detail.
type StatusCode int

const (
	Success StatusCode = iota
	Failure
	ServerError
	UserNotExists
	UserIdAlreadyExists
	DifferentPassword
)

func (s StatusCode) String() string {
	switch s {
	case Success:
		return "Success"
	case Failure:
		return "Failure"
	case ServerError:
		return "ServerError"
	case UserNotExists:
		return "UserNotExists"
	case UserIdAlreadyExists:
		return "UserIdAlreadyExists"
	case DifferentPassword:
		return "DifferentPassword"
	default:
		return "Unknown"
	}
}

// FailureMessage is the caller-facing text for a non-success status.
func (s StatusCode) FailureMessage() string {
	switch s {
	case UserNotExists:
		return "User does not exist"
	case UserIdAlreadyExists:
		return "User ID already exists"
	case DifferentPassword:
		return "Password does not match"
	case ServerError:
		return GenericServerErrorMessage
	default:
		return "Request could not be completed"
	}
}

// MarshalText renders the code by name on the wire.
func (s StatusCode) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// GenericServerErrorMessage is the only text ever shown for ServerError.
const GenericServerErrorMessage = "An unexpected error occurred."

// Response is what the account and query services hand back to the transport layer.
type Response struct {
	Status  StatusCode `json:"status"`
	Message string     `json:"message"`
	Content any        `json:"content,omitempty"`
}

// NewResponse builds a response, replacing the message of a ServerError with
// the generic one so backend details never reach the caller.
func NewResponse(status StatusCode, message string, content any) Response {
	if status == ServerError {
		message = GenericServerErrorMessage
		content = nil
	}
	return Response{Status: status, Message: message, Content: content}
}
