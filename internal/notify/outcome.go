package notify

import "fmt"

// OutcomeKind classifies the result of one delivery attempt.
type OutcomeKind int

const (
	Success OutcomeKind = iota
	AuthFailure
	ConnectionError
	MalformedMessage
	VersionMismatch
	ServerError
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case AuthFailure:
		return "auth_failure"
	case ConnectionError:
		return "connection_error"
	case MalformedMessage:
		return "malformed_message"
	case VersionMismatch:
		return "version_mismatch"
	case ServerError:
		return "server_error"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Outcome is the result of Transport.Deliver.
type Outcome struct {
	Kind OutcomeKind
	Code int   // server-side code for ServerError
	Err  error // underlying cause, if any
}

// OK reports whether the message was delivered.
func (o Outcome) OK() bool { return o.Kind == Success }

// Advice is the operator-facing log message for a failed delivery.
func (o Outcome) Advice() string {
	switch o.Kind {
	case Success:
		return "Notification delivered"
	case AuthFailure:
		return "Notification service rejected the credentials. Check the event's username, password or API key."
	case ConnectionError:
		return "Could not connect to the notification service. It will be tried again with the next alert."
	case MalformedMessage:
		return "Notification service rejected the message as malformed. Upgrade txguard."
	case VersionMismatch:
		return "Notification protocol version does not match the server. Upgrade txguard or the server."
	case ServerError:
		return fmt.Sprintf("Notification service failed with error code %d. Contact the service administrator.", o.Code)
	default:
		return fmt.Sprintf("Notification failed with unknown outcome %s", o.Kind)
	}
}

func delivered() Outcome { return Outcome{Kind: Success} }

func failed(kind OutcomeKind, err error) Outcome {
	return Outcome{Kind: kind, Err: err}
}

func serverFailed(code int, err error) Outcome {
	return Outcome{Kind: ServerError, Code: code, Err: err}
}
