package subscription

import (
	"encoding/json"

	graphql "github.com/graph-gophers/graphql-go"
	qerrors "github.com/graph-gophers/graphql-go/errors"
)

// Protocol is the websocket subprotocol spoken by the gateway.
const Protocol = "graphql-transport-ws"

const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

// Close codes sent by the gateway.
const (
	CloseGoingAway         = 1001
	CloseInvalidMessage    = 4400
	CloseUnauthorized      = 4401
	CloseInitTimeout       = 4408
	CloseSubscriberExists  = 4409
	CloseTooManyInitialise = 4429
	CloseBadSubprotocol    = 4406
)

type inbound struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outbound struct {
	ID      string      `json:"id,omitempty"`
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

func nextMessage(id string, resp *graphql.Response) outbound {
	return outbound{ID: id, Type: msgNext, Payload: resp}
}

func errorMessage(id string, errs []*qerrors.QueryError) outbound {
	return outbound{ID: id, Type: msgError, Payload: errs}
}

func completeMessage(id string) outbound {
	return outbound{ID: id, Type: msgComplete}
}

// errorsOnly reports whether resp failed before producing any data.
func errorsOnly(resp *graphql.Response) bool {
	if len(resp.Errors) == 0 {
		return false
	}
	data := string(resp.Data)
	return data == "" || data == "null"
}
