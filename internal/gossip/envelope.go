// Package gossip implements the WebSocket peer protocol spec.md §4.10
// and §6 describe: a symmetric `[counter, body]` envelope with
// even/odd counter parity, a peer lifecycle state machine, and the
// query/index/fetch/block/transaction/error/passive/forget message
// exchange that keeps nodes converged on the same chain.
package gossip

import (
	"encoding/json"
	"fmt"
)

// Tag names a gossip message's body shape (spec.md §4.10's "t" field).
type Tag string

const (
	TagQuery       Tag = "query"
	TagIndex       Tag = "index"
	TagFetch       Tag = "fetch"
	TagBlock       Tag = "block"
	TagTransaction Tag = "transaction"
	TagError       Tag = "error"
	TagPassive     Tag = "passive"
	TagForget      Tag = "forget"
)

// envelope is the wire form of a gossip message: a JSON array of
// length 2, `[counter, body]`. body always carries its own "t" field
// naming which of the structs below it decodes into.
type envelope struct {
	Counter uint64
	Body    json.RawMessage
}

func (e envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{e.Counter, json.RawMessage(e.Body)})
}

func (e *envelope) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("gossip: malformed envelope: %w", err)
	}
	if err := json.Unmarshal(raw[0], &e.Counter); err != nil {
		return fmt.Errorf("gossip: malformed envelope counter: %w", err)
	}
	e.Body = raw[1]
	return nil
}

// taggedBody is embedded into every message struct so the "t"
// discriminator travels with the value instead of being bolted on at
// encode time.
type taggedBody struct {
	Tag Tag `json:"t"`
}

// QueryBody is the empty request that asks a peer for its index.
type QueryBody struct {
	taggedBody
}

// NewQueryBody builds a query request.
func NewQueryBody() QueryBody { return QueryBody{taggedBody{Tag: TagQuery}} }

// IndexBody is a peer's self-description, returned in reply to query.
type IndexBody struct {
	taggedBody
	Genesis string   `json:"genesis"`
	Highest string   `json:"highest"`
	Height  uint64   `json:"height"`
	Peers   []string `json:"peers"`
}

// NewIndexBody builds an index reply.
func NewIndexBody(genesis, highest string, height uint64, peers []string) IndexBody {
	return IndexBody{taggedBody{Tag: TagIndex}, genesis, highest, height, peers}
}

// FetchBody requests the block with the given hash.
type FetchBody struct {
	taggedBody
	Hash string `json:"hash"`
}

// NewFetchBody builds a fetch request for hash.
func NewFetchBody(hash string) FetchBody { return FetchBody{taggedBody{Tag: TagFetch}, hash} }

// BlockBody carries a single block, as a request (in answer to fetch)
// or unsolicited (freshly mined or received from another peer).
type BlockBody struct {
	taggedBody
	Block wireBlock `json:"block"`
}

// NewBlockBody wraps a wire block for transmission.
func NewBlockBody(b wireBlock) BlockBody { return BlockBody{taggedBody{Tag: TagBlock}, b} }

// TransactionBody carries a single signed transaction, always
// unsolicited.
type TransactionBody struct {
	taggedBody
	Tx wireTransaction `json:"tx"`
}

// NewTransactionBody wraps a wire transaction for transmission.
func NewTransactionBody(tx wireTransaction) TransactionBody {
	return TransactionBody{taggedBody{Tag: TagTransaction}, tx}
}

// ErrorBody is a reply reporting that a request could not be
// satisfied.
type ErrorBody struct {
	taggedBody
	Message string `json:"message"`
}

// NewErrorBody builds an error reply.
func NewErrorBody(message string) ErrorBody { return ErrorBody{taggedBody{Tag: TagError}, message} }

// PassiveBody replies to query saying the peer will not answer one
// (it is itself still bootstrapping, for instance).
type PassiveBody struct {
	taggedBody
}

// NewPassiveBody builds a passive reply.
func NewPassiveBody() PassiveBody { return PassiveBody{taggedBody{Tag: TagPassive}} }

// ForgetBody asks the receiving side to forget this peer and close the
// session — spec.md §4.10 names the message; what receiving it does
// is left to the implementation. Receiving it (session.go) closes the
// connection and detaches the peer to "disconnected"; the peer stays in
// the Manager's peer table and in persisted storage.
type ForgetBody struct {
	taggedBody
}

// NewForgetBody builds a forget notification.
func NewForgetBody() ForgetBody { return ForgetBody{taggedBody{Tag: TagForget}} }

// peekTag reads just the "t" discriminator out of a raw body without
// fully decoding it, so the session's dispatch switch knows which
// concrete struct to unmarshal into.
func peekTag(body json.RawMessage) (Tag, error) {
	var t taggedBody
	if err := json.Unmarshal(body, &t); err != nil {
		return "", fmt.Errorf("gossip: malformed message body: %w", err)
	}
	if t.Tag == "" {
		return "", fmt.Errorf("gossip: message body missing \"t\" field")
	}
	return t.Tag, nil
}

func encode(counter uint64, body interface{}) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gossip: encode message body: %w", err)
	}
	return json.Marshal(envelope{Counter: counter, Body: data})
}
