package client

import (
	"github.com/clustermesh/serf/serf"
	"time"
)

// QueryParam configures an outbound query dispatched through Query. It
// mirrors serf.QueryParam but carries the caller-owned channels that the
// RPC layer would otherwise stream acks/responses over.
type QueryParam struct {
	FilterNodes []string
	FilterTags  map[string]string
	RequestAck  bool
	Timeout     time.Duration
	Name        string
	Payload     []byte

	AckCh  chan<- string
	RespCh chan<- NodeResponse
}

// NodeResponse pairs a responding node's name with its payload.
type NodeResponse struct {
	From    string
	Payload []byte
}

// Query dispatches params and streams acks/responses onto the caller's
// channels until the query's deadline passes. It then sends an empty
// ack ("") and an empty NodeResponse as end markers; the channels are
// not closed.
func (c *RPCClient) Query(params *QueryParam) error {
	resp, err := c.agent.Query(params.Name, params.Payload, &serf.QueryParam{
		FilterNodes: params.FilterNodes,
		FilterTags:  params.FilterTags,
		RequestAck:  params.RequestAck,
		Timeout:     params.Timeout,
	})
	if err != nil {
		return err
	}

	go func() {
		ackCh := resp.AckCh()
		respCh := resp.ResponseCh()
		for ackCh != nil || respCh != nil {
			select {
			case a, ok := <-ackCh:
				if !ok {
					ackCh = nil
					continue
				}
				if params.AckCh != nil {
					params.AckCh <- a
				}
			case r, ok := <-respCh:
				if !ok {
					respCh = nil
					continue
				}
				if params.RespCh != nil {
					params.RespCh <- NodeResponse{From: r.From, Payload: r.Payload}
				}
			}
		}
		if params.AckCh != nil {
			params.AckCh <- ""
		}
		if params.RespCh != nil {
			params.RespCh <- NodeResponse{}
		}
	}()

	return nil
}
