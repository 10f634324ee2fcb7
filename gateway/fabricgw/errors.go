package fabricgw

import (
	gwproto "github.com/hyperledger/fabric-protos-go-apiv2/gateway"
	"google.golang.org/grpc/status"
)

// peerError keeps the per-peer chaincode messages a gateway error carries in
// its gRPC status details.
type peerError struct {
	err     error
	details []string
}

func (e *peerError) Error() string { return e.err.Error() }
func (e *peerError) Unwrap() error { return e.err }
func (e *peerError) Details() []string { return e.details }
func (e *peerError) GRPCStatus() *status.Status { return status.Convert(e.err) }

// withDetails returns err unchanged unless its status carries ErrorDetail
// messages, in which case they are exposed through gateway.DetailedError.
func withDetails(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var details []string
	for _, d := range st.Details() {
		if detail, ok := d.(*gwproto.ErrorDetail); ok && detail.GetMessage() != "" {
			details = append(details, detail.GetMessage())
		}
	}
	if len(details) == 0 {
		return err
	}
	return &peerError{err: err, details: details}
}
