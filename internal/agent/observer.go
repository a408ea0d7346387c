package agent

import (
	"github.com/danmuck/agentlink/internal/protocol"
	"github.com/danmuck/agentlink/internal/protocol/message"
)

// Observer receives engine events on the control thread. Implementations
// must not call back into the connection.
type Observer interface {
	FrameSent(t protocol.MessageType, size int)
	FrameReceived(t protocol.MessageType, size int)
	OperationStarted(k Kind)
	OperationFinished(k Kind, code protocol.ErrorCode)
	OperationAborted(k Kind)
	ConnectionClosed(code protocol.ErrorCode)
}

type nopObserver struct{}

func (nopObserver) FrameSent(protocol.MessageType, int)        {}
func (nopObserver) FrameReceived(protocol.MessageType, int)    {}
func (nopObserver) OperationStarted(Kind)                      {}
func (nopObserver) OperationFinished(Kind, protocol.ErrorCode) {}
func (nopObserver) OperationAborted(Kind)                      {}
func (nopObserver) ConnectionClosed(protocol.ErrorCode)        {}

// observed wraps every callback slot so obs sees the terminal result even
// when the caller passed nil.
func (cb callback) observed(obs Observer) callback {
	k := cb.kind
	switch k {
	case KindCompletion:
		fn := cb.completion
		cb.completion = func(err error) {
			obs.OperationFinished(k, protocol.CodeOf(err))
			if fn != nil {
				fn(err)
			}
		}
	case KindList:
		fn := cb.list
		cb.list = func(err error, entries []message.KeyCert) {
			obs.OperationFinished(k, protocol.CodeOf(err))
			if fn != nil {
				fn(err, entries)
			}
		}
	case KindData:
		fn := cb.data
		cb.data = func(err error, data []byte) {
			obs.OperationFinished(k, protocol.CodeOf(err))
			if fn != nil {
				fn(err, data)
			}
		}
	case KindDataWithCert:
		fn := cb.dataWithCert
		cb.dataWithCert = func(err error, r message.SelectedResult) {
			obs.OperationFinished(k, protocol.CodeOf(err))
			if fn != nil {
				fn(err, r)
			}
		}
	case KindExtension:
		fn := cb.extension
		cb.extension = func(err error, body []byte) {
			obs.OperationFinished(k, protocol.CodeOf(err))
			if fn != nil {
				fn(err, body)
			}
		}
	}
	return cb
}
