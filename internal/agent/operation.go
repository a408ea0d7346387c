package agent

import (
	"github.com/danmuck/agentlink/internal/protocol/message"
)

// Kind selects which callback signature an operation holds.
type Kind int

const (
	KindCompletion Kind = iota + 1
	KindList
	KindData
	KindDataWithCert
	KindExtension
)

func (k Kind) String() string {
	switch k {
	case KindCompletion:
		return "completion"
	case KindList:
		return "list"
	case KindData:
		return "data"
	case KindDataWithCert:
		return "data-with-cert"
	case KindExtension:
		return "extension"
	default:
		return "unknown"
	}
}

type (
	// CompletionFunc receives nil on success.
	CompletionFunc func(err error)
	// ListFunc receives entries that alias the received frame; they are
	// valid only for the duration of the call.
	ListFunc func(err error, entries []message.KeyCert)
	// DataFunc receives the result bytes of a key operation, passphrase
	// query or random request.
	DataFunc         func(err error, data []byte)
	DataWithCertFunc func(err error, result message.SelectedResult)
	ExtensionFunc    func(err error, body []byte)
)

// callback is the tagged union of caller callbacks. Exactly the field
// matching kind is set, possibly nil when the caller does not care.
type callback struct {
	kind         Kind
	completion   CompletionFunc
	list         ListFunc
	data         DataFunc
	dataWithCert DataWithCertFunc
	extension    ExtensionFunc
}

func completionCallback(fn CompletionFunc) callback {
	return callback{kind: KindCompletion, completion: fn}
}

func listCallback(fn ListFunc) callback {
	return callback{kind: KindList, list: fn}
}

func dataCallback(fn DataFunc) callback {
	return callback{kind: KindData, data: fn}
}

func dataWithCertCallback(fn DataWithCertFunc) callback {
	return callback{kind: KindDataWithCert, dataWithCert: fn}
}

func extensionCallback(fn ExtensionFunc) callback {
	return callback{kind: KindExtension, extension: fn}
}

// fail delivers err with an empty result to whichever kind is held.
func (cb callback) fail(err error) {
	switch cb.kind {
	case KindCompletion:
		if cb.completion != nil {
			cb.completion(err)
		}
	case KindList:
		if cb.list != nil {
			cb.list(err, nil)
		}
	case KindData:
		if cb.data != nil {
			cb.data(err, nil)
		}
	case KindDataWithCert:
		if cb.dataWithCert != nil {
			cb.dataWithCert(err, message.SelectedResult{})
		}
	case KindExtension:
		if cb.extension != nil {
			cb.extension(err, nil)
		}
	}
}

// Operation is one outstanding request. The handle stays valid after the
// operation completes; Abort is then a no-op.
type Operation struct {
	conn    *Conn
	id      uint32
	cb      callback
	aborted bool
	done    bool
	frag    *fragmentState
}

// ID returns the correlation id used on the wire.
func (op *Operation) ID() uint32 {
	if op == nil {
		return 0
	}
	return op.id
}

func (op *Operation) Kind() Kind {
	if op == nil {
		return 0
	}
	return op.cb.kind
}

// Aborted reports whether Abort cancelled the operation.
func (op *Operation) Aborted() bool {
	return op != nil && op.aborted
}

// Done reports whether the operation completed, failed or was aborted.
func (op *Operation) Done() bool {
	return op == nil || op.done
}

// Abort cancels the operation. Its callback is never invoked afterwards,
// even if the reply is already on its way. An abort notice is sent to the
// agent on a best-effort basis.
func (op *Operation) Abort() {
	if op == nil || op.done {
		return
	}
	op.conn.abort(op)
}
