package agent

import (
	"github.com/danmuck/agentlink/internal/protocol"
	"github.com/danmuck/agentlink/internal/protocol/message"
	"github.com/rs/zerolog/log"
)

// Every request method returns the new operation, or nil after delivering a
// precondition failure to the callback: ErrorFailure once the agent closed
// its side, ErrorProtocol when the connection is not running.

// AddKey stores a key pair in the agent.
func (c *Conn) AddKey(public, private message.KeyRef, description string, fn CompletionFunc) *Operation {
	op := c.start(completionCallback(fn))
	if op != nil {
		c.sendFrame(message.AddKey(op.id, public, private, description))
	}
	return op
}

// AddCertificate attaches cert to the key identified by public.
func (c *Conn) AddCertificate(public message.KeyRef, cert message.Certificate, description string, fn CompletionFunc) *Operation {
	op := c.start(completionCallback(fn))
	if op != nil {
		c.sendFrame(message.AddCertificate(op.id, public, cert, description))
	}
	return op
}

// AddExtraCertificate stores a certificate not bound to any key.
func (c *Conn) AddExtraCertificate(cert message.Certificate, description string, fn CompletionFunc) *Operation {
	op := c.start(completionCallback(fn))
	if op != nil {
		c.sendFrame(message.AddExtraCertificate(op.id, cert, description))
	}
	return op
}

func (c *Conn) DeleteAllKeys(fn CompletionFunc) *Operation {
	return c.bare(protocol.MsgDeleteAllKeys, completionCallback(fn))
}

func (c *Conn) DeleteKey(public message.KeyRef, fn CompletionFunc) *Operation {
	op := c.start(completionCallback(fn))
	if op != nil {
		c.sendFrame(message.DeleteKey(op.id, public))
	}
	return op
}

func (c *Conn) DeleteKeyCertificate(public message.KeyRef, cert message.Certificate, fn CompletionFunc) *Operation {
	op := c.start(completionCallback(fn))
	if op != nil {
		c.sendFrame(message.DeleteKeyCertificate(op.id, public, cert))
	}
	return op
}

func (c *Conn) DeleteExtraCertificate(cert message.Certificate, fn CompletionFunc) *Operation {
	op := c.start(completionCallback(fn))
	if op != nil {
		c.sendFrame(message.DeleteExtraCertificate(op.id, cert))
	}
	return op
}

func (c *Conn) ListKeys(fn ListFunc) *Operation {
	return c.bare(protocol.MsgListKeys, listCallback(fn))
}

// ListKeyCertificates lists the certificates attached to one key.
func (c *Conn) ListKeyCertificates(public message.KeyRef, fn ListFunc) *Operation {
	op := c.start(listCallback(fn))
	if op != nil {
		c.sendFrame(message.ListKeyCertificates(op.id, public))
	}
	return op
}

func (c *Conn) ListCertificates(fn ListFunc) *Operation {
	return c.bare(protocol.MsgListCertificates, listCallback(fn))
}

func (c *Conn) ListExtraCertificates(fn ListFunc) *Operation {
	return c.bare(protocol.MsgListExtraCertificates, listCallback(fn))
}

func (c *Conn) Ping(fn CompletionFunc) *Operation {
	return c.bare(protocol.MsgPing, completionCallback(fn))
}

// Quit asks the agent process to exit.
func (c *Conn) Quit(fn CompletionFunc) *Operation {
	return c.bare(protocol.MsgQuit, completionCallback(fn))
}

// KeyOperation runs the named private key operation (sign, decrypt, ...)
// with the key identified by public.
func (c *Conn) KeyOperation(public message.KeyRef, name string, data []byte, fn DataFunc) *Operation {
	return c.keyOperation(message.KeyOperation{
		Type: protocol.MsgKeyOperation,
		Key:  public,
		Name: name,
	}, data, dataCallback(fn))
}

// KeyOperationWithCertificate selects the key through one of its
// certificates.
func (c *Conn) KeyOperationWithCertificate(cert message.Certificate, name string, data []byte, fn DataFunc) *Operation {
	return c.keyOperation(message.KeyOperation{
		Type: protocol.MsgKeyOperationWithCertificate,
		Key:  message.KeyRef{Encoding: cert.Type, Blob: cert.Data},
		Name: name,
	}, data, dataCallback(fn))
}

// KeyOperationWithSelectedCertificate lets the agent pick the key from any
// of certs. The callback learns which certificate was used.
func (c *Conn) KeyOperationWithSelectedCertificate(certs []message.Certificate, name string, data []byte, fn DataWithCertFunc) *Operation {
	return c.keyOperation(message.KeyOperation{
		Type:      protocol.MsgKeyOperationWithSelectedCert,
		CertBlock: message.SelectedCertBlock(certs),
		Name:      name,
	}, data, dataWithCertCallback(fn))
}

func (c *Conn) keyOperation(k message.KeyOperation, data []byte, cb callback) *Operation {
	op := c.start(cb)
	if op != nil {
		c.sendKeyOperation(op, k, data)
	}
	return op
}

// PassphraseQuery asks the agent to obtain a passphrase, interactively if
// alwaysAsk is set or nothing is cached.
func (c *Conn) PassphraseQuery(passphraseType, program, description string, alwaysAsk bool, fn DataFunc) *Operation {
	op := c.start(dataCallback(fn))
	if op != nil {
		c.sendFrame(message.PassphraseQuery(op.id, passphraseType, program, description, alwaysAsk))
	}
	return op
}

// Random requests n random bytes from the agent.
func (c *Conn) Random(n uint32, fn DataFunc) *Operation {
	op := c.start(dataCallback(fn))
	if op != nil {
		c.sendFrame(message.Random(op.id, n))
	}
	return op
}

// Extended sends a vendor request; the reply body is passed through
// untouched.
func (c *Conn) Extended(body []byte, fn ExtensionFunc) *Operation {
	op := c.start(extensionCallback(fn))
	if op != nil {
		c.sendFrame(message.Extended(op.id, body))
	}
	return op
}

func (c *Conn) bare(t protocol.MessageType, cb callback) *Operation {
	op := c.start(cb)
	if op != nil {
		c.sendFrame(message.Bare(t, op.id))
	}
	return op
}

// ForwardingNotice tells the agent that this client forwards its
// connection, appending one hop to pairs, the {count, pairs...} list the
// client received from its own upstream. A malformed list is fatal.
func (c *Conn) ForwardingNotice(pairs []byte, command, host, ip, port string) {
	if c == nil || c.state != StateRunning {
		return
	}
	f, err := message.ForwardingNotice(pairs, command, host, ip, port)
	if err != nil {
		log.Warn().Err(err).Msg("agent.Conn forwarding notice")
		c.fatal(protocol.ErrorProtocol)
		return
	}
	c.sendFrame(f)
}
