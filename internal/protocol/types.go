package protocol

import "fmt"

// ProtocolVersion is the only handshake version this client speaks.
const ProtocolVersion uint32 = 2

// MaxFragment is the default outbound fragment bound in bytes.
const MaxFragment = 65536

// Reserved operation ids.
const (
	ReservedID uint32 = 0
	SentinelID uint32 = 0xFFFFFFFF
)

// MessageType is the one-byte frame type.
type MessageType uint8

// Control messages.
const (
	MsgVersion        MessageType = 1
	MsgQuit           MessageType = 2
	MsgClose          MessageType = 3
	MsgAbortOperation MessageType = 4
)

// Key and certificate administration.
const (
	MsgAddKey                 MessageType = 10
	MsgAddCertificate         MessageType = 11
	MsgAddExtraCertificate    MessageType = 12
	MsgDeleteAllKeys          MessageType = 13
	MsgDeleteKey              MessageType = 14
	MsgDeleteKeyCertificate   MessageType = 15
	MsgDeleteExtraCertificate MessageType = 16
)

// Retrieval.
const (
	MsgListKeys              MessageType = 50
	MsgListKeyCertificates   MessageType = 51
	MsgListCertificates      MessageType = 52
	MsgListExtraCertificates MessageType = 53
)

// Operation requests.
const (
	MsgPing                         MessageType = 100
	MsgKeyOperation                 MessageType = 101
	MsgKeyOperationWithCertificate  MessageType = 102
	MsgPassphraseQuery              MessageType = 103
	MsgRandom                       MessageType = 104
	MsgKeyOperationWithSelectedCert MessageType = 105
	MsgOperationDataFragment        MessageType = 106
)

// Responses.
const (
	MsgSuccess                      MessageType = 150
	MsgFailure                      MessageType = 151
	MsgKeyList                      MessageType = 152
	MsgCertificateList              MessageType = 153
	MsgKeyCertificateList           MessageType = 154
	MsgKeyOperationComplete         MessageType = 155
	MsgPassphrase                   MessageType = 156
	MsgRandomData                   MessageType = 157
	MsgVersionResponse              MessageType = 158
	MsgSelectedKeyOperationComplete MessageType = 159
	MsgFragmentReply                MessageType = 160
)

// Notifications.
const (
	MsgForwardedConnection MessageType = 200
	MsgKeyAdded            MessageType = 210
	MsgKeyDeleted          MessageType = 211
	MsgCertificateAdded    MessageType = 212
	MsgCertificateDeleted  MessageType = 213
	MsgAllKeysDeleted      MessageType = 214
	MsgLocked              MessageType = 215

	MsgExtended MessageType = 255
)

const (
	notificationFirst MessageType = 200
	notificationLast  MessageType = 250
)

// IsNotification reports whether t carries no correlation id.
func (t MessageType) IsNotification() bool {
	return t >= notificationFirst && t <= notificationLast
}

var typeNames = map[MessageType]string{
	MsgVersion:                      "version",
	MsgQuit:                         "quit",
	MsgClose:                        "close",
	MsgAbortOperation:               "abort-operation",
	MsgAddKey:                       "add-key",
	MsgAddCertificate:               "add-certificate",
	MsgAddExtraCertificate:          "add-extra-certificate",
	MsgDeleteAllKeys:                "delete-all-keys",
	MsgDeleteKey:                    "delete-key",
	MsgDeleteKeyCertificate:         "delete-key-certificate",
	MsgDeleteExtraCertificate:       "delete-extra-certificate",
	MsgListKeys:                     "list-keys",
	MsgListKeyCertificates:          "list-key-certificates",
	MsgListCertificates:             "list-certificates",
	MsgListExtraCertificates:        "list-extra-certificates",
	MsgPing:                         "ping",
	MsgKeyOperation:                 "key-operation",
	MsgKeyOperationWithCertificate:  "key-operation-with-certificate",
	MsgPassphraseQuery:              "passphrase-query",
	MsgRandom:                       "random",
	MsgKeyOperationWithSelectedCert: "key-operation-with-selected-certificate",
	MsgOperationDataFragment:        "operation-data-fragment",
	MsgSuccess:                      "success",
	MsgFailure:                      "failure",
	MsgKeyList:                      "key-list",
	MsgCertificateList:              "certificate-list",
	MsgKeyCertificateList:           "key-certificate-list",
	MsgKeyOperationComplete:         "key-operation-complete",
	MsgPassphrase:                   "passphrase",
	MsgRandomData:                   "random-data",
	MsgVersionResponse:              "version-response",
	MsgSelectedKeyOperationComplete: "selected-key-operation-complete",
	MsgFragmentReply:                "fragment-reply",
	MsgForwardedConnection:          "forwarded-connection",
	MsgKeyAdded:                     "key-added",
	MsgKeyDeleted:                   "key-deleted",
	MsgCertificateAdded:             "certificate-added",
	MsgCertificateDeleted:           "certificate-deleted",
	MsgAllKeysDeleted:               "all-keys-deleted",
	MsgLocked:                       "locked",
	MsgExtended:                     "extended",
}

func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}
