package message

import (
	"github.com/Mindburn-Labs/dwn-core/pkg/cid"
)

// CID returns the content identifier of the message: the CID of its
// descriptor. Signatures do not participate.
func CID(m *Message) (string, error) {
	return cid.Compute(m.Descriptor)
}

// MustCID is CID for descriptors already known to be well formed. A
// descriptor that reached storage always encodes, so a failure here is a
// programming error.
func MustCID(m *Message) string {
	c, err := CID(m)
	if err != nil {
		panic("message: descriptor cannot be encoded: " + err.Error())
	}
	return c
}

type entryInput struct {
	Descriptor
	Author string `json:"author"`
}

// EntryID is the identifier of a RecordsWrite as an initial write: the CID
// of its descriptor together with its logical author. It becomes the
// recordId of the whole record.
func EntryID(d Descriptor, author string) (string, error) {
	return cid.Compute(entryInput{Descriptor: d, Author: author})
}

// IsInitialWrite reports whether m is the write that created its record.
func IsInitialWrite(m *Message) (bool, error) {
	if m.Kind() != KindRecordsWrite {
		return false, nil
	}
	author, err := Author(m)
	if err != nil {
		return false, err
	}
	entryID, err := EntryID(m.Descriptor, author)
	if err != nil {
		return false, err
	}
	return entryID == m.RecordID, nil
}

// ChildContextID derives the contextId of a protocol record from its
// parent's contextId. Root records use their own recordId.
func ChildContextID(parentContextID, recordID string) string {
	if parentContextID == "" {
		return recordID
	}
	return parentContextID + "/" + recordID
}
