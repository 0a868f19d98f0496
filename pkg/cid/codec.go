package cid

import (
	"github.com/fxamacker/cbor/v2"
)

// encMode is Core Deterministic Encoding (RFC 8949 §4.2): sorted map keys,
// shortest integer and float forms, definite lengths only. Identical data
// always yields identical bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cid: CBOR encoder initialization failed: " + err.Error())
	}
}
